// Package observability exposes Prometheus metrics for tripbot.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	InboundMessages  *prometheus.CounterVec
	OutboundMessages prometheus.Counter
	DedupHits        prometheus.Counter
	DroppedEvents    *prometheus.CounterVec
	SyncOutcomes     *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	HandleDuration   prometheus.Histogram
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripbot_inbound_messages_total",
			Help: "Inbound webhook messages by kind (text or postback).",
		}, []string{"kind"}),
		OutboundMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripbot_outbound_messages_total",
			Help: "Outbound replies sent to users.",
		}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripbot_dedup_hits_total",
			Help: "Inbound messages discarded as duplicates.",
		}),
		DroppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripbot_dropped_events_total",
			Help: "Webhook events dropped before reaching the conversation engine.",
		}, []string{"reason"}),
		SyncOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tripbot_crm_sync_total",
			Help: "CRM sync attempts by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tripbot_active_sessions",
			Help: "Conversation sessions currently stored.",
		}),
		HandleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripbot_handle_duration_seconds",
			Help:    "Time spent handling one inbound event.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
