package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pacific-gateway/tripbot/internal/models"
	"github.com/pacific-gateway/tripbot/internal/observability"
	"github.com/pacific-gateway/tripbot/internal/store"
)

// DefaultUserCooldown is the minimum spacing enforced between messages
// from the same user.
const DefaultUserCooldown = time.Second

// maxUserLimiters caps the per-user limiter map. When the cap is reached
// the map is reset wholesale; losing cooldown state for quiet users is
// harmless.
const maxUserLimiters = 50000

// Dispatcher takes decoded webhook events, filters out echoes, duplicates
// and rate-limited senders, and hands the survivors to the conversation
// engine. Each event is isolated: a panic in one handler is recovered and
// logged so one bad event cannot take down the delivery batch.
type Dispatcher struct {
	engine   ConversationHandler
	dedup    store.DedupRepo
	metrics  *observability.Metrics
	cooldown time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(engine ConversationHandler, dedup store.DedupRepo, metrics *observability.Metrics, cooldown time.Duration) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultUserCooldown
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Dispatcher{
		engine:   engine,
		dedup:    dedup,
		metrics:  metrics,
		cooldown: cooldown,
		limiters: make(map[string]*rate.Limiter),
	}
}

// DispatchPayload processes every messaging event in a webhook delivery.
func (d *Dispatcher) DispatchPayload(ctx context.Context, p models.WebhookPayload) {
	for _, entry := range p.Entry {
		for _, ev := range entry.Messaging {
			d.dispatchEvent(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, ev models.MessagingEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher: recovered from handler panic", "panic", r, "sender", ev.Sender.ID)
		}
	}()

	start := time.Now()
	defer func() {
		d.metrics.HandleDuration.Observe(time.Since(start).Seconds())
	}()

	userID := ev.Sender.ID
	text := ev.Text()
	if userID == "" || text == "" {
		// Malformed or echo events are dropped without a reply.
		d.metrics.DroppedEvents.WithLabelValues("malformed").Inc()
		slog.Debug("Dispatcher: dropping event without sender or text", "sender", userID)
		return
	}

	kind := "text"
	if ev.Postback != nil {
		kind = "postback"
	}
	d.metrics.InboundMessages.WithLabelValues(kind).Inc()

	if msgID := ev.MessageID(); msgID != "" && d.dedup != nil {
		fresh, err := d.dedup.RecordInbound(msgID, userID)
		if err != nil {
			slog.Error("Dispatcher: dedup check failed, processing anyway", "messageID", msgID, "error", err)
		} else if !fresh {
			d.metrics.DedupHits.Inc()
			slog.Info("Dispatcher: discarding duplicate message", "messageID", msgID, "sender", userID)
			return
		}
	}

	if !d.allow(userID) {
		d.metrics.DroppedEvents.WithLabelValues("cooldown").Inc()
		slog.Warn("Dispatcher: sender over cooldown, dropping message", "sender", userID)
		return
	}

	if err := d.engine.HandleMessage(ctx, userID, text); err != nil {
		slog.Error("Dispatcher: message handling failed", "sender", userID, "error", err)
		return
	}
	d.metrics.OutboundMessages.Inc()

	if msgID := ev.MessageID(); msgID != "" && d.dedup != nil {
		if err := d.dedup.MarkProcessed(msgID); err != nil {
			slog.Warn("Dispatcher: failed to mark message processed", "messageID", msgID, "error", err)
		}
	}
}

// allow enforces the per-user cooldown.
func (d *Dispatcher) allow(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.limiters) >= maxUserLimiters {
		d.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := d.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.cooldown), 1)
		d.limiters[userID] = lim
	}
	return lim.Allow()
}
