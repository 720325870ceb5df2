package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/pacific-gateway/tripbot/internal/models"
	"github.com/pacific-gateway/tripbot/internal/pricing"
)

// webhookHandler serves the messaging platform webhook: GET performs the
// subscription handshake, POST delivers messaging events.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// verifyWebhook answers the platform's challenge/response handshake.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token == "" || token != s.verifyToken {
		slog.Warn("Server.verifyWebhook: verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyWebhook: webhook verified")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		slog.Error("Server.verifyWebhook: failed to write challenge", "error", err)
	}
}

// receiveWebhook decodes a delivery and hands it to the dispatcher. The
// platform expects a prompt 200 regardless of per-event outcomes; event
// failures are logged by the dispatcher, never surfaced here.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var payload models.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("Server.receiveWebhook: failed to decode payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	slog.Debug("Server.receiveWebhook: delivery received", "object", payload.Object, "entries", len(payload.Entry))

	s.dispatcher.DispatchPayload(r.Context(), payload)
	s.updateSessionGauge()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("EVENT_RECEIVED", nil))
}

func (s *Server) updateSessionGauge() {
	if s.store == nil {
		return
	}
	if n, err := s.store.ActiveSessionCount(); err == nil {
		s.metrics.ActiveSessions.Set(float64(n))
	}
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}))
}

// tokenCheckHandler verifies CRM credentials on demand, so operators can
// validate a new refresh token without waiting for a booking to fail.
func (s *Server) tokenCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.crm == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("CRM is not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.crm.CheckToken(ctx); err != nil {
		slog.Error("Server.tokenCheckHandler: CRM credential check failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("CRM credential check failed: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("CRM credentials are valid", nil))
}

// pricingReportHandler summarizes all recorded tickets grouped by carrier.
func (s *Server) pricingReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Store is not configured"))
		return
	}
	tickets, err := s.store.GetTickets()
	if err != nil {
		slog.Error("Server.pricingReportHandler: failed to fetch tickets", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch tickets"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(pricing.Summarize(tickets)))
}

// pricingComputeHandler prices an ad-hoc batch of quotes with the
// service's configured fee and commission parameters. Used by agents to
// sanity-check fares without driving a conversation.
func (s *Server) pricingComputeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var quotes []models.Quote
	if err := json.NewDecoder(r.Body).Decode(&quotes); err != nil {
		slog.Warn("Server.pricingComputeHandler: failed to decode quotes", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	priced := pricing.ComputeBatch(quotes, s.params)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"tickets": priced,
		"summary": pricing.Summarize(priced),
	}))
}
