package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pacific-gateway/tripbot/internal/messaging"
	"github.com/pacific-gateway/tripbot/internal/models"
	"github.com/pacific-gateway/tripbot/internal/observability"
	"github.com/pacific-gateway/tripbot/internal/pricing"
	"github.com/pacific-gateway/tripbot/internal/quote"
	"github.com/pacific-gateway/tripbot/internal/store"
)

// Syncer pushes completed booking sessions into the CRM. Implemented by
// crm.Syncer; faked in tests.
type Syncer interface {
	Sync(ctx context.Context, s *models.Session, priced []models.PricedTicket) error
	MarkLost(ctx context.Context, s *models.Session) error
}

// Engine orchestrates the conversation: it owns session persistence,
// global commands, pricing and CRM finalization, and outbound replies.
// The per-step logic lives in Transition.
type Engine struct {
	store   store.Store
	msgSvc  messaging.Service
	syncer  Syncer
	fares   quote.FareSource
	params  pricing.Params
	metrics *observability.Metrics
}

// Opts holds configuration options for the engine.
type Opts struct {
	Store         store.Store
	Messaging     messaging.Service
	Syncer        Syncer
	Fares         quote.FareSource
	PricingParams pricing.Params
	Metrics       *observability.Metrics
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithStore sets the session store.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithMessaging sets the outbound message service.
func WithMessaging(svc messaging.Service) Option {
	return func(o *Opts) { o.Messaging = svc }
}

// WithSyncer sets the CRM sync pipeline. A nil syncer disables CRM writes.
func WithSyncer(sy Syncer) Option {
	return func(o *Opts) { o.Syncer = sy }
}

// WithFareSource sets the fare quote source.
func WithFareSource(fs quote.FareSource) Option {
	return func(o *Opts) { o.Fares = fs }
}

// WithPricingParams sets the fee and commission parameters.
func WithPricingParams(p pricing.Params) Option {
	return func(o *Opts) { o.PricingParams = p }
}

// WithMetrics sets the metrics collectors. A nil value disables counting.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// NewEngine creates a conversation engine.
func NewEngine(opts ...Option) *Engine {
	cfg := Opts{PricingParams: pricing.DefaultParams()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Fares == nil {
		cfg.Fares = quote.NewStubSource()
	}
	return &Engine{
		store:   cfg.Store,
		msgSvc:  cfg.Messaging,
		syncer:  cfg.Syncer,
		fares:   cfg.Fares,
		params:  cfg.PricingParams,
		metrics: cfg.Metrics,
	}
}

// HandleMessage processes one deduplicated inbound message for a user.
// Exactly one outbound reply is produced per accepted message.
func (e *Engine) HandleMessage(ctx context.Context, userID, text string) error {
	command := strings.ToLower(strings.TrimSpace(text))

	switch command {
	case "start", "hi", "hello":
		return e.restart(ctx, userID)
	case "cancel":
		return e.cancel(ctx, userID)
	}

	s, err := e.store.GetSession(userID)
	if err != nil {
		return fmt.Errorf("failed to load session for %s: %w", userID, err)
	}
	if s == nil {
		// First contact: greet and ask for intent without consuming the text.
		s = models.NewSession(userID)
		if err := e.store.SaveSession(*s); err != nil {
			return fmt.Errorf("failed to save new session for %s: %w", userID, err)
		}
		slog.Info("session created", "userID", userID)
		return e.send(ctx, userID, Prompt(s))
	}

	if command == "book" {
		return e.switchToBooking(ctx, s)
	}

	if s.Step == models.StepSyncPending {
		return e.finalize(ctx, s)
	}

	reply, done := Transition(s, text)
	if done {
		return e.finalize(ctx, s)
	}
	s.UpdatedAt = time.Now()
	if err := e.store.SaveSession(*s); err != nil {
		return fmt.Errorf("failed to save session for %s: %w", userID, err)
	}
	return e.send(ctx, userID, reply)
}

// restart discards any in-progress session and begins a new one.
func (e *Engine) restart(ctx context.Context, userID string) error {
	if err := e.store.DeleteSession(userID); err != nil {
		slog.Warn("failed to clear session on restart", "userID", userID, "error", err)
	}
	s := models.NewSession(userID)
	if err := e.store.SaveSession(*s); err != nil {
		return fmt.Errorf("failed to save new session for %s: %w", userID, err)
	}
	slog.Info("session restarted", "userID", userID)
	return e.send(ctx, userID, Prompt(s))
}

// cancel clears the session and marks any synced deal as lost. It always
// replies with exactly one confirmation, even when nothing was in progress.
func (e *Engine) cancel(ctx context.Context, userID string) error {
	s, err := e.store.GetSession(userID)
	if err != nil {
		slog.Warn("failed to load session on cancel", "userID", userID, "error", err)
	}
	if s != nil {
		if e.syncer != nil {
			if err := e.syncer.MarkLost(ctx, s); err != nil {
				slog.Warn("failed to mark deal lost on cancel", "userID", userID, "error", err)
			} else if s.Sync.DealID != "" {
				e.countSync("lost")
			}
		}
		if err := e.store.DeleteSession(userID); err != nil {
			slog.Warn("failed to clear session on cancel", "userID", userID, "error", err)
		}
		slog.Info("session cancelled", "userID", userID, "step", s.Step)
	}
	return e.send(ctx, userID, Reply{Text: "Your enquiry has been cancelled. Say \"hi\" any time to start a new one."})
}

// switchToBooking upgrades a price-only session to a booking. If contact
// details are missing the flow jumps to the first unfilled contact field,
// otherwise the user stays at their current step.
func (e *Engine) switchToBooking(ctx context.Context, s *models.Session) error {
	if s.Intent == models.IntentBooking {
		return e.send(ctx, s.UserID, Reply{Text: "You're already on the booking track. " + Prompt(s).Text})
	}
	s.Intent = models.IntentBooking
	if pastTripDates(s.Step) {
		switch {
		case s.Name == "":
			s.Step = models.StepName
		case !s.NameConfirmed:
			s.Step = models.StepNameConfirm
		case s.Phone == "":
			s.Step = models.StepPhone
		}
	}
	s.UpdatedAt = time.Now()
	if err := e.store.SaveSession(*s); err != nil {
		return fmt.Errorf("failed to save session for %s: %w", s.UserID, err)
	}
	slog.Info("session switched to booking", "userID", s.UserID, "step", s.Step)
	reply := Prompt(s)
	reply.Text = "Great, let's get you booked. " + reply.Text
	return e.send(ctx, s.UserID, reply)
}

// pastTripDates reports whether the step is beyond the contact branch
// point, meaning the linear flow would never reach the contact questions.
func pastTripDates(step models.Step) bool {
	switch step {
	case models.StepIntent, models.StepDestination, models.StepOrigin,
		models.StepDepartDate, models.StepTripType, models.StepReturnDate:
		return false
	}
	return true
}

// finalize prices the collected trip, records the ticket, syncs booking
// sessions into the CRM and sends the closing message. A failed CRM sync
// parks the session in the sync-pending step so the next inbound message
// retries the remaining steps.
func (e *Engine) finalize(ctx context.Context, s *models.Session) error {
	q, err := e.fares.Quote(ctx, quote.Request{
		Origin:      s.Origin,
		Destination: s.Destination,
		DepartDate:  s.DepartDate,
		ReturnDate:  s.ReturnDate,
		AirlinePref: s.AirlinePref,
		Adults:      s.Adults,
		Children:    s.Children,
		Infants:     s.Infants,
	})
	if err != nil {
		slog.Error("fare quote failed", "userID", s.UserID, "error", err)
		return e.send(ctx, s.UserID, Reply{Text: "Sorry, I couldn't fetch a fare right now. Please try again in a moment."})
	}

	priced := []models.PricedTicket{pricing.Compute(q, e.params)}

	if s.Intent == models.IntentBooking && e.syncer != nil {
		if err := e.syncer.Sync(ctx, s, priced); err != nil {
			slog.Error("CRM sync failed", "userID", s.UserID, "bookingRef", s.Sync.BookingRef, "error", err)
			e.countSync("failure")
			s.Step = models.StepSyncPending
			s.UpdatedAt = time.Now()
			if saveErr := e.store.SaveSession(*s); saveErr != nil {
				slog.Error("failed to park session for sync retry", "userID", s.UserID, "error", saveErr)
			}
			return e.send(ctx, s.UserID, Reply{Text: fmt.Sprintf(
				"We hit a snag confirming your booking. Your reference is %s — message us again shortly and we'll retry, or quote it to one of our agents.",
				s.Sync.BookingRef)})
		}
		e.countSync("success")
	}

	// Record tickets only once the session is past the point of retrying,
	// otherwise each sync retry would inflate the revenue report.
	for _, t := range priced {
		if err := e.store.AddTicket(t); err != nil {
			slog.Warn("failed to record priced ticket", "userID", s.UserID, "error", err)
		}
	}

	if err := e.store.DeleteSession(s.UserID); err != nil {
		slog.Warn("failed to clear completed session", "userID", s.UserID, "error", err)
	}
	slog.Info("session completed", "userID", s.UserID, "intent", s.Intent, "bookingRef", s.Sync.BookingRef)
	return e.send(ctx, s.UserID, closingMessage(s, priced))
}

// closingMessage renders the final confirmation or estimate.
func closingMessage(s *models.Session, priced []models.PricedTicket) Reply {
	var total float64
	for _, t := range priced {
		total += t.CustomerTotal
	}
	route := fmt.Sprintf("%s to %s on %s", s.Origin, s.Destination, s.DepartDate)
	if s.ReturnDate != "" {
		route += ", returning " + s.ReturnDate
	}
	if s.Intent == models.IntentBooking {
		return Reply{Text: fmt.Sprintf(
			"All done! Your booking reference is %s. %s for %d passenger(s), total K%.2f including our service fee. One of our agents will be in touch on %s.",
			s.Sync.BookingRef, route, s.Adults+s.Children+s.Infants+s.Students, total, s.Phone)}
	}
	return Reply{Text: fmt.Sprintf(
		"Here's your estimate: %s, %d passenger(s), total K%.2f including our service fee. Reply \"book\" to turn this into a booking.",
		route, s.Adults+s.Children+s.Infants+s.Students, total)}
}

// countSync records a CRM sync outcome when metrics are configured.
func (e *Engine) countSync(outcome string) {
	if e.metrics != nil {
		e.metrics.SyncOutcomes.WithLabelValues(outcome).Inc()
	}
}

// send delivers one reply, choosing the button template when the reply
// carries options.
func (e *Engine) send(ctx context.Context, userID string, r Reply) error {
	if r.Text == "" {
		return nil
	}
	if len(r.Options) > 0 {
		buttons := make([]messaging.Button, 0, len(r.Options))
		for _, opt := range r.Options {
			buttons = append(buttons, messaging.Button{Title: opt.Title, Payload: opt.Payload})
		}
		if err := e.msgSvc.SendButtons(ctx, userID, r.Text, buttons); err != nil {
			return fmt.Errorf("failed to send button reply to %s: %w", userID, err)
		}
		return nil
	}
	if err := e.msgSvc.SendText(ctx, userID, r.Text); err != nil {
		return fmt.Errorf("failed to send reply to %s: %w", userID, err)
	}
	return nil
}
