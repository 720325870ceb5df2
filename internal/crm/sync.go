package crm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// Pipeline constants for new leads.
const (
	DealPipeline       = "Flight Booking"
	StageNewLead       = "New Lead"
	StageDetailsFilled = "Details Collected"
	StageLost          = "Closed Lost"
)

// DefaultBookingRefPrefix prefixes generated booking references.
const DefaultBookingRefPrefix = "ET"

// Syncer pushes a completed booking session into the CRM as a
// contact, a pipeline deal, an audit note and a priced-deal update. Each
// step records its result in the session's SyncState so a retried sync
// skips the steps that already succeeded.
type Syncer struct {
	api       API
	agentIDs  []string
	refPrefix string
}

// SyncerOpts holds configuration options for the syncer.
type SyncerOpts struct {
	API       API
	AgentIDs  []string
	RefPrefix string
}

// SyncerOption defines a configuration option for the syncer.
type SyncerOption func(*SyncerOpts)

// WithAPI sets the CRM client.
func WithAPI(api API) SyncerOption {
	return func(o *SyncerOpts) { o.API = api }
}

// WithAgentIDs sets the CRM user ids leads are assigned across.
func WithAgentIDs(ids []string) SyncerOption {
	return func(o *SyncerOpts) { o.AgentIDs = ids }
}

// WithBookingRefPrefix overrides the booking reference prefix.
func WithBookingRefPrefix(p string) SyncerOption {
	return func(o *SyncerOpts) { o.RefPrefix = p }
}

// NewSyncer creates a syncer.
func NewSyncer(opts ...SyncerOption) *Syncer {
	var cfg SyncerOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RefPrefix == "" {
		cfg.RefPrefix = DefaultBookingRefPrefix
	}
	slog.Debug("CRM syncer created", "agents", len(cfg.AgentIDs), "refPrefix", cfg.RefPrefix)
	return &Syncer{api: cfg.API, agentIDs: cfg.AgentIDs, refPrefix: cfg.RefPrefix}
}

// NewBookingRef generates a booking reference of the form
// <prefix>-YYYYMMDD-XXXX where XXXX is a random hex suffix.
func NewBookingRef(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().Format("20060102"), strings.ToUpper(hex[:4]))
}

// SplitName splits a free-form customer name into first and last parts.
// A single word becomes the family name; an empty name falls back to
// "Unknown" so the CRM's required field is always populated.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(strings.TrimSpace(name))
	switch len(parts) {
	case 0:
		return "", "Unknown"
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

// PickAgent deterministically assigns one agent id per user, so repeat
// messages from the same user land with the same agent. Returns the
// empty string when no agents are configured.
func PickAgent(userID string, agentIDs []string) string {
	if len(agentIDs) == 0 {
		return ""
	}
	var sum int
	for _, b := range []byte(userID) {
		sum += int(b)
	}
	return agentIDs[sum%len(agentIDs)]
}

// Sync runs the contact, deal, note and price-update steps for a
// completed booking session. Completed steps recorded in the session's
// SyncState are skipped, so calling Sync again after a partial failure
// resumes where the previous attempt stopped. The session is mutated in
// place; the caller persists it afterwards regardless of the outcome.
func (sy *Syncer) Sync(ctx context.Context, s *models.Session, priced []models.PricedTicket) error {
	if sy.api == nil {
		return fmt.Errorf("CRM sync attempted without a configured client")
	}

	if s.Sync.BookingRef == "" {
		s.Sync.BookingRef = NewBookingRef(sy.refPrefix)
	}

	if s.Sync.ContactID == "" {
		id, err := sy.upsertContact(ctx, s)
		if err != nil {
			return fmt.Errorf("contact sync failed: %w", err)
		}
		s.Sync.ContactID = id
	}

	if s.Sync.DealID == "" {
		id, err := sy.createDeal(ctx, s)
		if err != nil {
			return fmt.Errorf("deal sync failed: %w", err)
		}
		s.Sync.DealID = id
	}

	if s.Sync.NoteID == "" {
		id, err := sy.attachAuditNote(ctx, s)
		if err != nil {
			return fmt.Errorf("note sync failed: %w", err)
		}
		s.Sync.NoteID = id
	}

	if !s.Sync.PriceUpdated {
		if err := sy.updateDealPrice(ctx, s, priced); err != nil {
			return fmt.Errorf("price update failed: %w", err)
		}
		s.Sync.PriceUpdated = true
	}

	slog.Info("CRM sync completed", "userID", s.UserID, "bookingRef", s.Sync.BookingRef, "dealID", s.Sync.DealID)
	return nil
}

// MarkLost moves a synced deal to the lost stage. Called when a user
// cancels after a deal was created. A missing deal is a no-op.
func (sy *Syncer) MarkLost(ctx context.Context, s *models.Session) error {
	if sy.api == nil || s.Sync.DealID == "" {
		return nil
	}
	if err := sy.api.UpdateDeal(ctx, s.Sync.DealID, DealUpdate{Stage: StageLost}); err != nil {
		return fmt.Errorf("failed to mark deal lost: %w", err)
	}
	slog.Info("CRM deal marked lost", "userID", s.UserID, "dealID", s.Sync.DealID)
	return nil
}

func (sy *Syncer) upsertContact(ctx context.Context, s *models.Session) (string, error) {
	first, last := SplitName(s.Name)
	contact := Contact{FirstName: first, LastName: last, Mobile: s.Phone}

	if s.Phone != "" {
		existing, err := sy.api.FindContactByPhone(ctx, s.Phone)
		if err != nil {
			return "", err
		}
		if existing != "" {
			if err := sy.api.UpdateContact(ctx, existing, contact); err != nil {
				return "", err
			}
			slog.Debug("CRM contact matched by phone", "userID", s.UserID, "contactID", existing)
			return existing, nil
		}
	}
	return sy.api.CreateContact(ctx, contact)
}

func (sy *Syncer) createDeal(ctx context.Context, s *models.Session) (string, error) {
	name := fmt.Sprintf("%s-%s | %s | %s", s.Origin, s.Destination, s.DepartDate, s.Sync.BookingRef)
	return sy.api.CreateDeal(ctx, Deal{
		Name:        name,
		Pipeline:    DealPipeline,
		Stage:       StageNewLead,
		Description: dealDescription(s),
		ContactID:   s.Sync.ContactID,
		OwnerID:     PickAgent(s.UserID, sy.agentIDs),
	})
}

func (sy *Syncer) attachAuditNote(ctx context.Context, s *models.Session) (string, error) {
	content, err := s.ToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize session for audit note: %w", err)
	}
	title := "Chatbot session " + s.Sync.BookingRef
	return sy.api.CreateNote(ctx, s.Sync.DealID, title, content)
}

func (sy *Syncer) updateDealPrice(ctx context.Context, s *models.Session, priced []models.PricedTicket) error {
	var total float64
	var lines []string
	for _, t := range priced {
		total += t.CustomerTotal
		lines = append(lines, fmt.Sprintf("%s (%s): fare %.2f + fee %.2f = %.2f",
			t.AirlineName, t.Airline, t.TotalFare, t.ConvenienceFeeAmount, t.CustomerTotal))
	}
	desc := dealDescription(s)
	if len(lines) > 0 {
		desc += "\n\nPricing:\n" + strings.Join(lines, "\n")
	}
	return sy.api.UpdateDeal(ctx, s.Sync.DealID, DealUpdate{
		Stage:       StageDetailsFilled,
		Amount:      round2(total),
		Description: desc,
	})
}

// dealDescription renders the human-readable trip summary shown to agents.
func dealDescription(s *models.Session) string {
	tripType := "One-way"
	if s.RoundTrip {
		tripType = "Round trip"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Booking ref: %s\n", s.Sync.BookingRef)
	fmt.Fprintf(&b, "Route: %s -> %s\n", s.Origin, s.Destination)
	fmt.Fprintf(&b, "Departure: %s\n", s.DepartDate)
	fmt.Fprintf(&b, "Trip type: %s\n", tripType)
	if s.ReturnDate != "" {
		fmt.Fprintf(&b, "Return: %s\n", s.ReturnDate)
	}
	fmt.Fprintf(&b, "Passengers: %d adult(s), %d child(ren), %d infant(s), %d student(s)\n",
		s.Adults, s.Children, s.Infants, s.Students)
	if s.AirlinePref != "" {
		fmt.Fprintf(&b, "Airline preference: %s\n", s.AirlinePref)
	}
	fmt.Fprintf(&b, "Contact: %s (%s)", s.Name, s.Phone)
	return b.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
