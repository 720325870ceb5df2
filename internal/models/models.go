// Package models defines the core data structures for tripbot.
//
// It includes the conversational session, fare quote and pricing types,
// which are shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Intent describes what the user wants out of the conversation.
type Intent string

const (
	// IntentPriceOnly collects trip details and replies with an estimate.
	IntentPriceOnly Intent = "price_only"
	// IntentBooking collects contact details and pushes the lead into the CRM.
	IntentBooking Intent = "booking"
)

// Step identifies the current position in the conversation state machine.
type Step string

const (
	StepIntent      Step = "intent"
	StepDestination Step = "destination"
	StepOrigin      Step = "origin"
	StepDepartDate  Step = "depart_date"
	StepTripType    Step = "trip_type"
	StepReturnDate  Step = "return_date"
	StepName        Step = "name"
	StepNameConfirm Step = "name_confirm"
	StepPhone       Step = "phone"
	StepTotalPax    Step = "total_pax"
	StepAdults      Step = "adults"
	StepChildren    Step = "children"
	StepInfants     Step = "infants"
	StepStudents    Step = "students"
	StepChildDOB    Step = "child_dob"
	StepInfantDOB   Step = "infant_dob"
	StepAirline     Step = "airline"
	// StepSyncPending marks a session whose CRM sync failed partway; the
	// next inbound message retries the remaining sync steps.
	StepSyncPending Step = "sync_pending"
)

// Error variables for validation failures surfaced by the state machine.
var (
	ErrInvalidDate    = errors.New("date must be in YYYY-MM-DD format")
	ErrReturnNotAfter = errors.New("return date must be after departure date")
	ErrAgeOutOfRange  = errors.New("birth date outside the allowed age range")
)

// SyncState records which CRM sync steps have completed for a session, so
// a retried sync can skip the steps that already succeeded.
type SyncState struct {
	BookingRef   string `json:"booking_ref,omitempty"`
	ContactID    string `json:"contact_id,omitempty"`
	DealID       string `json:"deal_id,omitempty"`
	NoteID       string `json:"note_id,omitempty"`
	PriceUpdated bool   `json:"price_updated,omitempty"`
}

// Session holds the mutable conversation state for one user. It is keyed
// by the opaque sender identifier supplied by the messaging transport and
// mutated exclusively by the state machine, one inbound message at a time.
type Session struct {
	UserID           string    `json:"user_id"`
	Step             Step      `json:"step"`
	Intent           Intent    `json:"intent,omitempty"`
	Origin           string    `json:"origin,omitempty"`
	Destination      string    `json:"destination,omitempty"`
	DepartDate       string    `json:"depart_date,omitempty"`
	RoundTrip        bool      `json:"round_trip,omitempty"`
	ReturnDate       string    `json:"return_date,omitempty"` // empty means one-way
	Name             string    `json:"name,omitempty"`
	NameConfirmed    bool      `json:"name_confirmed,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	TotalPax         int       `json:"total_pax,omitempty"`
	Adults           int       `json:"adults"`
	Children         int       `json:"children"`
	Infants          int       `json:"infants"`
	Students         int       `json:"students"`
	ChildBirthDates  []string  `json:"child_birth_dates,omitempty"`
	InfantBirthDates []string  `json:"infant_birth_dates,omitempty"`
	AirlinePref      string    `json:"airline_pref,omitempty"` // carrier code, empty means any
	Sync             SyncState `json:"sync"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewSession creates a fresh session positioned at the intent step.
func NewSession(userID string) *Session {
	now := time.Now()
	return &Session{
		UserID:    userID,
		Step:      StepIntent,
		Adults:    1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ToJSON serializes the session for storage and CRM audit notes.
func (s *Session) ToJSON() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FromJSON deserializes a session from its storage representation.
func (s *Session) FromJSON(data string) error {
	return json.Unmarshal([]byte(data), s)
}

// Quote carries the raw fare fields produced by the fare source. It is
// ephemeral: consumed immediately by the pricing engine, never persisted.
type Quote struct {
	Airline    string  `json:"airline"`
	TotalFare  float64 `json:"total_fare"`
	Tax        float64 `json:"tax"`
	Fee        float64 `json:"fee"`
	Route      string  `json:"route,omitempty"`
	DepartDate string  `json:"depart_date,omitempty"`
	ReturnDate string  `json:"return_date,omitempty"`
}

// PricedTicket is the enriched result of the pricing engine.
type PricedTicket struct {
	Quote
	AirlineName          string  `json:"airline_name"`
	BaseFare             float64 `json:"base_fare"`
	CommissionRate       float64 `json:"commission_rate"`
	CommissionAmount     float64 `json:"commission_amount"`
	ConvenienceFeeRate   float64 `json:"convenience_fee_rate"`
	ConvenienceFeeAmount float64 `json:"convenience_fee_amount"`
	CustomerTotal        float64 `json:"customer_total"`
	Settlement           float64 `json:"settlement"`
	AgencyRevenue        float64 `json:"agency_revenue"`
}
