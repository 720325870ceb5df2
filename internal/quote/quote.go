// Package quote provides the fare quote source abstraction.
//
// The production source is expected to be an airline fare API; until that
// integration lands the stub source returns fixed per-adult fares so the
// rest of the pipeline can be exercised end to end.
package quote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// Request carries the trip parameters a fare lookup needs.
type Request struct {
	Origin      string
	Destination string
	DepartDate  string
	ReturnDate  string
	AirlinePref string
	Adults      int
	Children    int
	Infants     int
}

// FareSource produces a raw fare quote for a trip.
type FareSource interface {
	Quote(ctx context.Context, req Request) (models.Quote, error)
}

// Stub fare constants, per adult.
const (
	stubTotalFarePerAdult = 800.0
	stubTaxPerAdult       = 200.0
	// stubDefaultCarrier is used when the user has no airline preference.
	stubDefaultCarrier = "626"
)

// StubSource returns a fixed fare scaled by adult count.
type StubSource struct{}

// NewStubSource creates the stub fare source.
func NewStubSource() *StubSource {
	return &StubSource{}
}

// Quote returns the stub fare for the requested trip.
func (s *StubSource) Quote(ctx context.Context, req Request) (models.Quote, error) {
	adults := req.Adults
	if adults < 1 {
		adults = 1
	}
	airline := req.AirlinePref
	if airline == "" {
		airline = stubDefaultCarrier
	}

	q := models.Quote{
		Airline:    airline,
		TotalFare:  stubTotalFarePerAdult * float64(adults),
		Tax:        stubTaxPerAdult * float64(adults),
		Fee:        0,
		Route:      fmt.Sprintf("%s-%s", req.Origin, req.Destination),
		DepartDate: req.DepartDate,
		ReturnDate: req.ReturnDate,
	}
	slog.Debug("StubSource quote produced", "route", q.Route, "airline", q.Airline, "totalFare", q.TotalFare)
	return q, nil
}

// Compile-time check that StubSource implements FareSource.
var _ FareSource = (*StubSource)(nil)
