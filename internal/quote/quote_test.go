package quote

import (
	"context"
	"testing"
)

func TestStubSource_Quote(t *testing.T) {
	s := NewStubSource()

	q, err := s.Quote(context.Background(), Request{
		Origin:      "POM",
		Destination: "LAE",
		DepartDate:  "2026-10-01",
		AirlinePref: "656",
		Adults:      2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Airline != "656" {
		t.Errorf("expected preferred airline 656, got %q", q.Airline)
	}
	if q.TotalFare != 1600 || q.Tax != 400 {
		t.Errorf("expected fare scaled by adults, got total=%v tax=%v", q.TotalFare, q.Tax)
	}
	if q.Route != "POM-LAE" {
		t.Errorf("unexpected route %q", q.Route)
	}
}

func TestStubSource_Defaults(t *testing.T) {
	s := NewStubSource()

	// Zero adults and no preference: one adult, default carrier.
	q, err := s.Quote(context.Background(), Request{Origin: "POM", Destination: "HGU"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Airline != "626" {
		t.Errorf("expected default carrier 626, got %q", q.Airline)
	}
	if q.TotalFare != 800 || q.Tax != 200 {
		t.Errorf("expected single-adult fare, got total=%v tax=%v", q.TotalFare, q.Tax)
	}
}
