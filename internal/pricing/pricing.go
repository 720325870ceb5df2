// Package pricing implements the agency fare pricing rules.
//
// Commission applies to the base fare only (total minus taxes and fees);
// the convenience fee is charged to the customer on top of the total and
// kept by the agency. All monetary values are rounded to 2 decimal places
// at the point of computation so repeated summation stays stable.
package pricing

import (
	"math"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// Default business parameters.
const (
	// DefaultConvenienceFeePct is the flat markup applied to every booking.
	DefaultConvenienceFeePct = 0.088
)

// Params holds the business parameters of the pricing engine.
type Params struct {
	ConvenienceFeePct float64
	// Commissions maps carrier code to commission rate on base fare.
	// Unknown carriers earn no commission.
	Commissions map[string]float64
	// AirlineNames maps carrier code to a display name for reporting.
	AirlineNames map[string]string
}

// DefaultParams returns the agency defaults: 8.8% convenience fee,
// 2.5% commission for Air Niugini (626) and 5% for PNG Air (656).
func DefaultParams() Params {
	return Params{
		ConvenienceFeePct: DefaultConvenienceFeePct,
		Commissions: map[string]float64{
			"626": 0.025,
			"656": 0.05,
		},
		AirlineNames: map[string]string{
			"626": "Air Niugini (PX)",
			"656": "PNG Air (CG)",
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Compute enriches a raw quote with the full price breakdown. It is pure
// and never fails on well-formed numeric input; missing numeric fields
// are treated as zero and unknown carrier codes earn no commission.
func Compute(q models.Quote, p Params) models.PricedTicket {
	baseFare := round2(math.Max(q.TotalFare-q.Tax-q.Fee, 0))
	rate := p.Commissions[q.Airline]
	commission := round2(baseFare * rate)
	convFee := round2(q.TotalFare * p.ConvenienceFeePct)

	name := p.AirlineNames[q.Airline]
	if name == "" {
		name = q.Airline
	}

	return models.PricedTicket{
		Quote:                q,
		AirlineName:          name,
		BaseFare:             baseFare,
		CommissionRate:       rate,
		CommissionAmount:     commission,
		ConvenienceFeeRate:   p.ConvenienceFeePct,
		ConvenienceFeeAmount: convFee,
		CustomerTotal:        round2(q.TotalFare + convFee),
		Settlement:           round2(q.TotalFare - commission),
		AgencyRevenue:        round2(commission + convFee),
	}
}

// ComputeBatch prices a batch of quotes with shared parameters.
func ComputeBatch(quotes []models.Quote, p Params) []models.PricedTicket {
	priced := make([]models.PricedTicket, 0, len(quotes))
	for _, q := range quotes {
		priced = append(priced, Compute(q, p))
	}
	return priced
}

// AirlineTotals aggregates priced tickets for a single carrier.
type AirlineTotals struct {
	Tickets        int     `json:"tickets"`
	Sales          float64 `json:"sales"`
	Tax            float64 `json:"tax"`
	Commission     float64 `json:"commission"`
	ConvenienceFee float64 `json:"conv_fee"`
	AgencyRevenue  float64 `json:"agency_rev"`
	Settlement     float64 `json:"settlement"`
}

// Summary aggregates business metrics across a batch of priced tickets.
type Summary struct {
	Tickets             int                      `json:"tickets"`
	TotalSales          float64                  `json:"total_sales"`
	TotalTax            float64                  `json:"total_tax"`
	TotalCommission     float64                  `json:"total_commission"`
	TotalConvenienceFee float64                  `json:"total_convenience_fee"`
	TotalAgencyRevenue  float64                  `json:"total_agency_revenue"`
	TotalSettlement     float64                  `json:"total_settlement"`
	ByAirline           map[string]AirlineTotals `json:"by_airline"`
}

// Summarize sums pricing fields across tickets and groups them by carrier
// code. Purely additive, for reporting.
func Summarize(tickets []models.PricedTicket) Summary {
	sum := Summary{
		Tickets:   len(tickets),
		ByAirline: make(map[string]AirlineTotals),
	}
	for _, t := range tickets {
		sum.TotalSales += t.TotalFare
		sum.TotalTax += t.Tax
		sum.TotalCommission += t.CommissionAmount
		sum.TotalConvenienceFee += t.ConvenienceFeeAmount
		sum.TotalAgencyRevenue += t.AgencyRevenue
		sum.TotalSettlement += t.Settlement

		ab := sum.ByAirline[t.Airline]
		ab.Tickets++
		ab.Sales = round2(ab.Sales + t.TotalFare)
		ab.Tax = round2(ab.Tax + t.Tax)
		ab.Commission = round2(ab.Commission + t.CommissionAmount)
		ab.ConvenienceFee = round2(ab.ConvenienceFee + t.ConvenienceFeeAmount)
		ab.AgencyRevenue = round2(ab.AgencyRevenue + t.AgencyRevenue)
		ab.Settlement = round2(ab.Settlement + t.Settlement)
		sum.ByAirline[t.Airline] = ab
	}
	sum.TotalSales = round2(sum.TotalSales)
	sum.TotalTax = round2(sum.TotalTax)
	sum.TotalCommission = round2(sum.TotalCommission)
	sum.TotalConvenienceFee = round2(sum.TotalConvenienceFee)
	sum.TotalAgencyRevenue = round2(sum.TotalAgencyRevenue)
	sum.TotalSettlement = round2(sum.TotalSettlement)
	return sum
}
