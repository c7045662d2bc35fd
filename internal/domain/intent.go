package domain

import "time"

// TradeIntent is a fully vetted signal, ready for the ledger. It carries
// everything the ledger needs to size and place the position plus the
// evidence that produced it.
type TradeIntent struct {
	FlowID     string
	Venue      string
	Instrument Instrument
	Direction  Direction

	EntryPrice        float64 // book start price at decision time
	ExitTarget        float64 // take-profit derived from expected impact
	ExpectedProfitPct float64 // net of round-trip fees

	Impact     PriceImpact
	Prediction FlowPrediction
	CreatedAt  time.Time
}
