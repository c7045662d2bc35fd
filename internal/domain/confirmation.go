package domain

import "time"

// openInterestTolerancePct is how much the open interest may drift against
// the signal before the confirmation fails.
const openInterestTolerancePct = 5.0

// MarketConfirmation is a raw venue snapshot used to cross-check a signal
// against what the market is already doing. Agreement is derived from the
// data, never asserted by the collaborator.
type MarketConfirmation struct {
	Venue      string
	Instrument Instrument
	LastPrice  float64
	MarkPrice  float64 // venue mark, or token NAV for leveraged tokens

	Bias                  float64 // trade flow: >0 leans long, <0 leans short
	FundingRate           float64 // current funding, perp/inverse only
	OpenInterestChangePct float64 // OI drift over the lookback window
	VolumeChangePct       float64 // volume drift over the lookback window
	BorrowRateHourlyPct   float64 // hourly borrow rate, margin only

	FetchedAt time.Time
}

// Confirms reports full agreement with the given direction: the trade bias
// must lean the signal's way, funding must not favor the other side on
// perpetual and inverse contracts, and open interest must not be unwinding
// against the move on open-interest instruments.
func (m MarketConfirmation) Confirms(d Direction) bool {
	if !m.BiasAgrees(d) {
		return false
	}

	switch m.Instrument {
	case InstrumentPerpetual, InstrumentInverse:
		// positive funding means longs pay shorts
		if d == DirectionShort && m.FundingRate < 0 {
			return false
		}
		if d == DirectionLong && m.FundingRate > 0 {
			return false
		}
	}

	switch m.Instrument {
	case InstrumentPerpetual, InstrumentFutures, InstrumentInverse, InstrumentOptions:
		// falling OI is positions closing, momentum against a short;
		// rising OI is fresh positioning, momentum against a long unwind
		if d == DirectionShort && m.OpenInterestChangePct < -openInterestTolerancePct {
			return false
		}
		if d == DirectionLong && m.OpenInterestChangePct > openInterestTolerancePct {
			return false
		}
	}

	return true
}

// BiasAgrees reports weak agreement: the bias sign matches the direction.
func (m MarketConfirmation) BiasAgrees(d Direction) bool {
	if d == DirectionShort {
		return m.Bias < 0
	}
	return m.Bias > 0
}

// Pipeline gate names, in evaluation order.
const (
	GateDetection    = "detection"
	GateHistorical   = "historical"
	GateImpact       = "impact"
	GateConfirmation = "confirmation"
	GateSafety       = "safety"
)

// GateResult records one gate's verdict on a flow event. Fallback marks a
// pass granted because external data was unavailable rather than because
// the data agreed.
type GateResult struct {
	Gate     string
	Pass     bool
	Fallback bool
	Reason   string
}

// Decision statuses.
const (
	DecisionAccepted      = "accepted"
	DecisionRejected      = "rejected"
	DecisionSafetyBlocked = "safety_blocked"
)

// Decision is the pipeline's full verdict on one flow event: every gate
// that ran, in order, plus the intent when all gates passed.
type Decision struct {
	FlowID    string
	Status    string
	Gates     []GateResult
	Intent    *TradeIntent // nil unless accepted
	DecidedAt time.Time
}

// RejectedAt returns the gate that stopped the flow, or "" when accepted.
func (d Decision) RejectedAt() string {
	for _, g := range d.Gates {
		if !g.Pass {
			return g.Gate
		}
	}
	return ""
}
