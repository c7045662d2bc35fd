package domain

import "math"

// PriceImpact is the result of walking a flow through an order book side.
// DropPct is positive when the walk pushes price down (sell into bids) and
// negative when it pushes price up (buy into asks).
type PriceImpact struct {
	Venue      string
	Instrument Instrument
	Direction  Direction

	StartPrice      float64 // top of the consumed side
	EndPrice        float64 // last level touched
	VWAP            float64 // volume weighted fill price
	DropPct         float64 // displacement as % of start price
	VolumeFilled    float64 // BTC absorbed by the book
	VolumeRemaining float64 // BTC the book could not absorb
	LevelsEaten     int     // levels fully or partially consumed
	TotalCost       float64 // quote currency spent on the fill

	// Variant adjustments. Zero unless the instrument sets them.
	Leverage         int     // venue leverage used for the margin cascade
	CascadeDropPct   float64 // extra displacement from margin liquidations
	EffectiveFlowBTC float64 // options: flow scaled by |delta|
	DeltaAdjustedPct float64 // options: displacement scaled by |delta|
	Contracts        float64 // inverse: flow expressed in contracts
	BasisPct         float64 // futures: basis vs spot at computation time
	LeveragedMovePct float64 // leveraged token: displacement x target leverage
}

// EffectiveImpact is the displacement figure the variant actually trades on.
func (p PriceImpact) EffectiveImpact() float64 {
	switch p.Instrument {
	case InstrumentLeveragedToken:
		return p.LeveragedMovePct
	case InstrumentOptions:
		return p.DeltaAdjustedPct
	case InstrumentMargin:
		return p.DropPct + p.CascadeDropPct
	default:
		return p.DropPct
	}
}

// IsProfitable reports whether the displacement clears round-trip fees by
// the required multiple. A walk that filled nothing is never profitable.
func (p PriceImpact) IsProfitable(feesPct, requiredMultiple float64) bool {
	if p.VolumeFilled <= 0 {
		return false
	}
	if requiredMultiple <= 0 {
		requiredMultiple = 2.0
	}
	return math.Abs(p.DropPct) >= feesPct*requiredMultiple
}

// ExpectedProfitPct is the displacement magnitude net of round-trip fees.
func (p PriceImpact) ExpectedProfitPct(feesPct float64) float64 {
	return math.Abs(p.DropPct) - feesPct*2
}

// SlippagePct is how far the average fill strayed from the touch.
func (p PriceImpact) SlippagePct() float64 {
	if p.StartPrice <= 0 {
		return 0
	}
	return math.Abs(p.VWAP-p.StartPrice) / p.StartPrice * 100
}
