package domain

import "time"

// Position statuses.
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Close reason codes.
const (
	CloseReasonProfitTarget = "PROFIT_TARGET"
	CloseReasonStopLoss     = "STOP_LOSS"
	CloseReasonTakeProfit   = "TAKE_PROFIT"
	CloseReasonOppositeFlow = "OPPOSITE_FLOW"
	CloseReasonSessionEnd   = "SESSION_END"
	CloseReasonOrderFailed  = "ORDER_FAILED"
)

// Position is one leveraged trade keyed to the venue it lives on. At most
// one open position per venue.
type Position struct {
	ID         string
	FlowID     string
	Venue      string
	Instrument Instrument
	Direction  Direction
	Status     string

	EntryPrice float64
	SizeUSD    float64 // notional, collateral x leverage
	Leverage   int
	StopLoss   float64 // price
	TakeProfit float64 // price
	OpenedAt   time.Time

	// Instrument carry. Zero unless the variant uses the field.
	InterestAccruedPct float64   // margin borrow cost so far, % of notional
	FundingPaidPct     float64   // perpetual funding paid so far, % of notional
	Contracts          float64   // inverse contract count
	ContractSizeUSD    float64   // inverse contract face value
	EntryNAV           float64   // leveraged token NAV at entry
	TargetLeverage     float64   // leveraged token target
	Delta              float64   // options delta at entry
	PremiumPct         float64   // options premium, % of notional
	ExpiresAt          time.Time // futures/options expiry

	// Set on close.
	ExitPrice     float64
	ClosedAt      time.Time
	CloseReason   string
	PnLPct        float64 // on collateral, fee adjusted
	PnLUSD        float64
	SignalCorrect bool // raw move agreed with the signal, fees aside
}

// Collateral is the capital actually committed to the position.
func (p Position) Collateral() float64 {
	if p.Leverage <= 0 {
		return p.SizeUSD
	}
	return p.SizeUSD / float64(p.Leverage)
}

// RawMovePct is the direction-aware price change since entry, unlevered.
func (p Position) RawMovePct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	move := (price - p.EntryPrice) / p.EntryPrice * 100
	if p.Direction == DirectionShort {
		move = -move
	}
	return move
}

// EquityPoint is one sample of the account equity curve.
type EquityPoint struct {
	At            time.Time
	Capital       float64
	OpenPositions int
}
