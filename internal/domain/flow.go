package domain

import "time"

// FlowType classifies an on-chain movement relative to exchange wallets.
type FlowType string

const (
	// FlowDeposit is BTC moving onto an exchange (anticipated sell).
	FlowDeposit FlowType = "deposit"
	// FlowWithdrawal is BTC leaving an exchange (anticipated accumulation).
	FlowWithdrawal FlowType = "withdrawal"
)

func (f FlowType) Valid() bool {
	return f == FlowDeposit || f == FlowWithdrawal
}

// SignalDirection maps the flow to the trade side it implies.
func (f FlowType) SignalDirection() Direction {
	if f == FlowDeposit {
		return DirectionShort
	}
	return DirectionLong
}

// FlowEvent is a detected on-chain BTC movement involving exchange wallets.
type FlowEvent struct {
	ID         string        // deterministic hash of tx + venue + type
	TxHash     string        // originating transaction
	AmountBTC  float64       // flow size
	FlowType   FlowType      // deposit or withdrawal
	Venue      string        // exchange the wallet belongs to, if attributed
	Candidates []string      // alternative venue attributions, best first
	DetectedAt time.Time     // when the monitor saw the transaction
	Latency    time.Duration // broadcast-to-detection lag reported by the monitor
}

// PrimaryVenue returns the attributed venue, falling back to the first
// candidate when attribution was ambiguous.
func (e FlowEvent) PrimaryVenue() string {
	if e.Venue != "" {
		return e.Venue
	}
	if len(e.Candidates) > 0 {
		return e.Candidates[0]
	}
	return ""
}
