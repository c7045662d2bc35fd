package ledger

import (
	"strings"

	"bitcoin-flow-trader/internal/domain"
)

// Stats tracks session results. Signal accuracy (did the price move as
// predicted) and profitability (after fees and leverage) are counted
// separately since a correct signal can still lose to fees.
type Stats struct {
	TotalTrades    int
	SignalsCorrect int
	SignalsWrong   int
	Profitable     int
	Unprofitable   int

	TotalPnLUSD    float64
	CurrentCapital float64
	PeakCapital    float64
	MaxDrawdownPct float64 // fraction of peak

	PnLByVenue map[string]float64
}

// SignalWinRate is the fraction of closed trades where the price moved in
// the predicted direction.
func (s Stats) SignalWinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.SignalsCorrect) / float64(s.TotalTrades)
}

// ProfitRate is the fraction of closed trades that made money after fees.
func (s Stats) ProfitRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.Profitable) / float64(s.TotalTrades)
}

// ReturnPct is the session return over initial capital, in percent.
func (s Stats) ReturnPct(initialCapital float64) float64 {
	if initialCapital <= 0 {
		return 0
	}
	return (s.CurrentCapital - initialCapital) / initialCapital * 100
}

func (s *Stats) recordClose(p *domain.Position) {
	s.TotalTrades++
	s.TotalPnLUSD += p.PnLUSD
	s.CurrentCapital += p.PnLUSD

	if p.SignalCorrect {
		s.SignalsCorrect++
	} else {
		s.SignalsWrong++
	}
	if p.PnLUSD > 0 {
		s.Profitable++
	} else {
		s.Unprofitable++
	}

	venue := strings.ToLower(p.Venue)
	s.PnLByVenue[venue] += p.PnLUSD

	if s.CurrentCapital > s.PeakCapital {
		s.PeakCapital = s.CurrentCapital
	} else if s.PeakCapital > 0 {
		drawdown := (s.PeakCapital - s.CurrentCapital) / s.PeakCapital
		if drawdown > s.MaxDrawdownPct {
			s.MaxDrawdownPct = drawdown
		}
	}
}

func (s Stats) clone() Stats {
	out := s
	out.PnLByVenue = make(map[string]float64, len(s.PnLByVenue))
	for k, v := range s.PnLByVenue {
		out.PnLByVenue[k] = v
	}
	return out
}
