package ledger

import (
	"context"
	"math"
	"time"

	"bitcoin-flow-trader/internal/domain"
)

// closeLocked settles a position at exitPrice and removes it from the open
// set. Returns a copy of the closed position, or nil when the id is gone.
// Caller holds the mutex.
func (l *Ledger) closeLocked(ctx context.Context, id string, exitPrice float64, now time.Time, reason string) *domain.Position {
	p, ok := l.positions[id]
	if !ok {
		return nil
	}

	rawMove := p.RawMovePct(exitPrice)

	p.Status = domain.PositionClosed
	p.ExitPrice = exitPrice
	p.ClosedAt = now
	p.CloseReason = reason
	p.SignalCorrect = rawMove > 0
	p.PnLPct = settlementPct(p, exitPrice) - l.cfg.FeePct*2
	p.PnLUSD = p.Collateral() * p.PnLPct / 100

	delete(l.positions, id)
	l.stats.recordClose(p)

	if l.trades != nil {
		snapshot := *p
		if err := l.trades.MarkClosed(ctx, &snapshot); err != nil {
			// the in-memory close already happened; never roll it back
			l.logger.Printf("[ledger] persist close %s failed: %v", p.ID, err)
		}
	}
	if l.equity != nil {
		point := &domain.EquityPoint{
			At:            now,
			Capital:       l.stats.CurrentCapital,
			OpenPositions: len(l.positions),
		}
		if err := l.equity.Insert(ctx, point); err != nil {
			l.logger.Printf("[ledger] persist equity point failed: %v", err)
		}
	}

	l.logger.Printf("[ledger] closed %s %s %s @ %.2f reason=%s pnl=%.4f%% (%.2f USD)",
		p.Venue, p.Instrument, p.Direction, exitPrice, reason, p.PnLPct, p.PnLUSD)

	return clonePos(p)
}

// settlementPct is the leveraged, fee-free P&L on collateral in percent.
// Each variant settles by its own mechanics.
func settlementPct(p *domain.Position, exitPrice float64) float64 {
	rawMove := p.RawMovePct(exitPrice)

	switch p.Instrument {
	case domain.InstrumentSpot:
		return rawMove
	case domain.InstrumentMargin:
		return rawMove*float64(p.Leverage) - p.InterestAccruedPct
	case domain.InstrumentPerpetual:
		return rawMove*float64(p.Leverage) - p.FundingPaidPct
	case domain.InstrumentInverse:
		return inversePct(p, exitPrice)
	case domain.InstrumentLeveragedToken:
		return leveragedTokenPct(p, exitPrice)
	case domain.InstrumentOptions:
		return optionsPct(p, rawMove)
	default: // futures and anything new settle like a linear contract
		return rawMove * float64(p.Leverage)
	}
}

// inversePct settles BTC-margined contracts: profit accrues in BTC as
// contracts x (1/entry - 1/exit), converted to USD at the exit price.
// Contracts carry the full notional so leverage is already baked in.
func inversePct(p *domain.Position, exitPrice float64) float64 {
	if p.EntryPrice <= 0 || exitPrice <= 0 {
		return 0
	}
	face := p.ContractSizeUSD
	if face <= 0 {
		face = 1
	}
	contracts := p.Contracts
	if contracts <= 0 {
		contracts = p.SizeUSD / face
	}
	btcPnL := contracts * face * (1/p.EntryPrice - 1/exitPrice)
	if p.Direction == domain.DirectionShort {
		btcPnL = -btcPnL
	}
	usdPnL := btcPnL * exitPrice
	collateral := p.Collateral()
	if collateral <= 0 {
		return 0
	}
	return usdPnL / collateral * 100
}

// leveragedTokenPct settles on NAV change. The token embeds its leverage,
// so no position leverage is applied on top. Without a NAV feed the NAV
// is modeled as entry NAV moved by the target multiple of the price move.
func leveragedTokenPct(p *domain.Position, exitPrice float64) float64 {
	if p.EntryNAV <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	target := p.TargetLeverage
	if target <= 0 {
		target = 3
	}
	priceMove := (exitPrice - p.EntryPrice) / p.EntryPrice
	nav := p.EntryNAV * (1 + priceMove*target)
	navChangePct := (nav - p.EntryNAV) / p.EntryNAV * 100
	if p.Direction == domain.DirectionShort {
		navChangePct = -navChangePct
	}
	return navChangePct
}

// optionsPct settles delta-scaled. Premium decay is out of scope for the
// paper book, so the underlying move scaled by delta stands in for the
// premium change.
func optionsPct(p *domain.Position, rawMovePct float64) float64 {
	delta := math.Abs(p.Delta)
	if delta <= 0 {
		delta = 0.5
	}
	return rawMovePct * delta
}
