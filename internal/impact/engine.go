// Package impact computes the deterministic price displacement a BTC flow
// causes when it hits an order book. No probability, only arithmetic over
// depth levels.
package impact

import (
	"math"

	"bitcoin-flow-trader/internal/domain"
)

// Params carries the variant knobs the walk needs beyond the book itself.
// Zero values fall back to sensible defaults per variant.
type Params struct {
	Leverage        int     // margin: liquidation threshold input
	Delta           float64 // options: defaults to 0.5
	ContractSizeUSD float64 // inverse: defaults to 1
	TargetLeverage  float64 // leveraged token: defaults to 3
	BasisPct        float64 // futures: mark vs spot at computation time
}

// Compute walks flowBTC through the given side of the book and returns the
// displacement. Sell flows (short direction) eat bids and report a positive
// DropPct; buy flows eat asks and report a negative DropPct. An empty book
// or non-positive flow yields a zero result with the full flow remaining.
func Compute(flowBTC float64, levels []domain.BookLevel, dir domain.Direction, inst domain.Instrument, p Params) domain.PriceImpact {
	effectiveFlow := flowBTC
	if inst == domain.InstrumentOptions {
		delta := p.Delta
		if delta == 0 {
			delta = 0.5
		}
		effectiveFlow = flowBTC * math.Abs(delta)
	}

	out := walk(effectiveFlow, levels, dir)
	out.Instrument = inst
	out.Direction = dir

	switch inst {
	case domain.InstrumentMargin:
		out.Leverage = p.Leverage
		threshold := 100.0
		if p.Leverage > 0 {
			threshold = 100.0 / float64(p.Leverage)
		}
		// liquidation cascade adds half the base move again
		if out.DropPct > threshold {
			out.CascadeDropPct = out.DropPct * 0.5
		}
	case domain.InstrumentFutures:
		out.BasisPct = p.BasisPct
	case domain.InstrumentOptions:
		delta := p.Delta
		if delta == 0 {
			delta = 0.5
		}
		out.EffectiveFlowBTC = effectiveFlow
		out.DeltaAdjustedPct = out.DropPct * math.Abs(delta)
	case domain.InstrumentInverse:
		size := p.ContractSizeUSD
		if size <= 0 {
			size = 1
		}
		out.Contracts = flowBTC / size
	case domain.InstrumentLeveragedToken:
		target := p.TargetLeverage
		if target == 0 {
			target = 3
		}
		out.LeveragedMovePct = out.DropPct * target
	}

	return out
}

// walk consumes levels in order until the flow is absorbed or the book runs
// out. Levels must already be sorted best-first for the side being eaten.
func walk(flow float64, levels []domain.BookLevel, dir domain.Direction) domain.PriceImpact {
	if len(levels) == 0 || flow <= 0 {
		return domain.PriceImpact{VolumeRemaining: flow}
	}

	remaining := flow
	start := levels[0].Price
	end := start
	eaten := 0
	totalCost := 0.0
	totalFilled := 0.0

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		fill := math.Min(remaining, lvl.Quantity)
		totalCost += lvl.Price * fill
		totalFilled += fill
		remaining -= fill
		end = lvl.Price
		eaten++
	}

	vwap := start
	if totalFilled > 0 {
		vwap = totalCost / totalFilled
	}

	dropPct := 0.0
	if start > 0 {
		if dir == domain.DirectionShort {
			dropPct = (start - end) / start * 100
		} else {
			// buys push price up; the sign convention keeps rises negative
			dropPct = -((end - start) / start * 100)
		}
	}

	return domain.PriceImpact{
		StartPrice:      start,
		EndPrice:        end,
		VWAP:            vwap,
		DropPct:         dropPct,
		VolumeFilled:    totalFilled,
		VolumeRemaining: remaining,
		LevelsEaten:     eaten,
		TotalCost:       totalCost,
	}
}

// ExitPrice derives the take-profit target from the expected move. The
// target captures takeProfitRatio of the displacement (default 0.8), so a
// short exits above the projected bottom and a long below the projected top.
func ExitPrice(entryPrice float64, imp domain.PriceImpact, dir domain.Direction, takeProfitRatio float64) float64 {
	if takeProfitRatio <= 0 {
		takeProfitRatio = 0.8
	}
	if dir == domain.DirectionShort {
		targetDrop := imp.DropPct * takeProfitRatio
		return entryPrice * (1 - targetDrop/100)
	}
	targetRise := math.Abs(imp.DropPct) * takeProfitRatio
	return entryPrice * (1 + targetRise/100)
}
