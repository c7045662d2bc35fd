package impact

import (
	"math"
	"testing"

	"bitcoin-flow-trader/internal/domain"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func sampleBids() []domain.BookLevel {
	return []domain.BookLevel{
		{Price: 87000, Quantity: 10},
		{Price: 86950, Quantity: 15},
		{Price: 86900, Quantity: 20},
		{Price: 86850, Quantity: 25},
	}
}

func TestComputeSellWalk(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentPerpetual, Params{})

	if imp.StartPrice != 87000 {
		t.Errorf("start = %v, want 87000", imp.StartPrice)
	}
	if imp.EndPrice != 86850 {
		t.Errorf("end = %v, want 86850", imp.EndPrice)
	}
	// 10@87000 + 15@86950 + 20@86900 + 5@86850 over 50 BTC
	if !almostEqual(imp.VWAP, 86930, 1e-6) {
		t.Errorf("vwap = %v, want 86930", imp.VWAP)
	}
	wantDrop := (87000.0 - 86850.0) / 87000.0 * 100
	if !almostEqual(imp.DropPct, wantDrop, 1e-9) {
		t.Errorf("drop = %v, want %v", imp.DropPct, wantDrop)
	}
	if imp.VolumeFilled != 50 || imp.VolumeRemaining != 0 {
		t.Errorf("filled/remaining = %v/%v, want 50/0", imp.VolumeFilled, imp.VolumeRemaining)
	}
	if imp.LevelsEaten != 4 {
		t.Errorf("levels = %d, want 4", imp.LevelsEaten)
	}
}

func TestComputeVWAPBounds(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentPerpetual, Params{})
	if imp.VWAP > imp.StartPrice || imp.VWAP < imp.EndPrice {
		t.Fatalf("vwap %v outside [%v, %v]", imp.VWAP, imp.EndPrice, imp.StartPrice)
	}
}

func TestComputeBuyWalkNegativeDrop(t *testing.T) {
	asks := []domain.BookLevel{
		{Price: 87050, Quantity: 10},
		{Price: 87100, Quantity: 20},
	}
	imp := Compute(20, asks, domain.DirectionLong, domain.InstrumentPerpetual, Params{})
	if imp.DropPct >= 0 {
		t.Fatalf("drop = %v, want negative for a buy walk", imp.DropPct)
	}
	if imp.EndPrice != 87100 {
		t.Errorf("end = %v, want 87100", imp.EndPrice)
	}
}

func TestComputePartialFill(t *testing.T) {
	bids := []domain.BookLevel{{Price: 87000, Quantity: 10}}
	imp := Compute(25, bids, domain.DirectionShort, domain.InstrumentPerpetual, Params{})

	if imp.VolumeFilled != 10 {
		t.Errorf("filled = %v, want 10", imp.VolumeFilled)
	}
	if imp.VolumeRemaining != 15 {
		t.Errorf("remaining = %v, want 15", imp.VolumeRemaining)
	}
	if got := imp.VolumeFilled + imp.VolumeRemaining; got != 25 {
		t.Errorf("filled+remaining = %v, want 25", got)
	}
}

func TestComputeEmptyBook(t *testing.T) {
	imp := Compute(50, nil, domain.DirectionShort, domain.InstrumentPerpetual, Params{})
	if imp.VolumeFilled != 0 || imp.VolumeRemaining != 50 {
		t.Fatalf("filled/remaining = %v/%v, want 0/50", imp.VolumeFilled, imp.VolumeRemaining)
	}
	if imp.IsProfitable(0.05, 2) {
		t.Fatal("empty book must never be profitable")
	}
}

func TestComputeZeroFlow(t *testing.T) {
	imp := Compute(0, sampleBids(), domain.DirectionShort, domain.InstrumentSpot, Params{})
	if imp.VolumeFilled != 0 || imp.VolumeRemaining != 0 {
		t.Fatalf("filled/remaining = %v/%v, want 0/0", imp.VolumeFilled, imp.VolumeRemaining)
	}
}

func TestMarginCascade(t *testing.T) {
	// 10x margin liquidates past a 10% move; construct a book deep enough
	// to push the walk past it
	bids := []domain.BookLevel{
		{Price: 100000, Quantity: 5},
		{Price: 85000, Quantity: 5},
	}
	imp := Compute(10, bids, domain.DirectionShort, domain.InstrumentMargin, Params{Leverage: 10})
	if imp.DropPct <= 10 {
		t.Fatalf("drop = %v, expected > 10 for cascade fixture", imp.DropPct)
	}
	if !almostEqual(imp.CascadeDropPct, imp.DropPct*0.5, 1e-9) {
		t.Errorf("cascade = %v, want half of %v", imp.CascadeDropPct, imp.DropPct)
	}
	if !almostEqual(imp.EffectiveImpact(), imp.DropPct*1.5, 1e-9) {
		t.Errorf("effective = %v, want drop*1.5", imp.EffectiveImpact())
	}
}

func TestMarginNoCascadeBelowThreshold(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentMargin, Params{Leverage: 10})
	if imp.CascadeDropPct != 0 {
		t.Fatalf("cascade = %v, want 0 for small move", imp.CascadeDropPct)
	}
}

func TestOptionsDeltaScaling(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentOptions, Params{Delta: 0.5})

	if imp.EffectiveFlowBTC != 25 {
		t.Errorf("effective flow = %v, want 25", imp.EffectiveFlowBTC)
	}
	// 25 BTC eats two levels: 10@87000 + 15@86950
	if imp.EndPrice != 86950 {
		t.Errorf("end = %v, want 86950", imp.EndPrice)
	}
	if !almostEqual(imp.DeltaAdjustedPct, imp.DropPct*0.5, 1e-9) {
		t.Errorf("delta adjusted = %v, want drop*0.5", imp.DeltaAdjustedPct)
	}
	if imp.EffectiveImpact() != imp.DeltaAdjustedPct {
		t.Errorf("effective = %v, want delta adjusted", imp.EffectiveImpact())
	}
}

func TestInverseContracts(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentInverse, Params{ContractSizeUSD: 0.001})
	if imp.Contracts != 50000 {
		t.Errorf("contracts = %v, want 50000", imp.Contracts)
	}
}

func TestLeveragedTokenMove(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentLeveragedToken, Params{TargetLeverage: 3})
	if !almostEqual(imp.LeveragedMovePct, imp.DropPct*3, 1e-9) {
		t.Errorf("leveraged move = %v, want drop*3", imp.LeveragedMovePct)
	}
	if imp.EffectiveImpact() != imp.LeveragedMovePct {
		t.Errorf("effective = %v, want leveraged move", imp.EffectiveImpact())
	}
}

func TestFuturesBasisCarried(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentFutures, Params{BasisPct: 0.3})
	if imp.BasisPct != 0.3 {
		t.Errorf("basis = %v, want 0.3", imp.BasisPct)
	}
	if imp.EffectiveImpact() != imp.DropPct {
		t.Errorf("effective = %v, want base drop", imp.EffectiveImpact())
	}
}

func TestIsProfitable(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentPerpetual, Params{})
	// drop is about 0.172%; fees 0.05% at 2x clears, 0.10% at 2x does not
	if !imp.IsProfitable(0.05, 2) {
		t.Error("0.05% fees at 2x should be profitable")
	}
	if imp.IsProfitable(0.10, 2) {
		t.Error("0.10% fees at 2x should not be profitable")
	}
}

func TestExitPriceShort(t *testing.T) {
	imp := Compute(50, sampleBids(), domain.DirectionShort, domain.InstrumentPerpetual, Params{})
	entry := 87000.0
	exit := ExitPrice(entry, imp, domain.DirectionShort, 0.8)
	want := entry * (1 - imp.DropPct*0.8/100)
	if !almostEqual(exit, want, 1e-6) {
		t.Fatalf("exit = %v, want %v", exit, want)
	}
	if exit >= entry {
		t.Fatal("short exit target must be below entry")
	}
}

func TestExitPriceLong(t *testing.T) {
	asks := []domain.BookLevel{
		{Price: 87050, Quantity: 10},
		{Price: 87100, Quantity: 20},
	}
	imp := Compute(20, asks, domain.DirectionLong, domain.InstrumentPerpetual, Params{})
	entry := 87050.0
	exit := ExitPrice(entry, imp, domain.DirectionLong, 0.8)
	if exit <= entry {
		t.Fatal("long exit target must be above entry")
	}
}
