package safety

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/marketdata"
)

func newChecker() *Checker {
	return New(Options{Logger: log.New(io.Discard, "", 0)})
}

// midday UTC, hours away from any funding settlement
func safeUTC() time.Time {
	return time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
}

func perpInput() marketdata.SafetyInput {
	return marketdata.SafetyInput{
		Venue:             "okx",
		Instrument:        domain.InstrumentPerpetual,
		Direction:         domain.DirectionShort,
		Leverage:          20,
		BookPrice:         87000,
		MarkPrice:         87010,
		FundingRate:       0.0001,
		ExpectedProfitPct: 0.10,
		Now:               safeUTC(),
	}
}

func TestSpotAlwaysPasses(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Instrument = domain.InstrumentSpot
	in.MarkPrice = 99999 // would fail the mark check if it ran
	ok, reason, err := c.Check(context.Background(), in)
	if err != nil || !ok {
		t.Fatalf("spot: ok=%v reason=%q err=%v", ok, reason, err)
	}
}

func TestPerpetualCleanPass(t *testing.T) {
	c := newChecker()
	ok, reason, err := c.Check(context.Background(), perpInput())
	if err != nil || !ok {
		t.Fatalf("ok=%v reason=%q err=%v", ok, reason, err)
	}
}

func TestMarkDeviationRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	// 20x allows 0.5% deviation; 1% must reject
	in.MarkPrice = in.BookPrice * 1.01
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("1% mark deviation at 20x should reject")
	}
	if !strings.Contains(reason, "mark price risk") {
		t.Errorf("reason = %q", reason)
	}
}

func TestMarkDeviationScalesWithLeverage(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.MarkPrice = in.BookPrice * 1.003 // 0.3% off

	in.Leverage = 10 // tolerance 1%
	if ok, _, _ := c.Check(context.Background(), in); !ok {
		t.Fatal("0.3% deviation at 10x should pass")
	}
	in.Leverage = 100 // tolerance 0.1%
	if ok, _, _ := c.Check(context.Background(), in); ok {
		t.Fatal("0.3% deviation at 100x should reject")
	}
}

func TestFundingCostRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	// 0.01% funding x 20x = 0.2% cost against 0.10% profit
	in.FundingRate = 0.0001 * 10
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("funding cost over half the profit should reject")
	}
	if !strings.Contains(reason, "funding risk") {
		t.Errorf("reason = %q", reason)
	}
}

func TestFundingBlackoutRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Now = time.Date(2026, 3, 10, 15, 55, 0, 0, time.UTC) // 5 min to 16:00
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("5 minutes before funding should reject")
	}
	if !strings.Contains(reason, "timing risk") {
		t.Errorf("reason = %q", reason)
	}
}

func TestFuturesExpiryBuffer(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Instrument = domain.InstrumentFutures
	in.FundingRate = 0

	in.ExpiresAt = in.Now.Add(6 * time.Hour)
	if ok, _, _ := c.Check(context.Background(), in); ok {
		t.Fatal("futures 6h from expiry should reject")
	}

	in.ExpiresAt = in.Now.Add(72 * time.Hour)
	if ok, reason, _ := c.Check(context.Background(), in); !ok {
		t.Fatalf("futures 72h from expiry should pass: %s", reason)
	}
}

func TestMarginLiquidationDistanceRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Instrument = domain.InstrumentMargin

	in.Leverage = 10 // 10% to liquidation
	if ok, reason, _ := c.Check(context.Background(), in); !ok {
		t.Fatalf("10x margin should pass: %s", reason)
	}

	in.Leverage = 25 // 4% to liquidation
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("25x margin leaves under 5% to liquidation, should reject")
	}
	if !strings.Contains(reason, "liquidation risk") {
		t.Errorf("reason = %q", reason)
	}
}

func TestMarginBorrowCostRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Instrument = domain.InstrumentMargin
	in.Leverage = 5

	in.BorrowRateHourlyPct = 0.003 // 0.072%/day
	if ok, reason, _ := c.Check(context.Background(), in); !ok {
		t.Fatalf("cheap borrow should pass: %s", reason)
	}

	in.BorrowRateHourlyPct = 0.01 // 0.24%/day
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("0.24%/day borrow should reject")
	}
	if !strings.Contains(reason, "borrow cost risk") {
		t.Errorf("reason = %q", reason)
	}
}

func TestLeveragedTokenNAVPremiumRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Instrument = domain.InstrumentLeveragedToken
	in.Leverage = 3
	in.MarkPrice = 87000 // NAV

	in.BookPrice = 87200 // 0.23% premium
	if ok, reason, _ := c.Check(context.Background(), in); !ok {
		t.Fatalf("small premium should pass: %s", reason)
	}

	in.BookPrice = 88800 // 2.07% premium
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("2% NAV premium should reject")
	}
	if !strings.Contains(reason, "NAV risk") {
		t.Errorf("reason = %q", reason)
	}
}

func TestLeveragedTokenRebalanceWindowRejects(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.Instrument = domain.InstrumentLeveragedToken
	in.Leverage = 3

	in.Now = time.Date(2026, 3, 10, 23, 15, 0, 0, time.UTC) // 45 min to rebalance
	ok, reason, _ := c.Check(context.Background(), in)
	if ok {
		t.Fatal("45 minutes before the daily rebalance should reject")
	}
	if !strings.Contains(reason, "rebalance risk") {
		t.Errorf("reason = %q", reason)
	}

	in.Now = safeUTC()
	if ok, reason, _ := c.Check(context.Background(), in); !ok {
		t.Fatalf("midday should pass: %s", reason)
	}
}

func TestMissingMarkSkipsMarkCheck(t *testing.T) {
	c := newChecker()
	in := perpInput()
	in.MarkPrice = 0
	if ok, reason, _ := c.Check(context.Background(), in); !ok {
		t.Fatalf("no mark available should not reject: %s", reason)
	}
}
