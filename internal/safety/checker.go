// Package safety is the final veto before a trade. Each instrument variant
// gets its own risk profile: mark price, funding schedule and contract
// expiry for derivatives, liquidation distance and borrow cost for margin,
// NAV premium and the rebalance window for leveraged tokens. At high
// leverage a small mark divergence is enough to liquidate, so the allowed
// deviation shrinks with leverage.
package safety

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/marketdata"
)

// funding settles at 00:00, 08:00 and 16:00 UTC on most venues
var fundingHoursUTC = []int{0, 8, 16}

// Checker implements marketdata.SafetyGate with per-instrument rules.
type Checker struct {
	blackout     time.Duration
	expiryBuffer time.Duration
	logger       *log.Logger
}

// Options configures Checker construction.
type Options struct {
	// FundingBlackout rejects perpetual and inverse trades this close to a
	// funding settlement. Defaults to 10 minutes.
	FundingBlackout time.Duration

	// ExpiryBuffer rejects futures and options trades this close to
	// contract expiry. Defaults to 24 hours.
	ExpiryBuffer time.Duration

	// Logger for verdicts. Defaults to log.Default().
	Logger *log.Logger
}

// New creates a Checker.
func New(opts Options) *Checker {
	if opts.FundingBlackout <= 0 {
		opts.FundingBlackout = 10 * time.Minute
	}
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Checker{
		blackout:     opts.FundingBlackout,
		expiryBuffer: opts.ExpiryBuffer,
		logger:       logger,
	}
}

// Check runs the instrument's safety profile. Spot has no derivative risk
// and always passes. Margin checks liquidation distance and borrow cost.
// Leveraged tokens check NAV premium and the daily rebalance window.
// Perpetual and inverse get the full mark, funding cost and blackout
// battery. Futures and options additionally refuse contracts near expiry.
func (c *Checker) Check(_ context.Context, in marketdata.SafetyInput) (bool, string, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	switch in.Instrument {
	case domain.InstrumentSpot:
		return true, "", nil
	case domain.InstrumentMargin:
		if reason := c.checkMargin(in); reason != "" {
			return false, reason, nil
		}
		return true, "", nil
	case domain.InstrumentLeveragedToken:
		if reason := c.checkLeveragedToken(in, now); reason != "" {
			return false, reason, nil
		}
		return true, "", nil
	}

	if reason := c.checkMark(in); reason != "" {
		return false, reason, nil
	}

	if in.Instrument == domain.InstrumentPerpetual || in.Instrument == domain.InstrumentInverse {
		if reason := c.checkFunding(in, now); reason != "" {
			return false, reason, nil
		}
	}

	if in.Instrument == domain.InstrumentFutures || in.Instrument == domain.InstrumentOptions {
		if !in.ExpiresAt.IsZero() && in.ExpiresAt.Sub(now) < c.expiryBuffer {
			return false, fmt.Sprintf("expiry risk: %s contract expires %s",
				in.Venue, in.ExpiresAt.Format(time.RFC3339)), nil
		}
	}

	return true, "", nil
}

// checkMark compares the venue mark against the book price the decision was
// made on. The tolerance is 0.1% at 100x, widening proportionally at lower
// leverage.
func (c *Checker) checkMark(in marketdata.SafetyInput) string {
	if in.MarkPrice <= 0 || in.BookPrice <= 0 {
		return ""
	}
	leverage := in.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	maxDeviation := 100.0 / float64(leverage) * 0.1
	deviation := math.Abs(in.MarkPrice-in.BookPrice) / in.BookPrice * 100
	if deviation > maxDeviation {
		return fmt.Sprintf("mark price risk: %s mark=%.0f vs book=%.0f (%.3f%% diff, max %.3f%%)",
			in.Venue, in.MarkPrice, in.BookPrice, deviation, maxDeviation)
	}
	return ""
}

// checkMargin rejects margin trades whose liquidation price is within 5%
// of entry, or whose borrow interest exceeds 0.1% per day.
func (c *Checker) checkMargin(in marketdata.SafetyInput) string {
	leverage := in.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	liqDistancePct := 100.0 / float64(leverage)
	if liqDistancePct < 5 {
		return fmt.Sprintf("liquidation risk: %s %dx leaves only %.1f%% to liquidation",
			in.Venue, leverage, liqDistancePct)
	}

	dailyInterestPct := in.BorrowRateHourlyPct * 24
	if dailyInterestPct > 0.1 {
		return fmt.Sprintf("borrow cost risk: %s interest %.4f%%/day exceeds 0.1%%/day",
			in.Venue, dailyInterestPct)
	}
	return ""
}

// checkLeveragedToken rejects when the token trades more than 1% away from
// its NAV, or inside the two hours before the daily 00:00 UTC rebalance,
// where volatility decay is worst.
func (c *Checker) checkLeveragedToken(in marketdata.SafetyInput, now time.Time) string {
	if in.MarkPrice > 0 && in.BookPrice > 0 {
		premium := (in.BookPrice - in.MarkPrice) / in.MarkPrice * 100
		if math.Abs(premium) > 1 {
			return fmt.Sprintf("NAV risk: %s trades %.2f%% from NAV %.2f",
				in.Venue, premium, in.MarkPrice)
		}
	}

	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	if until := midnight.Sub(utc); until < 2*time.Hour {
		return fmt.Sprintf("rebalance risk: %s rebalances in %.0f min", in.Venue, until.Minutes())
	}
	return ""
}

// checkFunding rejects when the levered funding cost would eat more than
// half the expected profit, or when a settlement is imminent.
func (c *Checker) checkFunding(in marketdata.SafetyInput, now time.Time) string {
	leverage := in.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	fundingCostPct := math.Abs(in.FundingRate) * 100 * float64(leverage)
	if in.ExpectedProfitPct > 0 && fundingCostPct > in.ExpectedProfitPct*0.5 {
		return fmt.Sprintf("funding risk: %s funding=%.4f%% x %dx = %.2f%% cost against %.2f%% profit",
			in.Venue, in.FundingRate*100, leverage, fundingCostPct, in.ExpectedProfitPct)
	}

	if mins, until := minutesToFunding(now); until <= c.blackout && mins >= 0 {
		return fmt.Sprintf("timing risk: %s funding in %.0f min", in.Venue, mins)
	}
	return ""
}

// minutesToFunding returns minutes until the next settlement and the same
// figure as a duration.
func minutesToFunding(now time.Time) (float64, time.Duration) {
	utc := now.UTC()
	next := time.Time{}
	for _, h := range fundingHoursUTC {
		candidate := time.Date(utc.Year(), utc.Month(), utc.Day(), h, 0, 0, 0, time.UTC)
		if !candidate.After(utc) {
			continue
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	if next.IsZero() {
		tomorrow := utc.Add(24 * time.Hour)
		next = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), fundingHoursUTC[0], 0, 0, 0, time.UTC)
	}
	d := next.Sub(utc)
	return d.Minutes(), d
}

var _ marketdata.SafetyGate = (*Checker)(nil)
