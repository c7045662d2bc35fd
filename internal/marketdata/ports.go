// Package marketdata defines the external venue data surfaces the pipeline
// consumes: depth snapshots, confirmation snapshots, and the pre-trade
// safety gate. Implementations live behind these interfaces so the engine
// can run against stubs in paper mode.
package marketdata

import (
	"context"
	"errors"
	"time"

	"bitcoin-flow-trader/internal/domain"
)

// ErrNoData is returned when a venue has no snapshot to serve.
var ErrNoData = errors.New("no market data")

// BookProvider serves order book depth and last prices per venue.
type BookProvider interface {
	// FetchBook returns a depth snapshot limited to the given number of
	// levels per side. Implementations may serve a cached snapshot; the
	// caller checks FetchedAt for staleness.
	FetchBook(ctx context.Context, venue string, depth int) (*domain.OrderBook, error)

	// FetchPrice returns the venue's current BTC price.
	FetchPrice(ctx context.Context, venue string) (float64, error)
}

// Confirmer serves the market state snapshot used to cross-check a signal.
type Confirmer interface {
	Confirm(ctx context.Context, venue string, inst domain.Instrument) (*domain.MarketConfirmation, error)
}

// SafetyInput is everything the safety gate sees before a trade.
type SafetyInput struct {
	Venue               string
	Instrument          domain.Instrument
	Direction           domain.Direction
	Leverage            int
	BookPrice           float64   // book start price driving the decision
	MarkPrice           float64   // venue mark or token NAV, 0 when not applicable
	FundingRate         float64   // per 8h funding, 0 when not applicable
	BorrowRateHourlyPct float64   // hourly margin borrow rate, 0 when not applicable
	ExpectedProfitPct   float64   // net expected profit from the impact math
	ExpiresAt           time.Time // contract expiry, zero when not applicable
	Now                 time.Time
}

// SafetyGate gets the final veto after all pipeline gates pass.
type SafetyGate interface {
	// Check returns ok=false and a reason when the trade must not proceed.
	Check(ctx context.Context, in SafetyInput) (ok bool, reason string, err error)
}
