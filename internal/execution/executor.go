// Package execution is the order routing surface. The engine talks to it
// only through the Executor interface; live venue adapters and the paper
// simulator both sit behind it.
package execution

import (
	"context"
	"errors"
	"time"

	"bitcoin-flow-trader/internal/domain"
)

// Order statuses.
const (
	StatusFilled   = "filled"
	StatusRejected = "rejected"
)

// ErrExecutionFailed wraps any venue-side order failure. A failed order
// never becomes a position.
var ErrExecutionFailed = errors.New("execution failed")

// OrderRequest describes one order to place.
type OrderRequest struct {
	Venue      string
	Instrument domain.Instrument
	Direction  domain.Direction
	SizeUSD    float64 // notional
	Leverage   int
	Price      float64 // reference price; market execution fills near it
	ReduceOnly bool    // true when closing an existing position
}

// OrderResult describes the fill.
type OrderResult struct {
	OrderID     string
	FilledPrice float64
	FilledUSD   float64
	Status      string
	PlacedAt    time.Time
}

// Executor places and unwinds orders on venues.
type Executor interface {
	// PlaceOrder submits the order. A venue rejection or transport error
	// returns an error wrapping ErrExecutionFailed.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// FetchBalance returns the free quote balance on the venue.
	FetchBalance(ctx context.Context, venue string) (float64, error)
}
