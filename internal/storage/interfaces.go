package storage

import (
	"context"
	"time"

	"bitcoin-flow-trader/internal/domain"
)

// FlowOutcomeStore persists detected flows and how they resolved. This is
// the predictor's learning substrate.
type FlowOutcomeStore interface {
	// Insert adds a new outcome. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, o *domain.FlowOutcome) error

	// Resolve marks an outcome resolved and records the resolution price.
	// Impact and time-to-resolve are derived from the stored detection
	// snapshot. Returns ErrNotFound if the id does not exist.
	Resolve(ctx context.Context, id string, resolvedAt time.Time, priceAtResolution float64) error

	// GetByID retrieves one outcome. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.FlowOutcome, error)

	// Aggregate rolls up outcomes matching venue and flow type with amount
	// in [minAmount, maxAmount] detected at or after since. Averages cover
	// resolved outcomes only.
	Aggregate(ctx context.Context, venue string, flowType domain.FlowType, minAmount, maxAmount float64, since time.Time) (*domain.FlowAggregate, error)
}

// TradeStore persists position lifecycles.
type TradeStore interface {
	// Insert adds a newly opened position. Returns ErrDuplicateKey if the
	// id exists.
	Insert(ctx context.Context, p *domain.Position) error

	// MarkClosed records the close of an open position. Returns ErrNotFound
	// if the id does not exist.
	MarkClosed(ctx context.Context, p *domain.Position) error

	// GetByID retrieves one position. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Position, error)

	// GetByVenue retrieves all positions for a venue, opened ASC.
	GetByVenue(ctx context.Context, venue string) ([]*domain.Position, error)

	// GetOpen retrieves all open positions, opened ASC.
	GetOpen(ctx context.Context) ([]*domain.Position, error)

	// Summary rolls up closed positions into session totals.
	Summary(ctx context.Context) (*TradeSummary, error)
}

// TradeSummary is the per-session roll-up of closed positions.
type TradeSummary struct {
	Trades        int
	Wins          int
	SignalCorrect int
	TotalPnLUSD   float64
	PnLByVenue    map[string]float64
}

// EquityCurveStore persists account equity samples.
type EquityCurveStore interface {
	// Insert appends one sample.
	Insert(ctx context.Context, p *domain.EquityPoint) error

	// InsertBulk appends multiple samples.
	InsertBulk(ctx context.Context, points []*domain.EquityPoint) error

	// GetRange retrieves samples within [start, end] inclusive, time ASC.
	GetRange(ctx context.Context, start, end time.Time) ([]*domain.EquityPoint, error)
}
