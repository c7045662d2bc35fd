package postgres

import (
	"context"
	"fmt"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

// FlowOutcomeStore implements storage.FlowOutcomeStore using PostgreSQL.
type FlowOutcomeStore struct {
	pool *Pool
}

// NewFlowOutcomeStore creates a new FlowOutcomeStore.
func NewFlowOutcomeStore(pool *Pool) *FlowOutcomeStore {
	return &FlowOutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FlowOutcomeStore = (*FlowOutcomeStore)(nil)

// Insert adds a new outcome. Returns ErrDuplicateKey if the id exists.
func (s *FlowOutcomeStore) Insert(ctx context.Context, o *domain.FlowOutcome) error {
	if o == nil || o.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO flow_outcomes (
			id, tx_hash, venue, flow_type, amount_btc,
			price_at_detection, detected_at,
			resolved, resolved_at, price_at_resolution,
			impact_pct, time_to_resolve_sec
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10,
			$11, $12
		)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		o.ID, o.TxHash, o.Venue, string(o.FlowType), o.AmountBTC,
		o.PriceAtDetection, o.DetectedAt,
		o.Resolved, nullableTime(o.ResolvedAt), o.PriceAtResolution,
		o.ImpactPct, o.TimeToResolveSec,
	)
	observe("insert_flow_outcome", start, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert flow outcome: %w", err)
	}
	return nil
}

// Resolve marks an outcome resolved at the given time and price. Impact and
// time-to-resolve are derived from the stored detection snapshot. Returns
// ErrNotFound if the id does not exist.
func (s *FlowOutcomeStore) Resolve(ctx context.Context, id string, resolvedAt time.Time, priceAtResolution float64) error {
	query := `
		UPDATE flow_outcomes SET
			resolved = TRUE,
			resolved_at = $2,
			price_at_resolution = $3,
			time_to_resolve_sec = EXTRACT(EPOCH FROM ($2::timestamptz - detected_at)),
			impact_pct = CASE
				WHEN price_at_detection > 0
				THEN ($3 - price_at_detection) / price_at_detection * 100
				ELSE 0
			END
		WHERE id = $1
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, resolvedAt, priceAtResolution)
	observe("resolve_flow_outcome", start, err)
	if err != nil {
		return fmt.Errorf("resolve flow outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves one outcome. Returns ErrNotFound if not exists.
func (s *FlowOutcomeStore) GetByID(ctx context.Context, id string) (*domain.FlowOutcome, error) {
	query := `
		SELECT
			id, tx_hash, venue, flow_type, amount_btc,
			price_at_detection, detected_at,
			resolved, resolved_at, price_at_resolution,
			impact_pct, time_to_resolve_sec
		FROM flow_outcomes
		WHERE id = $1
	`

	var (
		o          domain.FlowOutcome
		flowType   string
		resolvedAt *time.Time
	)
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.TxHash, &o.Venue, &flowType, &o.AmountBTC,
		&o.PriceAtDetection, &o.DetectedAt,
		&o.Resolved, &resolvedAt, &o.PriceAtResolution,
		&o.ImpactPct, &o.TimeToResolveSec,
	)
	observe("get_flow_outcome", start, err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get flow outcome by id: %w", err)
	}
	o.FlowType = domain.FlowType(flowType)
	if resolvedAt != nil {
		o.ResolvedAt = *resolvedAt
	}
	return &o, nil
}

// Aggregate rolls up outcomes matching venue and flow type with amount in
// [minAmount, maxAmount] detected at or after since. Averages cover
// resolved outcomes only.
func (s *FlowOutcomeStore) Aggregate(ctx context.Context, venue string, flowType domain.FlowType, minAmount, maxAmount float64, since time.Time) (*domain.FlowAggregate, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE resolved),
			COALESCE(AVG(time_to_resolve_sec) FILTER (WHERE resolved), 0),
			COALESCE(AVG(impact_pct) FILTER (WHERE resolved), 0)
		FROM flow_outcomes
		WHERE LOWER(venue) = LOWER($1)
		  AND flow_type = $2
		  AND amount_btc >= $3 AND amount_btc <= $4
		  AND detected_at >= $5
	`

	var agg domain.FlowAggregate
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, venue, string(flowType), minAmount, maxAmount, since).Scan(
		&agg.Total, &agg.Resolved, &agg.AvgTimeToResolveSec, &agg.AvgImpactPct,
	)
	observe("aggregate_flow_outcomes", start, err)
	if err != nil {
		return nil, fmt.Errorf("aggregate flow outcomes: %w", err)
	}
	return &agg, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
