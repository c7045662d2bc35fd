package clickhouse

import (
	"context"
	"fmt"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

// EquityCurveStore implements storage.EquityCurveStore using ClickHouse.
type EquityCurveStore struct {
	conn *Conn
}

// NewEquityCurveStore creates a new EquityCurveStore.
func NewEquityCurveStore(conn *Conn) *EquityCurveStore {
	return &EquityCurveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquityCurveStore = (*EquityCurveStore)(nil)

// Insert appends a single equity sample.
func (s *EquityCurveStore) Insert(ctx context.Context, p *domain.EquityPoint) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	return s.InsertBulk(ctx, []*domain.EquityPoint{p})
}

// InsertBulk appends multiple equity samples in one batch.
func (s *EquityCurveStore) InsertBulk(ctx context.Context, points []*domain.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}

	start := time.Now()
	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_curve (at, capital, open_positions)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if p == nil {
			return storage.ErrInvalidInput
		}
		err = batch.Append(p.At.UTC(), p.Capital, uint32(p.OpenPositions))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	err = batch.Send()
	observe("insert_equity_points", start, err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetRange retrieves samples within [start, end] (inclusive), ordered by time ASC.
func (s *EquityCurveStore) GetRange(ctx context.Context, start, end time.Time) ([]*domain.EquityPoint, error) {
	query := `
		SELECT at, capital, open_positions
		FROM equity_curve
		WHERE at >= ? AND at <= ?
		ORDER BY at ASC
	`

	began := time.Now()
	rows, err := s.conn.Query(ctx, query, start.UTC(), end.UTC())
	observe("get_equity_range", began, err)
	if err != nil {
		return nil, fmt.Errorf("query equity range: %w", err)
	}
	defer rows.Close()

	return scanEquityPoints(rows)
}

// scanEquityPoints scans multiple rows.
func scanEquityPoints(rows chRows) ([]*domain.EquityPoint, error) {
	var points []*domain.EquityPoint

	for rows.Next() {
		var p domain.EquityPoint
		var openPositions uint32

		err := rows.Scan(&p.At, &p.Capital, &openPositions)
		if err != nil {
			return nil, fmt.Errorf("scan equity row: %w", err)
		}

		p.OpenPositions = int(openPositions)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity rows: %w", err)
	}

	return points, nil
}
