package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	id, flow_id, venue, instrument, direction, status,
	entry_price, size_usd, leverage, stop_loss, take_profit, opened_at,
	interest_accrued_pct, funding_paid_pct, contracts, contract_size_usd,
	entry_nav, target_leverage, delta, premium_pct, expires_at,
	exit_price, closed_at, close_reason, pnl_pct, pnl_usd, signal_correct
`

// Insert adds a newly opened position. Returns ErrDuplicateKey if the id
// exists.
func (s *TradeStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trades (` + tradeColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23, $24, $25, $26, $27
		)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.FlowID, p.Venue, string(p.Instrument), string(p.Direction), p.Status,
		p.EntryPrice, p.SizeUSD, p.Leverage, p.StopLoss, p.TakeProfit, p.OpenedAt,
		p.InterestAccruedPct, p.FundingPaidPct, p.Contracts, p.ContractSizeUSD,
		p.EntryNAV, p.TargetLeverage, p.Delta, p.PremiumPct, nullableTime(p.ExpiresAt),
		p.ExitPrice, nullableTime(p.ClosedAt), p.CloseReason, p.PnLPct, p.PnLUSD, p.SignalCorrect,
	)
	observe("insert_trade", start, err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// MarkClosed records the close of a position. Returns ErrNotFound if the id
// does not exist.
func (s *TradeStore) MarkClosed(ctx context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE trades SET
			status = $2,
			interest_accrued_pct = $3,
			funding_paid_pct = $4,
			exit_price = $5,
			closed_at = $6,
			close_reason = $7,
			pnl_pct = $8,
			pnl_usd = $9,
			signal_correct = $10
		WHERE id = $1
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Status,
		p.InterestAccruedPct, p.FundingPaidPct,
		p.ExitPrice, nullableTime(p.ClosedAt), p.CloseReason,
		p.PnLPct, p.PnLUSD, p.SignalCorrect,
	)
	observe("mark_trade_closed", start, err)
	if err != nil {
		return fmt.Errorf("mark trade closed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves one position. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`

	start := time.Now()
	p, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	observe("get_trade", start, err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return p, nil
}

// GetByVenue retrieves all positions for a venue, opened ASC.
func (s *TradeStore) GetByVenue(ctx context.Context, venue string) ([]*domain.Position, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE LOWER(venue) = LOWER($1)
		ORDER BY opened_at ASC, id ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, venue)
	observe("get_trades_by_venue", start, err)
	if err != nil {
		return nil, fmt.Errorf("get trades by venue: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetOpen retrieves all open positions, opened ASC.
func (s *TradeStore) GetOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE status = $1
		ORDER BY opened_at ASC, id ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, domain.PositionOpen)
	observe("get_open_trades", start, err)
	if err != nil {
		return nil, fmt.Errorf("get open trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// Summary rolls up closed positions into session totals.
func (s *TradeStore) Summary(ctx context.Context) (*storage.TradeSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl_usd > 0),
			COUNT(*) FILTER (WHERE signal_correct),
			COALESCE(SUM(pnl_usd), 0)
		FROM trades
		WHERE status = $1
	`

	sum := &storage.TradeSummary{PnLByVenue: make(map[string]float64)}
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, domain.PositionClosed).Scan(
		&sum.Trades, &sum.Wins, &sum.SignalCorrect, &sum.TotalPnLUSD,
	)
	observe("trade_summary", start, err)
	if err != nil {
		return nil, fmt.Errorf("trade summary: %w", err)
	}

	venueQuery := `
		SELECT LOWER(venue), COALESCE(SUM(pnl_usd), 0)
		FROM trades
		WHERE status = $1
		GROUP BY LOWER(venue)
	`
	rows, err := s.pool.Query(ctx, venueQuery, domain.PositionClosed)
	if err != nil {
		return nil, fmt.Errorf("trade summary by venue: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var venue string
		var pnl float64
		if err := rows.Scan(&venue, &pnl); err != nil {
			return nil, fmt.Errorf("scan venue summary row: %w", err)
		}
		sum.PnLByVenue[venue] = pnl
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate venue summary rows: %w", err)
	}

	return sum, nil
}

// scanTrade scans a single row into a Position.
func scanTrade(row pgx.Row) (*domain.Position, error) {
	var (
		p          domain.Position
		instrument string
		direction  string
		expiresAt  *time.Time
		closedAt   *time.Time
	)

	err := row.Scan(
		&p.ID, &p.FlowID, &p.Venue, &instrument, &direction, &p.Status,
		&p.EntryPrice, &p.SizeUSD, &p.Leverage, &p.StopLoss, &p.TakeProfit, &p.OpenedAt,
		&p.InterestAccruedPct, &p.FundingPaidPct, &p.Contracts, &p.ContractSizeUSD,
		&p.EntryNAV, &p.TargetLeverage, &p.Delta, &p.PremiumPct, &expiresAt,
		&p.ExitPrice, &closedAt, &p.CloseReason, &p.PnLPct, &p.PnLUSD, &p.SignalCorrect,
	)
	if err != nil {
		return nil, err
	}

	p.Instrument = domain.Instrument(instrument)
	p.Direction = domain.Direction(direction)
	if expiresAt != nil {
		p.ExpiresAt = *expiresAt
	}
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	return &p, nil
}

// scanTrades scans multiple rows into a slice of Position.
func scanTrades(rows pgx.Rows) ([]*domain.Position, error) {
	var trades []*domain.Position

	for rows.Next() {
		p, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
