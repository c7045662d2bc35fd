// Package ledger owns position lifecycles: venue-exclusive opens, exit
// sweeps, opposite-flow closes, and session statistics. Every transition
// happens under one mutex so capital and position state never diverge.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/instrument"
	"bitcoin-flow-trader/internal/storage"
)

// ErrCannotOpen is returned when the venue already holds a position, the
// position cap is reached, or the venue is not tradeable.
var ErrCannotOpen = errors.New("cannot open position")

// Config holds the trading parameters the ledger sizes and exits with.
type Config struct {
	InitialCapital  float64 // USD
	MaxPositions    int
	PositionSizePct float64 // fraction of capital per position
	DefaultLeverage int     // capped by the instrument's maximum
	StopLossPct     float64 // fraction, e.g. 0.01
	TakeProfitPct   float64 // fraction fallback when no exit target given
	FeePct          float64 // taker fee % per side

	// MinProfitMovePct closes a position once the raw move covers fees
	// plus margin. Percent of entry price.
	MinProfitMovePct float64

	// EnforceStops additionally closes at the stop loss and take profit
	// prices during exit sweeps.
	EnforceStops bool
}

// DefaultConfig mirrors the standard paper setup.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   100,
		MaxPositions:     4,
		PositionSizePct:  0.25,
		DefaultLeverage:  20,
		StopLossPct:      0.01,
		TakeProfitPct:    0.02,
		FeePct:           0.05,
		MinProfitMovePct: 0.5,
	}
}

// Ledger tracks open positions and realized results.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	positions map[string]*domain.Position // open, keyed by id
	stats     Stats

	trades    storage.TradeStore
	equity    storage.EquityCurveStore
	tradeable func(venue string) bool
	logger    *log.Logger
	now       func() time.Time
}

// Options configures Ledger construction.
type Options struct {
	Config Config

	// Trades persists position lifecycles. Nil keeps everything in memory.
	Trades storage.TradeStore

	// Equity persists the equity curve. Nil skips recording.
	Equity storage.EquityCurveStore

	// Tradeable reports whether a venue may hold positions. Nil allows all.
	Tradeable func(venue string) bool

	// Logger defaults to log.Default().
	Logger *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a Ledger.
func New(opts Options) *Ledger {
	cfg := opts.Config
	if cfg.InitialCapital <= 0 {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tradeable := opts.Tradeable
	if tradeable == nil {
		tradeable = func(string) bool { return true }
	}
	return &Ledger{
		cfg:       cfg,
		positions: make(map[string]*domain.Position),
		stats: Stats{
			CurrentCapital: cfg.InitialCapital,
			PeakCapital:    cfg.InitialCapital,
			PnLByVenue:     make(map[string]float64),
		},
		trades:    opts.Trades,
		equity:    opts.Equity,
		tradeable: tradeable,
		logger:    logger,
		now:       now,
	}
}

// CanOpen reports whether a position may be opened on the venue: under the
// position cap, venue not already holding one, venue tradeable.
func (l *Ledger) CanOpen(venue string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canOpenLocked(venue)
}

func (l *Ledger) canOpenLocked(venue string) bool {
	if len(l.positions) >= l.cfg.MaxPositions {
		return false
	}
	for _, p := range l.positions {
		if strings.EqualFold(p.Venue, venue) {
			return false
		}
	}
	return l.tradeable(venue)
}

// OpenPosition opens a position from a vetted intent at the current price.
// Notional is current capital x position size x leverage; leverage is the
// configured default capped by the instrument. The intent's exit target
// becomes the take profit, the stop loss comes from config.
func (l *Ledger) OpenPosition(ctx context.Context, intent *domain.TradeIntent, currentPrice float64) (*domain.Position, error) {
	if intent == nil || currentPrice <= 0 {
		return nil, fmt.Errorf("open position: %w", storage.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.canOpenLocked(intent.Venue) {
		return nil, ErrCannotOpen
	}

	leverage := l.cfg.DefaultLeverage
	if maxLev := instrument.MaxLeverage(intent.Instrument); leverage > maxLev {
		leverage = maxLev
	}
	if leverage < 1 {
		leverage = 1
	}

	collateral := l.stats.CurrentCapital * l.cfg.PositionSizePct
	sizeUSD := collateral * float64(leverage)

	var stopLoss float64
	if intent.Direction == domain.DirectionShort {
		stopLoss = currentPrice * (1 + l.cfg.StopLossPct)
	} else {
		stopLoss = currentPrice * (1 - l.cfg.StopLossPct)
	}

	takeProfit := intent.ExitTarget
	if takeProfit <= 0 {
		if intent.Direction == domain.DirectionShort {
			takeProfit = currentPrice * (1 - l.cfg.TakeProfitPct)
		} else {
			takeProfit = currentPrice * (1 + l.cfg.TakeProfitPct)
		}
	}

	now := l.now()
	p := &domain.Position{
		ID:         uuid.NewString(),
		FlowID:     intent.FlowID,
		Venue:      intent.Venue,
		Instrument: intent.Instrument,
		Direction:  intent.Direction,
		Status:     domain.PositionOpen,
		EntryPrice: currentPrice,
		SizeUSD:    sizeUSD,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   now,
	}
	l.applyInstrumentFields(p, intent, now)

	l.positions[p.ID] = p

	if l.trades != nil {
		snapshot := *p
		if err := l.trades.Insert(ctx, &snapshot); err != nil {
			// in-memory state wins; the durable copy is best effort
			l.logger.Printf("[ledger] persist open %s failed: %v", p.ID, err)
		}
	}

	return clonePos(p), nil
}

// Void removes an open position without settling it. Used when the
// venue-side order never filled: the position is struck from the open set
// and the stats, leaving no trade behind.
func (l *Ledger) Void(ctx context.Context, id string) *domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[id]
	if !ok {
		return nil
	}

	p.Status = domain.PositionClosed
	p.ExitPrice = p.EntryPrice
	p.ClosedAt = l.now()
	p.CloseReason = domain.CloseReasonOrderFailed
	delete(l.positions, id)

	if l.trades != nil {
		snapshot := *p
		if err := l.trades.MarkClosed(ctx, &snapshot); err != nil {
			l.logger.Printf("[ledger] persist void %s failed: %v", p.ID, err)
		}
	}

	l.logger.Printf("[ledger] voided %s %s %s, order never filled", p.Venue, p.Instrument, p.Direction)
	return clonePos(p)
}

// applyInstrumentFields fills the variant carry fields at open.
func (l *Ledger) applyInstrumentFields(p *domain.Position, intent *domain.TradeIntent, now time.Time) {
	switch p.Instrument {
	case domain.InstrumentInverse:
		// $1 face contracts, full notional
		p.ContractSizeUSD = 1
		p.Contracts = p.SizeUSD
	case domain.InstrumentLeveragedToken:
		p.EntryNAV = p.EntryPrice
		p.TargetLeverage = 3
		if intent.Impact.LeveragedMovePct != 0 && intent.Impact.DropPct != 0 {
			p.TargetLeverage = intent.Impact.LeveragedMovePct / intent.Impact.DropPct
		}
	case domain.InstrumentOptions:
		p.Delta = 0.5
		if intent.Impact.DropPct != 0 && intent.Impact.DeltaAdjustedPct != 0 {
			p.Delta = intent.Impact.DeltaAdjustedPct / intent.Impact.DropPct
		}
	case domain.InstrumentFutures:
		// quarterly contract assumed when the venue gave no expiry
		p.ExpiresAt = now.Add(90 * 24 * time.Hour)
	}
}

// CheckExits closes every position whose raw move at currentPrice clears
// the configured minimum. With EnforceStops it also honors stop loss and
// take profit prices. Returns the closed positions.
func (l *Ledger) CheckExits(ctx context.Context, currentPrice float64, now time.Time) []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closed []*domain.Position
	for _, p := range l.snapshotLocked() {
		reason := l.exitReason(p, currentPrice)
		if reason == "" {
			continue
		}
		if cp := l.closeLocked(ctx, p.ID, currentPrice, now, reason); cp != nil {
			closed = append(closed, cp)
		}
	}
	return closed
}

func (l *Ledger) exitReason(p *domain.Position, price float64) string {
	move := p.RawMovePct(price)
	if move >= l.cfg.MinProfitMovePct {
		return domain.CloseReasonProfitTarget
	}
	if l.cfg.EnforceStops {
		if p.Direction == domain.DirectionShort {
			if price >= p.StopLoss && p.StopLoss > 0 {
				return domain.CloseReasonStopLoss
			}
			if price <= p.TakeProfit && p.TakeProfit > 0 {
				return domain.CloseReasonTakeProfit
			}
		} else {
			if price <= p.StopLoss && p.StopLoss > 0 {
				return domain.CloseReasonStopLoss
			}
			if price >= p.TakeProfit && p.TakeProfit > 0 {
				return domain.CloseReasonTakeProfit
			}
		}
	}
	return ""
}

// CloseOnOppositeFlow closes positions that the new signal contradicts: a
// long signal closes shorts, a short signal closes longs.
func (l *Ledger) CloseOnOppositeFlow(ctx context.Context, signalDir domain.Direction, currentPrice float64, now time.Time) []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closed []*domain.Position
	for _, p := range l.snapshotLocked() {
		if p.Direction == signalDir.Opposite() {
			if cp := l.closeLocked(ctx, p.ID, currentPrice, now, domain.CloseReasonOppositeFlow); cp != nil {
				closed = append(closed, cp)
			}
		}
	}
	return closed
}

// CloseAll closes every open position, used at session end.
func (l *Ledger) CloseAll(ctx context.Context, currentPrice float64, now time.Time) []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closed []*domain.Position
	for _, p := range l.snapshotLocked() {
		if cp := l.closeLocked(ctx, p.ID, currentPrice, now, domain.CloseReasonSessionEnd); cp != nil {
			closed = append(closed, cp)
		}
	}
	return closed
}

// OpenPositions returns copies of all open positions, oldest first.
func (l *Ledger) OpenPositions() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Stats returns a copy of the session statistics.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.clone()
}

// snapshotLocked returns copies of open positions ordered oldest first.
func (l *Ledger) snapshotLocked() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, clonePos(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func clonePos(p *domain.Position) *domain.Position {
	cp := *p
	return &cp
}
