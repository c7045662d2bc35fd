// Package engine runs the live trading loop. It consumes flow events from
// a source, asks the pipeline for a verdict, and drives the ledger and the
// executor with the result. A periodic sweep closes positions that hit
// their exit conditions and resolves recorded flow outcomes.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/execution"
	"bitcoin-flow-trader/internal/flowsource"
	"bitcoin-flow-trader/internal/ledger"
	"bitcoin-flow-trader/internal/marketdata"
	"bitcoin-flow-trader/internal/observability"
	"bitcoin-flow-trader/internal/pipeline"
	"bitcoin-flow-trader/internal/prediction"
)

// Config holds the engine loop knobs.
type Config struct {
	// Paper disables order routing; the ledger alone tracks positions.
	Paper bool

	// ExitCheckInterval is the cadence of the exit sweep.
	ExitCheckInterval time.Duration

	// ResolveAfter is how long after detection a flow outcome is marked
	// resolved at the then-current price.
	ResolveAfter time.Duration

	// PriceVenue is the venue whose price feed drives exit checks.
	PriceVenue string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Paper:             true,
		ExitCheckInterval: 2 * time.Second,
		ResolveAfter:      10 * time.Minute,
		PriceVenue:        "binance",
	}
}

// pendingOutcome is a recorded flow waiting for resolution.
type pendingOutcome struct {
	id  string
	due time.Time
}

// Engine wires the flow source, pipeline, ledger, predictor and executor
// into one loop.
type Engine struct {
	cfg       Config
	source    flowsource.Source
	pipeline  *pipeline.Pipeline
	ledger    *ledger.Ledger
	predictor *prediction.Predictor
	books     marketdata.BookProvider
	executor  execution.Executor
	logger    *log.Logger
	now       func() time.Time

	mu        sync.Mutex
	pending   []pendingOutcome
	lastPrice float64
}

// Options configures Engine construction.
type Options struct {
	// Config holds the loop knobs. Zero ExitCheckInterval falls back to
	// the default cadence.
	Config Config

	// Source delivers flow events. Required.
	Source flowsource.Source

	// Pipeline evaluates flows. Required.
	Pipeline *pipeline.Pipeline

	// Ledger tracks positions and capital. Required.
	Ledger *ledger.Ledger

	// Predictor records detections and resolves outcomes. Optional.
	Predictor *prediction.Predictor

	// Books serves prices for detections and exit sweeps. Required.
	Books marketdata.BookProvider

	// Executor routes orders when Config.Paper is false. Optional in
	// paper mode.
	Executor execution.Executor

	// Logger for loop events. Defaults to log.Default().
	Logger *log.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// New creates an Engine. Missing required dependencies are an error.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine: flow source is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("engine: pipeline is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("engine: ledger is required")
	}
	if opts.Books == nil {
		return nil, errors.New("engine: book provider is required")
	}
	if !opts.Config.Paper && opts.Executor == nil {
		return nil, errors.New("engine: executor is required outside paper mode")
	}

	cfg := opts.Config
	if cfg.ExitCheckInterval <= 0 {
		cfg.ExitCheckInterval = DefaultConfig().ExitCheckInterval
	}
	if cfg.ResolveAfter <= 0 {
		cfg.ResolveAfter = DefaultConfig().ResolveAfter
	}
	if cfg.PriceVenue == "" {
		cfg.PriceVenue = DefaultConfig().PriceVenue
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:       cfg,
		source:    opts.Source,
		pipeline:  opts.Pipeline,
		ledger:    opts.Ledger,
		predictor: opts.Predictor,
		books:     opts.Books,
		executor:  opts.Executor,
		logger:    logger,
		now:       now,
	}, nil
}

// Run consumes the flow source until the context is cancelled or the
// source closes, then unwinds every open position and returns the final
// session stats. The exit sweep runs on its own goroutine so a slow
// pipeline evaluation never holds back closing positions; the ledger
// mutex serializes position access between the two.
func (e *Engine) Run(ctx context.Context) (ledger.Stats, error) {
	events, err := e.source.Subscribe(ctx)
	if err != nil {
		return e.ledger.Stats(), err
	}

	mode := "live"
	if e.cfg.Paper {
		mode = "paper"
	}
	e.logger.Printf("[engine] session started, mode=%s", mode)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	var sweeper sync.WaitGroup
	sweeper.Add(1)
	go func() {
		defer sweeper.Done()
		ticker := time.NewTicker(e.cfg.ExitCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				e.sweep(sweepCtx)
			}
		}
	}()

	// the sweeper must drain before shutdown unwinds the book
	stop := func() {
		stopSweeper()
		sweeper.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return e.shutdown(), ctx.Err()

		case event, ok := <-events:
			if !ok {
				stop()
				return e.shutdown(), nil
			}
			e.handleFlow(ctx, event)
		}
	}
}

// handleFlow runs one event through detection, evaluation and, when the
// pipeline accepts, position management.
func (e *Engine) handleFlow(ctx context.Context, event domain.FlowEvent) {
	now := e.now()
	observability.RecordFlowDetected(string(event.FlowType), event.AmountBTC,
		event.Latency.Seconds(), float64(now.Unix()))

	price, err := e.books.FetchPrice(ctx, event.PrimaryVenue())
	if err != nil {
		price = e.currentPrice()
		e.logger.Printf("[engine] price fetch failed for %s, using last known %.2f: %v",
			event.PrimaryVenue(), price, err)
	} else {
		e.setPrice(price)
	}

	e.recordDetection(ctx, event, price)

	start := e.now()
	decision := e.pipeline.Evaluate(ctx, event)
	observability.RecordDecision(decision.Status, decision.RejectedAt(), fallbackGates(decision),
		e.now().Sub(start).Seconds(), float64(e.now().Unix()))

	if decision.Status != domain.DecisionAccepted {
		e.logger.Printf("[engine] flow %s %s at %s", event.ID, decision.Status, decision.RejectedAt())
		return
	}

	intent := decision.Intent
	dir := event.FlowType.SignalDirection()

	// A fresh signal against an open position closes it before anything
	// new opens.
	closed := e.ledger.CloseOnOppositeFlow(ctx, dir, intent.EntryPrice, e.now())
	e.afterClose(ctx, closed)

	if !e.ledger.CanOpen(intent.Venue) {
		e.logger.Printf("[engine] flow %s accepted but ledger refused %s", event.ID, intent.Venue)
		return
	}

	pos, err := e.ledger.OpenPosition(ctx, intent, intent.EntryPrice)
	if err != nil {
		if !errors.Is(err, ledger.ErrCannotOpen) {
			e.logger.Printf("[engine] open position for flow %s: %v", event.ID, err)
		}
		return
	}

	if !e.cfg.Paper {
		// The ledger already sized the position; the order mirrors it. A
		// failed order voids the position so nothing opens unfilled.
		_, err := e.executor.PlaceOrder(ctx, execution.OrderRequest{
			Venue:      pos.Venue,
			Instrument: pos.Instrument,
			Direction:  pos.Direction,
			SizeUSD:    pos.SizeUSD,
			Leverage:   pos.Leverage,
			Price:      pos.EntryPrice,
		})
		if err != nil {
			e.ledger.Void(ctx, pos.ID)
			observability.RecordOrderFailure(pos.Venue, "entry")
			e.logger.Printf("[engine] venue order for %s failed, position voided: %v", pos.ID, err)
			return
		}
	}
	observability.RecordPositionOpened(pos.Venue, string(pos.Instrument), len(e.ledger.OpenPositions()))
	e.logger.Printf("[engine] opened %s %s %s size=%.2f entry=%.2f",
		pos.ID, pos.Venue, pos.Direction, pos.SizeUSD, pos.EntryPrice)
}

// sweep fetches the reference price, closes positions that hit their exit
// conditions and resolves flow outcomes that came due.
func (e *Engine) sweep(ctx context.Context) {
	price, err := e.books.FetchPrice(ctx, e.cfg.PriceVenue)
	if err != nil {
		e.logger.Printf("[engine] sweep price fetch failed: %v", err)
		return
	}
	e.setPrice(price)

	closed := e.ledger.CheckExits(ctx, price, e.now())
	e.afterClose(ctx, closed)

	e.resolveDue(ctx, price)
}

// afterClose records metrics and routes unwind orders for closed positions.
func (e *Engine) afterClose(ctx context.Context, closed []*domain.Position) {
	for _, p := range closed {
		stats := e.ledger.Stats()
		observability.RecordPositionClosed(p.CloseReason, p.PnLUSD,
			len(e.ledger.OpenPositions()), stats.CurrentCapital)
		e.logger.Printf("[engine] closed %s %s reason=%s pnl=%.2f capital=%.2f",
			p.ID, p.Venue, p.CloseReason, p.PnLUSD, stats.CurrentCapital)

		if e.cfg.Paper {
			continue
		}
		_, err := e.executor.PlaceOrder(ctx, execution.OrderRequest{
			Venue:      p.Venue,
			Instrument: p.Instrument,
			Direction:  p.Direction.Opposite(),
			SizeUSD:    p.SizeUSD,
			Leverage:   p.Leverage,
			Price:      p.ExitPrice,
			ReduceOnly: true,
		})
		if err != nil {
			// The ledger already closed the position; the venue-side
			// unwind needs manual attention.
			observability.RecordOrderFailure(p.Venue, "unwind")
			e.logger.Printf("[engine] unwind order for %s failed: %v", p.ID, err)
		}
	}
}

// recordDetection stores the flow for future predictions and queues its
// outcome resolution.
func (e *Engine) recordDetection(ctx context.Context, event domain.FlowEvent, price float64) {
	if e.predictor == nil {
		return
	}
	id, err := e.predictor.RecordDetection(ctx, event, price)
	if err != nil {
		e.logger.Printf("[engine] record detection for flow %s: %v", event.ID, err)
		return
	}
	if id == "" {
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, pendingOutcome{id: id, due: e.now().Add(e.cfg.ResolveAfter)})
	e.mu.Unlock()
}

// resolveDue resolves every queued outcome whose deadline has passed.
func (e *Engine) resolveDue(ctx context.Context, price float64) {
	if e.predictor == nil {
		return
	}
	now := e.now()

	e.mu.Lock()
	var due []pendingOutcome
	var rest []pendingOutcome
	for _, p := range e.pending {
		if !p.due.After(now) {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	e.pending = rest
	e.mu.Unlock()

	for _, p := range due {
		if err := e.predictor.ResolveOutcome(ctx, p.id, price); err != nil {
			e.logger.Printf("[engine] resolve outcome %s: %v", p.id, err)
		}
	}
}

// shutdown closes every open position at the last known price and logs
// the session summary.
func (e *Engine) shutdown() ledger.Stats {
	ctx := context.Background()
	price := e.currentPrice()

	if price > 0 {
		closed := e.ledger.CloseAll(ctx, price, e.now())
		e.afterClose(ctx, closed)
	} else if n := len(e.ledger.OpenPositions()); n > 0 {
		e.logger.Printf("[engine] no price seen this session, %d positions left open", n)
	}

	stats := e.ledger.Stats()
	e.logger.Printf("[engine] session over: trades=%d correct=%d wrong=%d pnl=%.2f capital=%.2f drawdown=%.2f%%",
		stats.TotalTrades, stats.SignalsCorrect, stats.SignalsWrong,
		stats.TotalPnLUSD, stats.CurrentCapital, stats.MaxDrawdownPct*100)
	return stats
}

func (e *Engine) setPrice(p float64) {
	e.mu.Lock()
	e.lastPrice = p
	e.mu.Unlock()
}

func (e *Engine) currentPrice() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPrice
}

// fallbackGates lists the gates that passed on fallback rather than data.
func fallbackGates(d *domain.Decision) []string {
	var gates []string
	for _, g := range d.Gates {
		if g.Pass && g.Fallback {
			gates = append(gates, g.Gate)
		}
	}
	return gates
}
