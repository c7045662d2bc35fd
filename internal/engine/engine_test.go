package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"bitcoin-flow-trader/internal/domain"
	execstub "bitcoin-flow-trader/internal/execution/stub"
	flowstub "bitcoin-flow-trader/internal/flowsource/stub"
	"bitcoin-flow-trader/internal/instrument"
	"bitcoin-flow-trader/internal/ledger"
	"bitcoin-flow-trader/internal/marketdata/stub"
	"bitcoin-flow-trader/internal/pipeline"
	"bitcoin-flow-trader/internal/prediction"
	"bitcoin-flow-trader/internal/storage/memory"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// clock is a mutable test clock safe for the engine's goroutine.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	e         *Engine
	source    *flowstub.Source
	books     *stub.BookProvider
	confirmer *stub.Confirmer
	executor  *execstub.Simulator
	ledger    *ledger.Ledger
	outcomes  *memory.FlowOutcomeStore
	clk       *clock
}

func newFixture(t *testing.T, paper bool) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	clk := &clock{t: testTime}

	outcomes := memory.NewFlowOutcomeStore()
	pred := prediction.New(prediction.Options{Store: outcomes, Logger: logger, Now: clk.now})

	books := stub.NewBookProvider()
	confirmer := stub.NewConfirmer()
	safety := stub.NewSafetyGate()

	p, err := pipeline.New(pipeline.Options{
		Config:    pipeline.DefaultConfig(),
		Catalog:   instrument.New(instrument.Options{}),
		Predictor: pred,
		Books:     books,
		Confirmer: confirmer,
		Safety:    safety,
		Logger:    logger,
		Now:       clk.now,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	led := ledger.New(ledger.Options{
		Config: ledger.Config{
			InitialCapital:   100,
			MaxPositions:     4,
			PositionSizePct:  0.25,
			DefaultLeverage:  20,
			StopLossPct:      0.01,
			TakeProfitPct:    0.02,
			FeePct:           0.05,
			MinProfitMovePct: 0.5,
		},
		Trades: memory.NewTradeStore(),
		Equity: memory.NewEquityCurveStore(),
		Logger: logger,
		Now:    clk.now,
	})

	source := flowstub.NewSource(16)
	executor := execstub.NewSimulator(1000)

	e, err := New(Options{
		Config: Config{
			Paper:             paper,
			ExitCheckInterval: time.Hour, // sweeps run by hand in tests
			ResolveAfter:      10 * time.Minute,
			PriceVenue:        "binance",
		},
		Source:    source,
		Pipeline:  p,
		Ledger:    led,
		Predictor: pred,
		Books:     books,
		Executor:  executor,
		Logger:    logger,
		Now:       clk.now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{
		e: e, source: source, books: books, confirmer: confirmer,
		executor: executor, ledger: led, outcomes: outcomes, clk: clk,
	}
}

func depositFlow(id string, amount float64) domain.FlowEvent {
	return domain.FlowEvent{
		ID:         id,
		TxHash:     "tx-" + id,
		AmountBTC:  amount,
		FlowType:   domain.FlowDeposit,
		Venue:      "binance",
		DetectedAt: testTime,
	}
}

// bids absorbing a 50 BTC sell across four levels.
func deepBids() *domain.OrderBook {
	return &domain.OrderBook{
		Venue: "binance",
		Bids: []domain.BookLevel{
			{Price: 87000, Quantity: 10},
			{Price: 86950, Quantity: 15},
			{Price: 86900, Quantity: 20},
			{Price: 86850, Quantity: 25},
		},
		Asks:      []domain.BookLevel{{Price: 87010, Quantity: 10}},
		FetchedAt: testTime,
	}
}

func deepAsks() *domain.OrderBook {
	return &domain.OrderBook{
		Venue: "binance",
		Asks: []domain.BookLevel{
			{Price: 87000, Quantity: 10},
			{Price: 87050, Quantity: 15},
			{Price: 87100, Quantity: 20},
			{Price: 87150, Quantity: 25},
		},
		Bids:      []domain.BookLevel{{Price: 86990, Quantity: 10}},
		FetchedAt: testTime,
	}
}

func (f *fixture) confirm(short bool) {
	c := &domain.MarketConfirmation{Venue: "binance", FetchedAt: testTime}
	if short {
		c.Bias = -0.4
		c.FundingRate = 0.0001
	} else {
		c.Bias = 0.4
		c.FundingRate = -0.0001
	}
	f.confirmer.SetConfirmation("binance", c)
}

func TestAcceptedFlowOpensPosition(t *testing.T) {
	f := newFixture(t, true)
	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)

	f.e.handleFlow(context.Background(), depositFlow("flow-1", 50))

	open := f.ledger.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	p := open[0]
	if p.Direction != domain.DirectionShort {
		t.Fatalf("direction = %s, want SHORT", p.Direction)
	}
	if p.Venue != "binance" {
		t.Fatalf("venue = %s", p.Venue)
	}
	if p.EntryPrice != 87000 {
		t.Fatalf("entry = %.2f, want 87000", p.EntryPrice)
	}
	if len(f.executor.Orders()) != 0 {
		t.Fatal("paper mode must not route orders")
	}
}

func TestRejectedFlowOpensNothing(t *testing.T) {
	f := newFixture(t, true)
	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)

	f.e.handleFlow(context.Background(), depositFlow("flow-small", 1))

	if n := len(f.ledger.OpenPositions()); n != 0 {
		t.Fatalf("open positions = %d, want 0", n)
	}
}

func TestSweepClosesProfitablePosition(t *testing.T) {
	f := newFixture(t, true)
	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)

	ctx := context.Background()
	f.e.handleFlow(ctx, depositFlow("flow-1", 50))
	if len(f.ledger.OpenPositions()) != 1 {
		t.Fatal("position did not open")
	}

	// 0.5% drop hits the profit threshold for a short
	f.books.SetPrice("binance", 86565)
	f.e.sweep(ctx)

	if n := len(f.ledger.OpenPositions()); n != 0 {
		t.Fatalf("open positions after sweep = %d, want 0", n)
	}
	stats := f.ledger.Stats()
	if stats.TotalTrades != 1 {
		t.Fatalf("trades = %d, want 1", stats.TotalTrades)
	}
	if stats.TotalPnLUSD <= 0 {
		t.Fatalf("pnl = %.4f, want positive", stats.TotalPnLUSD)
	}
}

func TestOppositeFlowReplacesPosition(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)
	f.e.handleFlow(ctx, depositFlow("flow-1", 50))
	if len(f.ledger.OpenPositions()) != 1 {
		t.Fatal("short did not open")
	}

	// a withdrawal signals LONG and unwinds the short first
	f.books.SetBook("binance", deepAsks())
	f.confirm(false)
	withdrawal := domain.FlowEvent{
		ID:         "flow-2",
		TxHash:     "tx-flow-2",
		AmountBTC:  50,
		FlowType:   domain.FlowWithdrawal,
		Venue:      "binance",
		DetectedAt: testTime,
	}
	f.e.handleFlow(ctx, withdrawal)

	open := f.ledger.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if open[0].Direction != domain.DirectionLong {
		t.Fatalf("direction = %s, want LONG", open[0].Direction)
	}
	stats := f.ledger.Stats()
	if stats.TotalTrades != 1 {
		t.Fatalf("closed trades = %d, want 1", stats.TotalTrades)
	}
}

func TestSweepResolvesDueOutcomes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)
	f.e.handleFlow(ctx, depositFlow("flow-1", 50))

	// before the deadline nothing resolves
	f.e.sweep(ctx)
	if got := resolvedCount(t, f); got != 0 {
		t.Fatalf("resolved = %d, want 0", got)
	}

	f.clk.advance(11 * time.Minute)
	f.books.SetPrice("binance", 86800)
	f.e.sweep(ctx)
	if got := resolvedCount(t, f); got != 1 {
		t.Fatalf("resolved = %d, want 1", got)
	}
}

func TestRunClosesEverythingOnSourceClose(t *testing.T) {
	f := newFixture(t, true)
	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)

	done := make(chan ledger.Stats, 1)
	go func() {
		stats, _ := f.e.Run(context.Background())
		done <- stats
	}()

	f.source.Emit(depositFlow("flow-1", 50))
	f.source.Close()

	select {
	case stats := <-done:
		if stats.TotalTrades != 1 {
			t.Fatalf("trades = %d, want 1", stats.TotalTrades)
		}
		if n := len(f.ledger.OpenPositions()); n != 0 {
			t.Fatalf("open positions after shutdown = %d, want 0", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}
}

func TestLiveModeRoutesOrders(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)
	f.e.handleFlow(ctx, depositFlow("flow-1", 50))

	orders := f.executor.Orders()
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].ReduceOnly {
		t.Fatal("entry order must not be reduce only")
	}
	if orders[0].SizeUSD != 500 {
		t.Fatalf("order size = %.2f, want 500", orders[0].SizeUSD)
	}

	f.books.SetPrice("binance", 86565)
	f.e.sweep(ctx)

	orders = f.executor.Orders()
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	unwind := orders[1]
	if !unwind.ReduceOnly {
		t.Fatal("unwind order must be reduce only")
	}
	if unwind.Direction != domain.DirectionLong {
		t.Fatalf("unwind direction = %s, want LONG", unwind.Direction)
	}
}

func TestLiveModeFailedOrderVoidsPosition(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	f.books.SetBook("binance", deepBids())
	f.books.SetPrice("binance", 87000)
	f.confirm(true)
	f.executor.FailNext(errors.New("venue down"))

	f.e.handleFlow(ctx, depositFlow("flow-1", 50))

	if n := len(f.ledger.OpenPositions()); n != 0 {
		t.Fatalf("open positions = %d, want 0 after failed order", n)
	}
	stats := f.ledger.Stats()
	if stats.TotalTrades != 0 {
		t.Fatalf("trades = %d, want 0", stats.TotalTrades)
	}
	if stats.CurrentCapital != 100 {
		t.Fatalf("capital = %.2f, want untouched 100", stats.CurrentCapital)
	}
}

func resolvedCount(t *testing.T, f *fixture) int {
	t.Helper()
	agg, err := f.outcomes.Aggregate(context.Background(), "binance", domain.FlowDeposit,
		0, 1000, testTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return agg.Resolved
}

// gatedBooks delays depth fetches until released; prices stay live.
type gatedBooks struct {
	*stub.BookProvider
	gate chan struct{}
}

func (g *gatedBooks) FetchBook(ctx context.Context, venue string, depth int) (*domain.OrderBook, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.BookProvider.FetchBook(ctx, venue, depth)
}

func TestSweepClosesPositionsWhileEvaluationBlocks(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	clk := &clock{t: testTime}

	outcomes := memory.NewFlowOutcomeStore()
	pred := prediction.New(prediction.Options{Store: outcomes, Logger: logger, Now: clk.now})

	books := &gatedBooks{BookProvider: stub.NewBookProvider(), gate: make(chan struct{})}
	books.SetBook("binance", deepBids())
	books.SetPrice("binance", 87000)

	p, err := pipeline.New(pipeline.Options{
		Config:    pipeline.DefaultConfig(),
		Catalog:   instrument.New(instrument.Options{}),
		Predictor: pred,
		Books:     books,
		Logger:    logger,
		Now:       clk.now,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	led := ledger.New(ledger.Options{
		Config: ledger.Config{
			InitialCapital:   100,
			MaxPositions:     4,
			PositionSizePct:  0.25,
			DefaultLeverage:  20,
			StopLossPct:      0.01,
			TakeProfitPct:    0.02,
			FeePct:           0.05,
			MinProfitMovePct: 0.5,
		},
		Trades: memory.NewTradeStore(),
		Equity: memory.NewEquityCurveStore(),
		Logger: logger,
		Now:    clk.now,
	})

	source := flowstub.NewSource(4)
	e, err := New(Options{
		Config: Config{
			Paper:             true,
			ExitCheckInterval: 5 * time.Millisecond,
			ResolveAfter:      10 * time.Minute,
			PriceVenue:        "binance",
		},
		Source:    source,
		Pipeline:  p,
		Ledger:    led,
		Predictor: pred,
		Books:     books,
		Logger:    logger,
		Now:       clk.now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	// a short already on the book, profitable once the price drops
	if _, err := led.OpenPosition(context.Background(), &domain.TradeIntent{
		FlowID:     "seed",
		Venue:      "binance",
		Instrument: domain.InstrumentPerpetual,
		Direction:  domain.DirectionShort,
	}, 87000); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	// the event loop wedges inside the depth fetch while the price moves
	source.Emit(depositFlow("flow-wedged", 50))
	books.SetPrice("binance", 86500)

	deadline := time.After(2 * time.Second)
	for len(led.OpenPositions()) != 0 {
		select {
		case <-deadline:
			t.Fatal("exit sweep never ran while a flow evaluation was blocked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
