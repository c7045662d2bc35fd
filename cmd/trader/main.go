// Package main runs the flow trading engine: flow feed in, decisions
// through the pipeline, positions in the ledger, orders through the
// executor. Market data comes from a seeded fixture; real venue
// connectivity stays behind the marketdata ports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitcoin-flow-trader/internal/config"
	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/engine"
	execstub "bitcoin-flow-trader/internal/execution/stub"
	"bitcoin-flow-trader/internal/flowsource"
	flowstub "bitcoin-flow-trader/internal/flowsource/stub"
	"bitcoin-flow-trader/internal/instrument"
	"bitcoin-flow-trader/internal/ledger"
	"bitcoin-flow-trader/internal/marketdata"
	mdstub "bitcoin-flow-trader/internal/marketdata/stub"
	"bitcoin-flow-trader/internal/observability"
	"bitcoin-flow-trader/internal/pipeline"
	"bitcoin-flow-trader/internal/prediction"
	"bitcoin-flow-trader/internal/safety"
	"bitcoin-flow-trader/internal/storage"
	chstore "bitcoin-flow-trader/internal/storage/clickhouse"
	"bitcoin-flow-trader/internal/storage/memory"
	"bitcoin-flow-trader/internal/storage/migrations"
	pgstore "bitcoin-flow-trader/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml)")
	fixturePath := flag.String("fixture", "", "Market fixture file; also replays its flows when the feed URL is unset")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	flag.Parse()

	logger := log.New(os.Stdout, "[trader] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	stores, cleanup, err := createStores(ctx, cfg, *useMemory)
	if err != nil {
		logger.Fatalf("create stores: %v", err)
	}
	defer cleanup()

	predictor := prediction.New(prediction.Options{
		Store:  stores.outcomes,
		Logger: logger,
	})

	var fixture *marketFixture
	if *fixturePath != "" {
		fixture, err = loadFixture(*fixturePath)
		if err != nil {
			logger.Fatalf("load fixture: %v", err)
		}
	}

	books, confirmer := buildMarketData(fixture, logger)

	catalog := instrument.New(instrument.Options{})
	checker := safety.New(safety.Options{
		FundingBlackout: cfg.Safety.FundingBlackout,
		ExpiryBuffer:    cfg.Safety.ExpiryBuffer,
		Logger:          logger,
	})

	tradeable := tradeableFunc(cfg.Trading.Venues, catalog)

	pipe, err := pipeline.New(pipeline.Options{
		Config: pipeline.Config{
			MinFlowBTC:        cfg.Trading.MinFlowBTC,
			FeePct:            cfg.Trading.FeePct,
			MinImpactMultiple: cfg.Trading.MinImpactMultiple,
			TakeProfitRatio:   cfg.Trading.TakeProfitRatio,
			BookDepth:         cfg.Trading.BookDepth,
			DefaultLeverage:   cfg.Trading.DefaultLeverage,
		},
		Catalog:   catalog,
		Predictor: predictor,
		Books:     books,
		Confirmer: confirmer,
		Safety:    checker,
		Tradeable: tradeable,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("create pipeline: %v", err)
	}

	led := ledger.New(ledger.Options{
		Config: ledger.Config{
			InitialCapital:   cfg.Trading.InitialCapital,
			MaxPositions:     cfg.Trading.MaxPositions,
			PositionSizePct:  cfg.Trading.PositionSizePct,
			DefaultLeverage:  cfg.Trading.DefaultLeverage,
			StopLossPct:      cfg.Trading.StopLossPct,
			TakeProfitPct:    cfg.Trading.TakeProfitPct,
			FeePct:           cfg.Trading.FeePct,
			MinProfitMovePct: cfg.Trading.MinProfitMovePct,
			EnforceStops:     cfg.Trading.EnforceStops,
		},
		Trades:    stores.trades,
		Equity:    stores.equity,
		Tradeable: tradeable,
		Logger:    logger,
	})

	source, err := buildSource(ctx, cfg, fixture, logger)
	if err != nil {
		logger.Fatalf("create flow source: %v", err)
	}
	defer source.Close()

	eng, err := engine.New(engine.Options{
		Config: engine.Config{
			Paper:             cfg.App.Paper,
			ExitCheckInterval: cfg.Trading.ExitCheckInterval,
		},
		Source:    source,
		Pipeline:  pipe,
		Ledger:    led,
		Predictor: predictor,
		Books:     books,
		Executor:  execstub.NewSimulator(cfg.Trading.InitialCapital),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("create engine: %v", err)
	}

	if cfg.Telemetry.Enabled {
		go startMetricsServer(cfg.Telemetry.MetricsPort, logger)
		go trackUptime(ctx)
	}

	stats, err := eng.Run(ctx)
	close(done)
	if err != nil && err != context.Canceled {
		logger.Fatalf("engine: %v", err)
	}

	printSummary(stats, cfg.Trading.InitialCapital)
}

// marketFixture seeds the stub market data providers and, optionally,
// replays a recorded list of flows.
type marketFixture struct {
	Venues map[string]venueFixture `json:"venues"`
	Flows  []flowFixture           `json:"flows"`
}

type venueFixture struct {
	Price               float64      `json:"price"`
	Bids                [][2]float64 `json:"bids"` // [price, quantity]
	Asks                [][2]float64 `json:"asks"`
	Bias                float64      `json:"bias"`
	FundingRate         float64      `json:"funding_rate"`
	OIChangePct         float64      `json:"oi_change_pct"`
	BorrowRateHourlyPct float64      `json:"borrow_rate_hourly_pct"`
}

type flowFixture struct {
	TxHash    string  `json:"tx_hash"`
	AmountBTC float64 `json:"amount_btc"`
	FlowType  string  `json:"flow_type"`
	Venue     string  `json:"venue"`
	DelayMs   int64   `json:"delay_ms"`
}

func loadFixture(path string) (*marketFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f marketFixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// buildMarketData seeds stub providers from the fixture and wraps them in
// the guard stack. With no fixture the providers serve nothing and every
// flow dies at the impact gate.
func buildMarketData(fixture *marketFixture, logger *log.Logger) (marketdata.BookProvider, marketdata.Confirmer) {
	books := mdstub.NewBookProvider()
	confirmer := mdstub.NewConfirmer()

	if fixture != nil {
		now := time.Now()
		for venue, v := range fixture.Venues {
			books.SetPrice(venue, v.Price)
			// FetchedAt stays zero so the stub stamps each fetch and the
			// snapshot never ages out mid-session.
			books.SetBook(venue, &domain.OrderBook{
				Venue: venue,
				Bids:  toLevels(v.Bids),
				Asks:  toLevels(v.Asks),
			})
			confirmer.SetConfirmation(venue, &domain.MarketConfirmation{
				Venue:                 venue,
				LastPrice:             v.Price,
				Bias:                  v.Bias,
				FundingRate:           v.FundingRate,
				OpenInterestChangePct: v.OIChangePct,
				BorrowRateHourlyPct:   v.BorrowRateHourlyPct,
				FetchedAt:             now,
			})
		}
	}

	guardOpts := marketdata.GuardOptions{Logger: logger}
	return marketdata.NewGuardedBookProvider(books, guardOpts),
		marketdata.NewGuardedConfirmer(confirmer, guardOpts)
}

func toLevels(raw [][2]float64) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, l := range raw {
		levels = append(levels, domain.BookLevel{Price: l[0], Quantity: l[1]})
	}
	return levels
}

// buildSource prefers the live websocket feed; with no URL configured it
// replays the fixture's flows and stops.
func buildSource(ctx context.Context, cfg *config.Config, fixture *marketFixture, logger *log.Logger) (flowsource.Source, error) {
	if cfg.FlowSource.WebSocketURL != "" {
		wsCfg := flowsource.DefaultWSConfig()
		wsCfg.ReconnectDelay = cfg.FlowSource.ReconnectBackoff
		wsCfg.MaxReconnectDelay = cfg.FlowSource.MaxBackoff
		wsCfg.PingInterval = cfg.FlowSource.PingInterval
		wsCfg.MinAmountBTC = cfg.FlowSource.MinAmountBTC
		return flowsource.NewWSSource(ctx, cfg.FlowSource.WebSocketURL, &wsCfg, logger)
	}

	if fixture == nil || len(fixture.Flows) == 0 {
		return nil, fmt.Errorf("no flow feed: set the websocket URL or pass a fixture with flows")
	}

	source := flowstub.NewSource(len(fixture.Flows))
	go func() {
		defer source.Close()
		for i, f := range fixture.Flows {
			if f.DelayMs > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(f.DelayMs) * time.Millisecond):
				}
			}
			source.Emit(domain.FlowEvent{
				ID:         fmt.Sprintf("fixture-%d", i),
				TxHash:     f.TxHash,
				AmountBTC:  f.AmountBTC,
				FlowType:   domain.FlowType(strings.ToLower(f.FlowType)),
				Venue:      f.Venue,
				DetectedAt: time.Now(),
			})
		}
	}()
	return source, nil
}

// allStores holds the storage implementations the trader runs on.
type allStores struct {
	outcomes storage.FlowOutcomeStore
	trades   storage.TradeStore
	equity   storage.EquityCurveStore
}

// createStores picks the storage backends by configuration: memory when
// asked or when no Postgres DSN is set, otherwise Postgres for outcomes
// and trades with ClickHouse for the equity curve.
func createStores(ctx context.Context, cfg *config.Config, useMemory bool) (*allStores, func(), error) {
	if useMemory || cfg.Postgres.DSN == "" {
		stores := &allStores{
			outcomes: memory.NewFlowOutcomeStore(),
			trades:   memory.NewTradeStore(),
			equity:   memory.NewEquityCurveStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPoolWithMaxConns(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	stores := &allStores{
		outcomes: pgstore.NewFlowOutcomeStore(pool),
		trades:   pgstore.NewTradeStore(pool),
		equity:   memory.NewEquityCurveStore(),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.equity = chstore.NewEquityCurveStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

func tradeableFunc(venues []string, catalog *instrument.Catalog) func(string) bool {
	if len(venues) == 0 {
		return catalog.Known
	}
	allowed := make(map[string]bool, len(venues))
	for _, v := range venues {
		allowed[strings.ToLower(v)] = true
	}
	return func(venue string) bool {
		return allowed[strings.ToLower(venue)] && catalog.Known(venue)
	}
}

func startMetricsServer(port int, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("metrics server error: %v", err)
	}
}

// trackUptime feeds the uptime counter once a second until shutdown.
func trackUptime(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.RecordUptimeTick(1)
		}
	}
}

func printSummary(stats ledger.Stats, initialCapital float64) {
	fmt.Println("\n=== Session Summary ===")
	fmt.Printf("Trades:          %d\n", stats.TotalTrades)
	fmt.Printf("Signals correct: %d (%.1f%%)\n", stats.SignalsCorrect, stats.SignalWinRate()*100)
	fmt.Printf("Profitable:      %d (%.1f%%)\n", stats.Profitable, stats.ProfitRate()*100)
	fmt.Printf("Total P&L:       %.2f USD\n", stats.TotalPnLUSD)
	fmt.Printf("Capital:         %.2f USD (%.2f%% return)\n", stats.CurrentCapital, stats.ReturnPct(initialCapital))
	fmt.Printf("Peak capital:    %.2f USD\n", stats.PeakCapital)
	fmt.Printf("Max drawdown:    %.2f%%\n", stats.MaxDrawdownPct*100)
	if len(stats.PnLByVenue) > 0 {
		fmt.Println("P&L by venue:")
		for venue, pnl := range stats.PnLByVenue {
			fmt.Printf("  %-10s %.2f USD\n", venue, pnl)
		}
	}
}
