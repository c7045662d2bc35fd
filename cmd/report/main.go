// Package main prints the trading ledger: closed trade totals, open
// positions, and the equity curve over a window.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
	chstore "bitcoin-flow-trader/internal/storage/clickhouse"
	pgstore "bitcoin-flow-trader/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	venue := flag.String("venue", "", "Limit the trade listing to one venue")
	window := flag.Duration("window", 24*time.Hour, "Equity curve lookback window")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *postgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn or POSTGRES_DSN is required")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	trades := pgstore.NewTradeStore(pool)

	var equity storage.EquityCurveStore
	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to clickhouse: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		equity = chstore.NewEquityCurveStore(conn)
	}

	report, err := buildReport(ctx, trades, equity, *venue, *window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building report: %v\n", err)
		os.Exit(1)
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printReport(report)
}

// Report is the printable roll-up.
type Report struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Summary     *storage.TradeSummary `json:"summary"`
	Open        []*domain.Position    `json:"open_positions"`
	VenueTrades []*domain.Position    `json:"venue_trades,omitempty"`
	Equity      []*domain.EquityPoint `json:"equity,omitempty"`
}

func buildReport(ctx context.Context, trades storage.TradeStore, equity storage.EquityCurveStore, venue string, window time.Duration) (*Report, error) {
	now := time.Now().UTC()
	report := &Report{GeneratedAt: now}

	summary, err := trades.Summary(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade summary: %w", err)
	}
	report.Summary = summary

	open, err := trades.GetOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	report.Open = open

	if venue != "" {
		venueTrades, err := trades.GetByVenue(ctx, venue)
		if err != nil {
			return nil, fmt.Errorf("trades for %s: %w", venue, err)
		}
		report.VenueTrades = venueTrades
	}

	if equity != nil {
		points, err := equity.GetRange(ctx, now.Add(-window), now)
		if err != nil {
			return nil, fmt.Errorf("equity curve: %w", err)
		}
		report.Equity = points
	}

	return report, nil
}

func printReport(r *Report) {
	s := r.Summary
	fmt.Println("=== Trade Summary ===")
	fmt.Printf("Closed trades:   %d\n", s.Trades)
	if s.Trades > 0 {
		fmt.Printf("Wins:            %d (%.1f%%)\n", s.Wins, 100*float64(s.Wins)/float64(s.Trades))
		fmt.Printf("Signals correct: %d (%.1f%%)\n", s.SignalCorrect, 100*float64(s.SignalCorrect)/float64(s.Trades))
	}
	fmt.Printf("Total P&L:       %.2f USD\n", s.TotalPnLUSD)

	if len(s.PnLByVenue) > 0 {
		fmt.Println("\nP&L by venue:")
		venues := make([]string, 0, len(s.PnLByVenue))
		for v := range s.PnLByVenue {
			venues = append(venues, v)
		}
		sort.Strings(venues)
		for _, v := range venues {
			fmt.Printf("  %-12s %10.2f USD\n", v, s.PnLByVenue[v])
		}
	}

	fmt.Printf("\n=== Open Positions (%d) ===\n", len(r.Open))
	for _, p := range r.Open {
		fmt.Printf("  %s  %-10s %-10s %-5s entry=%.2f size=%.2f lev=%dx opened=%s\n",
			p.ID[:8], p.Venue, p.Instrument, p.Direction,
			p.EntryPrice, p.SizeUSD, p.Leverage, p.OpenedAt.Format(time.RFC3339))
	}

	if len(r.VenueTrades) > 0 {
		fmt.Printf("\n=== Trades: %s (%d) ===\n", r.VenueTrades[0].Venue, len(r.VenueTrades))
		for _, p := range r.VenueTrades {
			status := p.Status
			if p.Status == domain.PositionClosed {
				status = fmt.Sprintf("%s %+.2f USD (%s)", p.Status, p.PnLUSD, p.CloseReason)
			}
			fmt.Printf("  %s  %-5s entry=%.2f exit=%.2f  %s\n",
				p.ID[:8], p.Direction, p.EntryPrice, p.ExitPrice, status)
		}
	}

	if len(r.Equity) > 0 {
		first := r.Equity[0]
		last := r.Equity[len(r.Equity)-1]
		fmt.Printf("\n=== Equity Curve (%d samples) ===\n", len(r.Equity))
		fmt.Printf("  start: %.2f USD at %s\n", first.Capital, first.At.Format(time.RFC3339))
		fmt.Printf("  end:   %.2f USD at %s\n", last.Capital, last.At.Format(time.RFC3339))
	}
}
