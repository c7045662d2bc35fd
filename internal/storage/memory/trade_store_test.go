package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

func newPosition(id, venue string, openedAt time.Time) *domain.Position {
	return &domain.Position{
		ID:         id,
		FlowID:     "flow-" + id,
		Venue:      venue,
		Instrument: domain.InstrumentPerpetual,
		Direction:  domain.DirectionShort,
		Status:     domain.PositionOpen,
		EntryPrice: 87000,
		SizeUSD:    5000,
		Leverage:   20,
		OpenedAt:   openedAt,
	}
}

func TestTradeStoreInsertAndGet(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()

	p := newPosition("p1", "okx", time.Now())
	if err := s.Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, p); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("duplicate insert: %v, want ErrDuplicateKey", err)
	}

	got, err := s.GetByID(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Venue != "okx" || got.Status != domain.PositionOpen {
		t.Errorf("got %+v", got)
	}
}

func TestTradeStoreGetByVenueCaseInsensitive(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()
	now := time.Now()

	if err := s.Insert(ctx, newPosition("p1", "OKX", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, newPosition("p2", "okx", now.Add(time.Second))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, newPosition("p3", "kraken", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetByVenue(ctx, "okx")
	if err != nil {
		t.Fatalf("get by venue: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("order = %s, %s; want p1, p2", got[0].ID, got[1].ID)
	}
}

func TestTradeStoreMarkClosedAndSummary(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := s.Insert(ctx, newPosition(id, "okx", now)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	p1, _ := s.GetByID(ctx, "p1")
	p1.ExitPrice = 86800
	p1.ClosedAt = now.Add(time.Minute)
	p1.CloseReason = domain.CloseReasonProfitTarget
	p1.PnLPct = 4.4
	p1.PnLUSD = 11.0
	p1.SignalCorrect = true
	if err := s.MarkClosed(ctx, p1); err != nil {
		t.Fatalf("close p1: %v", err)
	}

	p2, _ := s.GetByID(ctx, "p2")
	p2.ExitPrice = 87100
	p2.ClosedAt = now.Add(time.Minute)
	p2.CloseReason = domain.CloseReasonStopLoss
	p2.PnLPct = -2.5
	p2.PnLUSD = -6.25
	if err := s.MarkClosed(ctx, p2); err != nil {
		t.Fatalf("close p2: %v", err)
	}

	open, err := s.GetOpen(ctx)
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if len(open) != 1 || open[0].ID != "p3" {
		t.Fatalf("open = %v, want just p3", open)
	}

	sum, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Trades != 2 || sum.Wins != 1 || sum.SignalCorrect != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.TotalPnLUSD != 4.75 {
		t.Errorf("total pnl = %v, want 4.75", sum.TotalPnLUSD)
	}
	if sum.PnLByVenue["okx"] != 4.75 {
		t.Errorf("okx pnl = %v, want 4.75", sum.PnLByVenue["okx"])
	}
}

func TestTradeStoreMarkClosedMissing(t *testing.T) {
	s := NewTradeStore()
	p := newPosition("ghost", "okx", time.Now())
	if err := s.MarkClosed(context.Background(), p); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestEquityCurveRange(t *testing.T) {
	s := NewEquityCurveStore()
	ctx := context.Background()
	base := time.Now()

	points := []*domain.EquityPoint{
		{At: base.Add(2 * time.Minute), Capital: 102, OpenPositions: 1},
		{At: base, Capital: 100, OpenPositions: 0},
		{At: base.Add(time.Minute), Capital: 101, OpenPositions: 1},
		{At: base.Add(time.Hour), Capital: 110, OpenPositions: 0},
	}
	if err := s.InsertBulk(ctx, points); err != nil {
		t.Fatalf("insert bulk: %v", err)
	}

	got, err := s.GetRange(ctx, base, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].At.Before(got[i-1].At) {
			t.Fatalf("points out of order at %d", i)
		}
	}
}
