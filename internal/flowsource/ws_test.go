package flowsource

import (
	"io"
	"log"
	"testing"
	"time"

	"bitcoin-flow-trader/internal/domain"
)

func newTestSource(minAmount float64) *WSSource {
	cfg := DefaultWSConfig()
	cfg.MinAmountBTC = minAmount
	return &WSSource{
		config: cfg,
		logger: log.New(io.Discard, "", 0),
		events: make(chan domain.FlowEvent, 4),
		done:   make(chan struct{}),
	}
}

func receive(t *testing.T, s *WSSource) domain.FlowEvent {
	t.Helper()
	select {
	case e := <-s.events:
		return e
	default:
		t.Fatal("no event dispatched")
		return domain.FlowEvent{}
	}
}

func TestHandleMessageCarriesLatency(t *testing.T) {
	s := newTestSource(0)
	s.handleMessage([]byte(`{
		"tx_hash": "abc123",
		"amount_btc": 42.5,
		"flow_type": "DEPOSIT",
		"exchange": "binance",
		"detected_at_ms": 1748779200000,
		"latency_ns": 250000000
	}`))

	e := receive(t, s)
	if e.TxHash != "abc123" || e.Venue != "binance" {
		t.Fatalf("event = %+v", e)
	}
	if e.FlowType != domain.FlowDeposit {
		t.Fatalf("flow type = %s", e.FlowType)
	}
	if e.Latency != 250*time.Millisecond {
		t.Fatalf("latency = %s, want 250ms", e.Latency)
	}
	if !e.DetectedAt.Equal(time.UnixMilli(1748779200000)) {
		t.Fatalf("detected at = %s", e.DetectedAt)
	}
}

func TestHandleMessageDropsMalformedJSON(t *testing.T) {
	s := newTestSource(0)
	s.handleMessage([]byte(`{not json`))
	if len(s.events) != 0 {
		t.Fatal("malformed message must not dispatch")
	}
}

func TestHandleMessageDropsUnknownFlowType(t *testing.T) {
	s := newTestSource(0)
	s.handleMessage([]byte(`{"tx_hash":"x","amount_btc":10,"flow_type":"transfer","exchange":"okx"}`))
	if len(s.events) != 0 {
		t.Fatal("unknown flow type must not dispatch")
	}
}

func TestHandleMessageFiltersBelowMinimum(t *testing.T) {
	s := newTestSource(5)
	s.handleMessage([]byte(`{"tx_hash":"x","amount_btc":1.5,"flow_type":"deposit","exchange":"okx"}`))
	if len(s.events) != 0 {
		t.Fatal("below-minimum flow must not dispatch")
	}

	s.handleMessage([]byte(`{"tx_hash":"x","amount_btc":6,"flow_type":"deposit","exchange":"okx"}`))
	e := receive(t, s)
	if e.AmountBTC != 6 {
		t.Fatalf("amount = %v", e.AmountBTC)
	}
	if e.Latency != 0 {
		t.Fatalf("latency = %s, want zero when unreported", e.Latency)
	}
}
