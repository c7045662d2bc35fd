package flowsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/idhash"
	"bitcoin-flow-trader/internal/observability"
)

// WSConfig configures the websocket flow feed client.
type WSConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration
	// ReadTimeout bounds a single read.
	ReadTimeout time.Duration
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
	// MinAmountBTC drops events below this size at the source.
	MinAmountBTC float64
}

// DefaultWSConfig returns the default feed configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSSource reads flow events from a websocket feed of exchange wallet
// movements. It reconnects with exponential backoff and never drops an
// event once read.
type WSSource struct {
	endpoint string
	config   WSConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan domain.FlowEvent
	done   chan struct{}
	wg     sync.WaitGroup

	reconnecting atomic.Bool
	subscribed   atomic.Bool
}

// NewWSSource connects to the feed endpoint.
func NewWSSource(ctx context.Context, endpoint string, config *WSConfig, logger *log.Logger) (*WSSource, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &WSSource{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		events:   make(chan domain.FlowEvent, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Subscribe returns the event channel. Only one subscriber is supported.
func (s *WSSource) Subscribe(_ context.Context) (<-chan domain.FlowEvent, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("source closed")
	}
	if s.subscribed.Swap(true) {
		return nil, fmt.Errorf("already subscribed")
	}
	return s.events, nil
}

// Close shuts the feed down and closes the event channel.
func (s *WSSource) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *WSSource) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// readLoop reads feed messages and dispatches flow events, reconnecting
// with exponential backoff on connection errors.
func (s *WSSource) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

func (s *WSSource) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Printf("[flowsource] reconnect failed: %v", err)
		return
	}
	observability.RecordWSReconnect()
	s.logger.Printf("[flowsource] reconnected to %s", s.endpoint)
}

// wsFlowMessage is the feed's wire format for one wallet movement.
type wsFlowMessage struct {
	TxHash     string   `json:"tx_hash"`
	AmountBTC  float64  `json:"amount_btc"`
	FlowType   string   `json:"flow_type"`
	Exchange   string   `json:"exchange"`
	Candidates []string `json:"candidates,omitempty"`
	DetectedAt int64    `json:"detected_at_ms"`
	LatencyNS  int64    `json:"latency_ns,omitempty"`
}

func (s *WSSource) handleMessage(message []byte) {
	var msg wsFlowMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		observability.RecordFlowError("decode")
		s.logger.Printf("[flowsource] bad message: %v", err)
		return
	}
	if msg.TxHash == "" || msg.AmountBTC <= 0 {
		return
	}
	if s.config.MinAmountBTC > 0 && msg.AmountBTC < s.config.MinAmountBTC {
		observability.RecordFlowBelowMinimum()
		return
	}

	flowType := domain.FlowType(strings.ToLower(msg.FlowType))
	if !flowType.Valid() {
		observability.RecordFlowError("flow_type")
		s.logger.Printf("[flowsource] unknown flow type %q", msg.FlowType)
		return
	}

	detected := time.Now()
	if msg.DetectedAt > 0 {
		detected = time.UnixMilli(msg.DetectedAt)
	}

	event := domain.FlowEvent{
		ID:         idhash.ComputeFlowID(msg.TxHash, msg.Exchange, flowType, msg.AmountBTC),
		TxHash:     msg.TxHash,
		AmountBTC:  msg.AmountBTC,
		FlowType:   flowType,
		Venue:      msg.Exchange,
		Candidates: msg.Candidates,
		DetectedAt: detected,
		Latency:    time.Duration(msg.LatencyNS),
	}

	// Block until we can send - never drop events
	select {
	case s.events <- event:
	case <-s.done:
	}
}

// pingLoop keeps the connection alive.
func (s *WSSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}

var _ Source = (*WSSource)(nil)
