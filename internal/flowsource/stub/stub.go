// Package stub provides a channel-backed flow source for tests and replay.
package stub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/flowsource"
)

// Source feeds hand-crafted flow events into the engine.
type Source struct {
	events chan domain.FlowEvent
	closed atomic.Bool
	once   sync.Once
}

// NewSource creates a Source with room for buffer pending events.
func NewSource(buffer int) *Source {
	if buffer <= 0 {
		buffer = 64
	}
	return &Source{events: make(chan domain.FlowEvent, buffer)}
}

// Emit queues one event. Returns false once the source is closed.
func (s *Source) Emit(e domain.FlowEvent) bool {
	if s.closed.Load() {
		return false
	}
	s.events <- e
	return true
}

// Subscribe implements flowsource.Source.
func (s *Source) Subscribe(_ context.Context) (<-chan domain.FlowEvent, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("source closed")
	}
	return s.events, nil
}

// Close implements flowsource.Source.
func (s *Source) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.once.Do(func() { close(s.events) })
	return nil
}

var _ flowsource.Source = (*Source)(nil)
