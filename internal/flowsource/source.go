// Package flowsource delivers on-chain BTC flow events to the engine.
package flowsource

import (
	"context"

	"bitcoin-flow-trader/internal/domain"
)

// Source streams flow events. The channel closes when the source shuts
// down or the context is cancelled.
type Source interface {
	Subscribe(ctx context.Context) (<-chan domain.FlowEvent, error)
	Close() error
}
