package domain

import "time"

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64
	Quantity float64 // BTC available at this price
}

// OrderBook is a depth snapshot for a single venue.
type OrderBook struct {
	Venue     string
	Bids      []BookLevel // descending price
	Asks      []BookLevel // ascending price
	FetchedAt time.Time
}

// Age returns how stale the snapshot is at now.
func (b OrderBook) Age(now time.Time) time.Duration {
	return now.Sub(b.FetchedAt)
}

// SideFor returns the levels a flow in the given direction consumes:
// sell pressure eats bids, buy pressure eats asks.
func (b OrderBook) SideFor(d Direction) []BookLevel {
	if d == DirectionShort {
		return b.Bids
	}
	return b.Asks
}

// BestBid returns the top bid price, or 0 when the side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice is the bid/ask midpoint, or whichever side exists.
func (b OrderBook) MidPrice() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}
