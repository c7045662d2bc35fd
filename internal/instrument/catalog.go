// Package instrument maps venues to the BTC instrument variants they list
// and picks the preferred variant for a signal.
package instrument

import (
	"sort"
	"strings"

	"bitcoin-flow-trader/internal/domain"
)

// selection preference, highest leverage first. Options are excluded from
// automatic selection and only returned on explicit request.
var priority = []domain.Instrument{
	domain.InstrumentPerpetual,
	domain.InstrumentFutures,
	domain.InstrumentInverse,
	domain.InstrumentMargin,
	domain.InstrumentLeveragedToken,
	domain.InstrumentSpot,
}

var maxLeverage = map[domain.Instrument]int{
	domain.InstrumentSpot:           1,
	domain.InstrumentMargin:         10,
	domain.InstrumentPerpetual:      125,
	domain.InstrumentFutures:        100,
	domain.InstrumentOptions:        1,
	domain.InstrumentInverse:        100,
	domain.InstrumentLeveragedToken: 3,
}

// defaultVenues is the verified exchange support matrix.
var defaultVenues = map[string][]domain.Instrument{
	"binance": {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual,
		domain.InstrumentFutures, domain.InstrumentLeveragedToken},
	"bybit":    {domain.InstrumentSpot, domain.InstrumentPerpetual, domain.InstrumentInverse},
	"coinbase": {domain.InstrumentSpot},
	"gemini":   {domain.InstrumentSpot, domain.InstrumentPerpetual},
	"kraken":   {domain.InstrumentSpot, domain.InstrumentMargin},
	"bitstamp": {domain.InstrumentSpot},
	"okx": {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual,
		domain.InstrumentFutures, domain.InstrumentOptions, domain.InstrumentInverse},
	"htx": {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual,
		domain.InstrumentFutures, domain.InstrumentInverse},
	"kucoin": {domain.InstrumentSpot, domain.InstrumentMargin},
	"gate": {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual,
		domain.InstrumentFutures, domain.InstrumentOptions, domain.InstrumentLeveragedToken},
	"mexc": {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual,
		domain.InstrumentFutures, domain.InstrumentLeveragedToken},
	"bitget":    {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual, domain.InstrumentFutures},
	"phemex":    {domain.InstrumentSpot, domain.InstrumentPerpetual, domain.InstrumentFutures, domain.InstrumentInverse},
	"deribit":   {domain.InstrumentPerpetual, domain.InstrumentFutures, domain.InstrumentOptions, domain.InstrumentInverse},
	"poloniex":  {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual},
	"bitfinex":  {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual},
	"coinex":    {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual, domain.InstrumentFutures},
	"bingx":     {domain.InstrumentSpot, domain.InstrumentPerpetual, domain.InstrumentFutures},
	"bitmart":   {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual},
	"lbank":     {domain.InstrumentSpot, domain.InstrumentPerpetual},
	"whitebit":  {domain.InstrumentSpot, domain.InstrumentPerpetual},
	"cryptocom": {domain.InstrumentSpot, domain.InstrumentPerpetual},
	"xt":        {domain.InstrumentSpot, domain.InstrumentPerpetual},
	"probit":    {domain.InstrumentSpot},
	"ascendex":  {domain.InstrumentSpot, domain.InstrumentMargin, domain.InstrumentPerpetual},
}

// Catalog answers which variants a venue lists. Read-only after New.
type Catalog struct {
	venues map[string][]domain.Instrument
}

// Options configures Catalog construction.
type Options struct {
	// Venues overrides the built-in support matrix when non-nil.
	Venues map[string][]domain.Instrument
}

// New builds a Catalog from the built-in matrix or an override.
func New(opts Options) *Catalog {
	src := opts.Venues
	if src == nil {
		src = defaultVenues
	}
	venues := make(map[string][]domain.Instrument, len(src))
	for venue, list := range src {
		cp := make([]domain.Instrument, len(list))
		copy(cp, list)
		venues[strings.ToLower(venue)] = cp
	}
	return &Catalog{venues: venues}
}

// SupportedVariants returns the variants the venue lists, priority order
// first, options last. Unknown venues fall back to spot only.
func (c *Catalog) SupportedVariants(venue string) []domain.Instrument {
	list, ok := c.venues[strings.ToLower(venue)]
	if !ok {
		return []domain.Instrument{domain.InstrumentSpot}
	}
	out := make([]domain.Instrument, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i]) < rank(out[j])
	})
	return out
}

// Supports reports whether the venue lists the variant.
func (c *Catalog) Supports(venue string, inst domain.Instrument) bool {
	for _, v := range c.venues[strings.ToLower(venue)] {
		if v == inst {
			return true
		}
	}
	return false
}

// BestVariant picks the highest priority variant the venue lists. Options
// never win automatic selection. Unknown venues get spot.
func (c *Catalog) BestVariant(venue string) domain.Instrument {
	list, ok := c.venues[strings.ToLower(venue)]
	if !ok {
		return domain.InstrumentSpot
	}
	for _, want := range priority {
		for _, have := range list {
			if have == want {
				return want
			}
		}
	}
	return domain.InstrumentSpot
}

// Venues returns the known venue names, sorted.
func (c *Catalog) Venues() []string {
	out := make([]string, 0, len(c.venues))
	for v := range c.venues {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Known reports whether the venue is in the matrix.
func (c *Catalog) Known(venue string) bool {
	_, ok := c.venues[strings.ToLower(venue)]
	return ok
}

// MaxLeverage returns the leverage cap for the variant, 1 for unknown.
func MaxLeverage(inst domain.Instrument) int {
	if lv, ok := maxLeverage[inst]; ok {
		return lv
	}
	return 1
}

func rank(inst domain.Instrument) int {
	for i, p := range priority {
		if p == inst {
			return i
		}
	}
	return len(priority) // options and anything unknown sort last
}
