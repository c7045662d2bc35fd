package prediction

import "strings"

// venueDefault is the conservative prior used before enough history exists.
type venueDefault struct {
	SellRate  float64
	AvgTime   float64 // seconds
	AvgImpact float64 // signed %
}

// Per-venue priors for large deposit flows. Venues not listed fall back to
// the generic prior.
var venueDefaults = map[string]venueDefault{
	"binance":  {SellRate: 0.97, AvgTime: 480, AvgImpact: -0.12},
	"okx":      {SellRate: 0.96, AvgTime: 540, AvgImpact: -0.10},
	"bybit":    {SellRate: 0.95, AvgTime: 420, AvgImpact: -0.11},
	"coinbase": {SellRate: 0.92, AvgTime: 900, AvgImpact: -0.08},
	"kraken":   {SellRate: 0.90, AvgTime: 720, AvgImpact: -0.07},
	"htx":      {SellRate: 0.94, AvgTime: 600, AvgImpact: -0.09},
	"gate":     {SellRate: 0.93, AvgTime: 660, AvgImpact: -0.10},
	"bitget":   {SellRate: 0.94, AvgTime: 540, AvgImpact: -0.09},
	"mexc":     {SellRate: 0.95, AvgTime: 480, AvgImpact: -0.11},
	"kucoin":   {SellRate: 0.93, AvgTime: 600, AvgImpact: -0.09},
	"deribit":  {SellRate: 0.91, AvgTime: 600, AvgImpact: -0.08},
	"bitfinex": {SellRate: 0.92, AvgTime: 720, AvgImpact: -0.09},
	"phemex":   {SellRate: 0.94, AvgTime: 540, AvgImpact: -0.10},
	"coinex":   {SellRate: 0.93, AvgTime: 600, AvgImpact: -0.09},
	"poloniex": {SellRate: 0.91, AvgTime: 660, AvgImpact: -0.08},
	"gemini":   {SellRate: 0.88, AvgTime: 900, AvgImpact: -0.06},
	"bitstamp": {SellRate: 0.87, AvgTime: 960, AvgImpact: -0.05},
}

var genericDefault = venueDefault{SellRate: 0.95, AvgTime: 600, AvgImpact: -0.10}

func defaultFor(venue string) venueDefault {
	if d, ok := venueDefaults[strings.ToLower(venue)]; ok {
		return d
	}
	return genericDefault
}
