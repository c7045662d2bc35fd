package domain

import "fmt"

// Instrument is the closed set of tradeable BTC instrument variants.
type Instrument string

const (
	InstrumentSpot           Instrument = "spot"
	InstrumentMargin         Instrument = "margin"
	InstrumentPerpetual      Instrument = "perpetual"
	InstrumentFutures        Instrument = "futures"
	InstrumentOptions        Instrument = "options"
	InstrumentInverse        Instrument = "inverse"
	InstrumentLeveragedToken Instrument = "leveraged_token"
)

// AllInstruments lists every variant. Order is not meaningful.
var AllInstruments = []Instrument{
	InstrumentSpot,
	InstrumentMargin,
	InstrumentPerpetual,
	InstrumentFutures,
	InstrumentOptions,
	InstrumentInverse,
	InstrumentLeveragedToken,
}

// Valid reports whether i is one of the known variants.
func (i Instrument) Valid() bool {
	switch i {
	case InstrumentSpot, InstrumentMargin, InstrumentPerpetual,
		InstrumentFutures, InstrumentOptions, InstrumentInverse,
		InstrumentLeveragedToken:
		return true
	}
	return false
}

func (i Instrument) String() string { return string(i) }

// ParseInstrument converts a stored string back into an Instrument.
func ParseInstrument(s string) (Instrument, error) {
	i := Instrument(s)
	if !i.Valid() {
		return "", fmt.Errorf("unknown instrument %q", s)
	}
	return i, nil
}

// Direction of a trade signal. A large deposit to an exchange anticipates
// sell pressure (short), a withdrawal anticipates accumulation (long).
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the inverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}
