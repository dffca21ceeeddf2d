// Package instrument derives trading parameters from raw tick identifiers.
package instrument

import (
	"regexp"
	"strconv"
	"strings"
)

// identifierPattern matches <SYMBOL>_<DDMMMYYYY>_... e.g. NIFTY_26JUN2025_24000_CE
var identifierPattern = regexp.MustCompile(`^([A-Z]+)_(\d{2}[A-Z]{3}\d{4})_`)

// Instrument is the session identity carried by a tick identifier.
type Instrument struct {
	Symbol string `json:"symbol" yaml:"symbol"`
	Expiry string `json:"expiry" yaml:"expiry"`
}

// Side is the option side encoded in an identifier.
type Side string

const (
	SideCall    Side = "CE"
	SidePut     Side = "PE"
	SideUnknown Side = ""
)

// Contract is an Instrument plus the strike and side, when the identifier carries them.
type Contract struct {
	Instrument `yaml:",inline"`
	Strike     int  `json:"strike,omitempty" yaml:"strike,omitempty"`
	Side       Side `json:"side,omitempty" yaml:"side,omitempty"`
}

// Parse extracts symbol and expiry from an identifier.
// The second return value is false when the identifier does not match; that is a skip, not an error.
func Parse(identifier string) (Instrument, bool) {
	m := identifierPattern.FindStringSubmatch(identifier)
	if m == nil {
		return Instrument{}, false
	}
	return Instrument{Symbol: m[1], Expiry: m[2]}, true
}

// ParseContract is Parse plus strike and side extraction from the remaining tokens.
func ParseContract(identifier string) (Contract, bool) {
	inst, ok := Parse(identifier)
	if !ok {
		return Contract{}, false
	}

	c := Contract{Instrument: inst}
	rest := identifier[len(inst.Symbol)+1+len(inst.Expiry)+1:]
	for _, tok := range strings.Split(rest, "_") {
		switch {
		case tok == string(SideCall), tok == string(SidePut):
			c.Side = Side(tok)
		case tok != "":
			if n, err := strconv.Atoi(tok); err == nil && n > 0 {
				c.Strike = n
			}
		}
	}
	return c, true
}

// RawTick is one record from the tick stream. Only the identifier is interpreted;
// everything else is carried through untouched.
type RawTick struct {
	InstrumentIdentifier string         `json:"InstrumentIdentifier"`
	Fields               map[string]any `json:"-"`
}

// FromBatch infers the session identity from a batch of ticks.
// Only the first tick is inspected: one representative tick per batch is enough.
func FromBatch(batch []RawTick) (Instrument, bool) {
	if len(batch) == 0 {
		return Instrument{}, false
	}
	return Parse(batch[0].InstrumentIdentifier)
}
