// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64 for money.
// Odds are price levels in American convention and stay integers.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// requestLiteral is how unpriced odds appear on the wire.
const requestLiteral = "request"

// Odds is the quoted price of one selection. A selection either carries a
// firm American-odds value or is quotable on request only, with no price
// attached. The zero value is the unpriced variant.
type Odds struct {
	value  int
	priced bool
}

// Priced returns firm odds at the given American value.
func Priced(value int) Odds {
	return Odds{value: value, priced: true}
}

// OnRequest returns the unpriced variant.
func OnRequest() Odds {
	return Odds{}
}

// IsPriced reports whether the odds carry a firm value.
func (o Odds) IsPriced() bool {
	return o.priced
}

// Value returns the American odds value; ok is false for unpriced odds.
func (o Odds) Value() (value int, ok bool) {
	return o.value, o.priced
}

// BetterThan reports whether o is the more favorable price for the bettor.
// Unpriced odds are never better than anything; firm odds always beat
// unpriced. Among firm odds a positive value beats a negative one, the
// larger value wins between positives, and the smaller absolute value wins
// between negatives. Odds are never better than themselves.
func (o Odds) BetterThan(other Odds) bool {
	switch {
	case !o.priced:
		return false
	case !other.priced:
		return true
	case o.value > 0 && other.value > 0:
		return o.value > other.value
	case o.value < 0 && other.value < 0:
		return -o.value < -other.value
	case o.value > 0 && other.value < 0:
		return true
	default:
		return false
	}
}

// String formats firm odds with an explicit sign, e.g. "+150" or "-110".
func (o Odds) String() string {
	if !o.priced {
		return requestLiteral
	}
	if o.value > 0 {
		return "+" + strconv.Itoa(o.value)
	}
	return strconv.Itoa(o.value)
}

// MarshalJSON serializes firm odds as a bare integer and unpriced odds as
// the literal string "request".
func (o Odds) MarshalJSON() ([]byte, error) {
	if !o.priced {
		return json.Marshal(requestLiteral)
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON accepts an integer, JSON null, or the string "request".
func (o *Odds) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = OnRequest()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*o = Priced(int(v))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s == requestLiteral {
		*o = OnRequest()
		return nil
	}
	return fmt.Errorf("model: invalid odds %s", string(data))
}
