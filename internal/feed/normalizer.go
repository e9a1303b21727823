// Package feed decodes push frames from the exchange's real-time channel
// into typed market updates and funnels them onto the engine goroutine.
//
// A frame is a JSON envelope whose payload field is base64-wrapped JSON.
// Malformed frames fail with ErrDecode and are dropped and counted; they
// never propagate into the processing pipeline.
package feed

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/model"
)

// ErrDecode marks a push frame that is not valid base64 or not valid JSON.
var ErrDecode = errors.New("feed: malformed push payload")

// ChangeKind routes a decoded update to its processing path.
type ChangeKind int

const (
	KindGeneric ChangeKind = iota
	KindSelections
	KindTrade
	KindLine
	KindWager
)

func (k ChangeKind) String() string {
	switch k {
	case KindSelections:
		return "selections"
	case KindTrade:
		return "trade"
	case KindLine:
		return "line"
	case KindWager:
		return "wager"
	default:
		return "generic"
	}
}

func kindOf(changeType string) ChangeKind {
	switch changeType {
	case "selections", "market_selections":
		return KindSelections
	case "matched_bet":
		return KindTrade
	case "market_line":
		return KindLine
	case "wager_update", "wager_placed", "wager_matched", "wager_cancelled":
		return KindWager
	default:
		return KindGeneric
	}
}

// Envelope is the raw push frame as delivered by the transport.
type Envelope struct {
	Payload    string  `json:"payload"`
	ChangeType string  `json:"change_type"`
	Timestamp  float64 `json:"timestamp"`
}

// Info is the nested info object carried by trade and line frames.
type Info struct {
	SportEventID flexInt         `json:"sport_event_id"`
	EventID      flexInt         `json:"event_id"`
	MarketID     flexInt         `json:"market_id"`
	MatchedStake decimal.Decimal `json:"matched_stake"`
	MatchedOdds  model.Odds      `json:"matched_odds"`
	Line         flexString      `json:"line"`
	OutcomeID    flexInt         `json:"outcome_id"`
	Aggressive   bool            `json:"aggressive"`
	LineID       string          `json:"line_id"`
	Status       string          `json:"status"`
}

// Selection is one raw quotable entry inside a selection or line frame.
type Selection struct {
	Name      string          `json:"name"`
	Odds      model.Odds      `json:"odds"`
	Value     decimal.Decimal `json:"value"`
	LineID    string          `json:"line_id"`
	OutcomeID flexInt         `json:"outcome_id"`
}

// SelectionGroups flattens the feed's mixed shape: entries arrive either as
// bare selection objects or as nested arrays of them.
type SelectionGroups []Selection

func (g *SelectionGroups) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]Selection, 0, len(items))
	for _, item := range items {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var nested []Selection
			if err := json.Unmarshal(trimmed, &nested); err != nil {
				return err
			}
			out = append(out, nested...)
			continue
		}
		var sel Selection
		if err := json.Unmarshal(trimmed, &sel); err != nil {
			return err
		}
		out = append(out, sel)
	}
	*g = out
	return nil
}

// MarketLine is one line value with its selections.
type MarketLine struct {
	Line       flexString      `json:"line"`
	Selections SelectionGroups `json:"selections"`
}

type payload struct {
	SportEventID flexInt         `json:"sport_event_id"`
	EventID      flexInt         `json:"event_id"`
	MarketID     flexInt         `json:"market_id"`
	MarketType   string          `json:"market_type"`
	EventName    string          `json:"event_name"`
	Info         *Info           `json:"info"`
	Selections   SelectionGroups `json:"selections"`
	MarketLines  []MarketLine    `json:"market_lines"`
}

// MarketUpdate is the normalized, immutable update record handed to the
// order book engine. EventID and MarketID are zero when the frame carried
// neither at the top level nor under info.
type MarketUpdate struct {
	Kind        ChangeKind
	ChangeType  string
	EventID     int64
	MarketID    int64
	Timestamp   time.Time
	MarketType  string
	EventName   string
	Selections  []Selection
	MarketLines []MarketLine
	Info        *Info
	Raw         json.RawMessage
}

// Decode normalizes one raw push frame.
func Decode(raw []byte) (MarketUpdate, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return MarketUpdate{}, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope normalizes an already-parsed envelope.
func DecodeEnvelope(env Envelope) (MarketUpdate, error) {
	body, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return MarketUpdate{}, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return MarketUpdate{}, fmt.Errorf("%w: body: %v", ErrDecode, err)
	}

	ts := time.Now().UTC()
	if env.Timestamp > 0 {
		sec, frac := int64(env.Timestamp), env.Timestamp-float64(int64(env.Timestamp))
		ts = time.Unix(sec, int64(frac*float64(time.Second))).UTC()
	}

	u := MarketUpdate{
		Kind:        kindOf(env.ChangeType),
		ChangeType:  env.ChangeType,
		Timestamp:   ts,
		MarketType:  p.MarketType,
		EventName:   p.EventName,
		Selections:  p.Selections,
		MarketLines: p.MarketLines,
		Info:        p.Info,
		Raw:         body,
	}

	// IDs can sit at the top level or under info; check both.
	u.EventID = firstID(p.SportEventID, p.EventID)
	u.MarketID = int64(p.MarketID)
	if p.Info != nil {
		if u.EventID == 0 {
			u.EventID = firstID(p.Info.SportEventID, p.Info.EventID)
		}
		if u.MarketID == 0 {
			u.MarketID = int64(p.Info.MarketID)
		}
	}
	return u, nil
}

func firstID(ids ...flexInt) int64 {
	for _, id := range ids {
		if id != 0 {
			return int64(id)
		}
	}
	return 0
}

// flexInt tolerates ids arriving as numbers or numeric strings. A value
// that coerces to neither is logged and treated as absent.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*f = flexInt(n)
			return nil
		}
	}
	slog.Warn("feed: could not coerce id to integer", "value", string(data))
	*f = 0
	return nil
}

// flexString keeps line values as strings whether the feed sends "2.5" or 2.5.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(bytes.TrimSpace(data))
	return nil
}
