package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SelectionLevel is one quotable price/size pair for one outcome, optionally
// scoped to a specific line value.
type SelectionLevel struct {
	SelectionID   int64           `json:"selection_id"`
	SelectionName string          `json:"selection_name"`
	LineID        string          `json:"line_id,omitempty"`
	Odds          Odds            `json:"odds"`
	Size          decimal.Decimal `json:"size"`
	ObservedAt    time.Time       `json:"timestamp"`
}

// OrderBook is the per-market view of quotable selections. Flat-selection
// markets (moneyline) populate only Selections; line-parameterized markets
// (spread, total) also populate LineGroups, and every level in a line group
// appears in Selections as well.
type OrderBook struct {
	EventID        int64
	MarketID       string
	MarketType     string
	EventName      string
	Selections     map[int64]SelectionLevel
	LineGroups     map[string]map[string][]SelectionLevel
	AvailableLines []string
	BestSelection  *SelectionLevel
	Spread         float64
	TotalVolume    decimal.Decimal
	LastUpdate     time.Time
}

// NewOrderBook creates an empty book for one market of one event.
func NewOrderBook(eventID int64, marketID, marketType, eventName string) *OrderBook {
	return &OrderBook{
		EventID:    eventID,
		MarketID:   marketID,
		MarketType: marketType,
		EventName:  eventName,
		Selections: make(map[int64]SelectionLevel),
		LineGroups: make(map[string]map[string][]SelectionLevel),
	}
}

// RecomputeMetrics refreshes the derived fields from the current selections.
// BestSelection is an arbitrary representative level, not a best-of-book
// price; selections quote independent outcomes and have no total ranking.
func (b *OrderBook) RecomputeMetrics() {
	if len(b.Selections) == 0 {
		b.BestSelection = nil
		b.Spread = 0
		b.TotalVolume = decimal.Zero
		return
	}

	var haveBest bool
	var minOdds, maxOdds int
	var priced int
	total := decimal.Zero

	for _, sel := range b.Selections {
		if !haveBest {
			level := sel
			b.BestSelection = &level
			haveBest = true
		}
		total = total.Add(sel.Size)
		if v, ok := sel.Odds.Value(); ok {
			if priced == 0 || v < minOdds {
				minOdds = v
			}
			if priced == 0 || v > maxOdds {
				maxOdds = v
			}
			priced++
		}
	}

	b.TotalVolume = total
	if priced >= 2 {
		b.Spread = float64(maxOdds - minOdds)
	} else {
		b.Spread = 0
	}
}

// Clone returns a deep copy safe for readers outside the engine.
func (b *OrderBook) Clone() *OrderBook {
	c := *b
	c.Selections = make(map[int64]SelectionLevel, len(b.Selections))
	for id, sel := range b.Selections {
		c.Selections[id] = sel
	}
	c.LineGroups = make(map[string]map[string][]SelectionLevel, len(b.LineGroups))
	for line, byName := range b.LineGroups {
		group := make(map[string][]SelectionLevel, len(byName))
		for name, levels := range byName {
			group[name] = append([]SelectionLevel(nil), levels...)
		}
		c.LineGroups[line] = group
	}
	c.AvailableLines = append([]string(nil), b.AvailableLines...)
	if b.BestSelection != nil {
		best := *b.BestSelection
		c.BestSelection = &best
	}
	return &c
}

// BookSnapshot is the order-book serialization consumed by the dashboard.
type BookSnapshot struct {
	MarketID         string                                 `json:"market_id"`
	EventID          int64                                  `json:"event_id"`
	EventName        string                                 `json:"event_name"`
	MarketType       string                                 `json:"market_type"`
	LastUpdate       time.Time                              `json:"last_update"`
	Spread           float64                                `json:"spread"`
	TotalVolume      decimal.Decimal                        `json:"total_volume"`
	BestSelection    *SelectionLevel                        `json:"best_selection"`
	Selections       []SelectionLevel                       `json:"selections"`
	LineGroups       map[string]map[string][]SelectionLevel `json:"line_groups"`
	AvailableLines   []string                               `json:"available_lines"`
	HasMultipleLines bool                                   `json:"has_multiple_lines"`
}

// Snapshot flattens the book into its wire form.
func (b *OrderBook) Snapshot() BookSnapshot {
	c := b.Clone()
	selections := make([]SelectionLevel, 0, len(c.Selections))
	for _, sel := range c.Selections {
		selections = append(selections, sel)
	}
	return BookSnapshot{
		MarketID:         c.MarketID,
		EventID:          c.EventID,
		EventName:        c.EventName,
		MarketType:       c.MarketType,
		LastUpdate:       c.LastUpdate,
		Spread:           c.Spread,
		TotalVolume:      c.TotalVolume,
		BestSelection:    c.BestSelection,
		Selections:       selections,
		LineGroups:       c.LineGroups,
		AvailableLines:   c.AvailableLines,
		HasMultipleLines: len(c.AvailableLines) > 1,
	}
}

// Trade is one matched bet observed on the public feed.
type Trade struct {
	EventID    int64           `json:"event_id"`
	MarketID   int64           `json:"market_id"`
	Line       string          `json:"line"`
	Odds       Odds            `json:"odds"`
	Stake      decimal.Decimal `json:"stake"`
	LineID     string          `json:"line_id"`
	OutcomeID  int64           `json:"outcome_id"`
	Aggressive bool            `json:"aggressive"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Balance is the account balance reported by the exchange.
type Balance struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}
