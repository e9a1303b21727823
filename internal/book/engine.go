// Package book owns the per-market order book state. The engine applies
// normalized feed updates, recomputes derived metrics, and emits change
// notifications through the hub.
//
// All mutation happens on the single goroutine draining the feed queue;
// the lock exists so HTTP readers can take consistent snapshots.
package book

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/feed"
	"github.com/prophetmm/market-engine/internal/hub"
	"github.com/prophetmm/market-engine/internal/metrics"
	"github.com/prophetmm/market-engine/internal/model"
)

// recentTradeLimit caps the matched-bet history kept per event.
const recentTradeLimit = 50

// OrderBookUpdate is the payload of an "order_book_update" notification.
type OrderBookUpdate struct {
	EventID  int64              `json:"event_id"`
	MarketID string             `json:"market_id"`
	Book     model.BookSnapshot `json:"order_book"`
}

// TradeUpdate is the payload of a "trade_update" notification.
type TradeUpdate struct {
	EventID  int64           `json:"event_id"`
	MarketID int64           `json:"market_id"`
	Stake    decimal.Decimal `json:"stake"`
	Odds     model.Odds      `json:"odds"`
	Line     string          `json:"line"`
	Trade    model.Trade     `json:"trade"`
}

// LineUpdate is the payload of a "market_line_update" notification.
type LineUpdate struct {
	EventID  int64  `json:"event_id"`
	MarketID int64  `json:"market_id"`
	Line     string `json:"line"`
	Status   string `json:"status"`
}

// Engine maintains one order book per market and the recent matched-bet
// history per event. Books are created on first observation of a market and
// mutated in place afterwards.
type Engine struct {
	mu      sync.RWMutex
	books   map[string]*model.OrderBook
	byEvent map[int64][]string
	trades  map[int64][]model.Trade
	applied uint64
	hub     *hub.Hub
}

// NewEngine creates an empty engine publishing into the given hub.
func NewEngine(h *hub.Hub) *Engine {
	return &Engine{
		books:   make(map[string]*model.OrderBook),
		byEvent: make(map[int64][]string),
		trades:  make(map[int64][]model.Trade),
		hub:     h,
	}
}

// MarketKey derives the book key for one market of one event.
func MarketKey(eventID, marketID int64) string {
	return fmt.Sprintf("%d_%d", eventID, marketID)
}

// Apply routes one normalized update to its processing path. It never
// panics outward: a processing fault is caught and logged, and the book is
// left as it was.
func (e *Engine) Apply(u feed.MarketUpdate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("book: update processing failed, book unchanged",
				"change_type", u.ChangeType, "event_id", u.EventID, "panic", r)
		}
	}()

	switch u.Kind {
	case feed.KindSelections:
		e.applySelections(u)
	case feed.KindTrade:
		e.applyTrade(u)
	case feed.KindLine:
		e.applyLine(u)
	default:
		e.applyGeneric(u)
	}
}

func (e *Engine) applySelections(u feed.MarketUpdate) {
	if u.EventID == 0 || u.MarketID == 0 {
		slog.Warn("book: selection update missing ids", "event_id", u.EventID, "market_id", u.MarketID)
		return
	}

	// Build the replacement selection state before touching the book, so a
	// fault mid-computation cannot leave it half-updated.
	var selections map[int64]model.SelectionLevel
	var lineGroups map[string]map[string][]model.SelectionLevel
	var lines []string
	if len(u.MarketLines) > 0 {
		selections, lineGroups, lines = groupedLevels(u.MarketLines, u.Timestamp)
	} else {
		selections = flatLevels(u.Selections, u.Timestamp)
		lineGroups = make(map[string]map[string][]model.SelectionLevel)
	}

	e.mu.Lock()
	b := e.bookLocked(u)
	b.Selections = selections
	b.LineGroups = lineGroups
	b.AvailableLines = lines
	b.LastUpdate = u.Timestamp
	b.RecomputeMetrics()
	e.applied++
	snap := b.Snapshot()
	e.mu.Unlock()

	e.hub.Notify("order_book_update", OrderBookUpdate{
		EventID:  u.EventID,
		MarketID: snap.MarketID,
		Book:     snap,
	})
}

func (e *Engine) applyTrade(u feed.MarketUpdate) {
	if u.EventID == 0 || u.MarketID == 0 || u.Info == nil {
		slog.Warn("book: trade update missing ids or info", "event_id", u.EventID, "market_id", u.MarketID)
		return
	}

	line := string(u.Info.Line)
	if line == "" {
		line = "N/A"
	}
	trade := model.Trade{
		EventID:    u.EventID,
		MarketID:   u.MarketID,
		Line:       line,
		Odds:       u.Info.MatchedOdds,
		Stake:      u.Info.MatchedStake,
		LineID:     u.Info.LineID,
		OutcomeID:  int64(u.Info.OutcomeID),
		Aggressive: u.Info.Aggressive,
		Timestamp:  u.Timestamp,
	}

	e.mu.Lock()
	recent := append(e.trades[u.EventID], trade)
	if len(recent) > recentTradeLimit {
		recent = recent[len(recent)-recentTradeLimit:]
	}
	e.trades[u.EventID] = recent
	e.applied++
	e.mu.Unlock()

	e.hub.Notify("trade_update", TradeUpdate{
		EventID:  trade.EventID,
		MarketID: trade.MarketID,
		Stake:    trade.Stake,
		Odds:     trade.Odds,
		Line:     trade.Line,
		Trade:    trade,
	})

	// Liquidity may have moved; refresh every book of the event.
	e.refreshEvent(u.EventID, u)
}

func (e *Engine) applyLine(u feed.MarketUpdate) {
	if u.EventID == 0 || u.MarketID == 0 {
		slog.Warn("book: line update missing ids", "event_id", u.EventID, "market_id", u.MarketID)
		return
	}

	var line, status string
	if u.Info != nil {
		line = string(u.Info.Line)
		status = u.Info.Status
	}
	if line == "" {
		line = "N/A"
	}
	if status == "" {
		status = "unknown"
	}

	e.mu.Lock()
	e.applied++
	e.mu.Unlock()

	e.hub.Notify("market_line_update", LineUpdate{
		EventID:  u.EventID,
		MarketID: u.MarketID,
		Line:     line,
		Status:   status,
	})
	e.refreshEvent(u.EventID, u)
}

func (e *Engine) applyGeneric(u feed.MarketUpdate) {
	e.mu.Lock()
	e.applied++
	e.mu.Unlock()

	if u.EventID == 0 {
		// Raw passthrough: nothing to key the update on.
		e.hub.Notify("market_data_update", map[string]any{"raw_data": string(u.Raw)})
		return
	}
	e.hub.Notify("market_data_update", map[string]any{
		"event_id":  u.EventID,
		"market_id": u.MarketID,
		"raw_data":  string(u.Raw),
	})
	e.refreshEvent(u.EventID, u)
}

// refreshEvent recomputes metrics for every book of the event and emits one
// order_book_update per book.
func (e *Engine) refreshEvent(eventID int64, u feed.MarketUpdate) {
	e.mu.Lock()
	keys := e.byEvent[eventID]
	snaps := make([]OrderBookUpdate, 0, len(keys))
	for _, key := range keys {
		b, ok := e.books[key]
		if !ok {
			continue
		}
		b.LastUpdate = u.Timestamp
		b.RecomputeMetrics()
		snaps = append(snaps, OrderBookUpdate{
			EventID:  eventID,
			MarketID: b.MarketID,
			Book:     b.Snapshot(),
		})
	}
	e.mu.Unlock()

	for _, snap := range snaps {
		e.hub.Notify("order_book_update", snap)
	}
}

// bookLocked finds or creates the book for the update's market. Caller
// holds the write lock.
func (e *Engine) bookLocked(u feed.MarketUpdate) *model.OrderBook {
	key := MarketKey(u.EventID, u.MarketID)
	if b, ok := e.books[key]; ok {
		if u.MarketType != "" {
			b.MarketType = u.MarketType
		}
		if u.EventName != "" {
			b.EventName = u.EventName
		}
		return b
	}
	b := model.NewOrderBook(u.EventID, key, u.MarketType, u.EventName)
	e.books[key] = b
	e.byEvent[u.EventID] = append(e.byEvent[u.EventID], key)
	metrics.OrderBooks.Set(float64(len(e.books)))
	return b
}

// Get returns a copy of one market's book.
func (e *Engine) Get(marketID string) (*model.OrderBook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[marketID]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// GetForEvent returns copies of every book belonging to one event.
func (e *Engine) GetForEvent(eventID int64) []*model.OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := e.byEvent[eventID]
	books := make([]*model.OrderBook, 0, len(keys))
	for _, key := range keys {
		if b, ok := e.books[key]; ok {
			books = append(books, b.Clone())
		}
	}
	return books
}

// GetAll returns copies of every book keyed by market id.
func (e *Engine) GetAll() map[string]*model.OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	all := make(map[string]*model.OrderBook, len(e.books))
	for key, b := range e.books {
		all[key] = b.Clone()
	}
	return all
}

// RecentTrades returns the matched-bet history kept for one event, newest
// last.
func (e *Engine) RecentTrades(eventID int64) []model.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.Trade(nil), e.trades[eventID]...)
}

// Stats reports engine-level counters for the dashboard.
func (e *Engine) Stats() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]any{
		"order_books":     len(e.books),
		"events_tracked":  len(e.byEvent),
		"updates_applied": e.applied,
	}
}
