package book

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/feed"
	"github.com/prophetmm/market-engine/internal/hub"
)

// recorder captures hub notifications for assertions.
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	updateType string
	payload    any
}

func (r *recorder) callback(updateType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{updateType, payload})
}

func (r *recorder) ofType(updateType string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.events {
		if e.updateType == updateType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *recorder) {
	t.Helper()
	h := hub.New()
	rec := &recorder{}
	h.Subscribe(rec.callback)
	return NewEngine(h), rec
}

func decodeFrame(t *testing.T, changeType string, body map[string]any) feed.MarketUpdate {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	u, err := feed.DecodeEnvelope(feed.Envelope{
		Payload:    base64.StdEncoding.EncodeToString(raw),
		ChangeType: changeType,
		Timestamp:  1700000000,
	})
	if err != nil {
		t.Fatalf("decode %s frame: %v", changeType, err)
	}
	return u
}

func selectionsFrame(t *testing.T) feed.MarketUpdate {
	t.Helper()
	return decodeFrame(t, "selections", map[string]any{
		"sport_event_id": 777,
		"market_id":      3,
		"market_type":    "moneyline",
		"event_name":     "Home vs Away",
		"selections": []any{
			map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10, "line_id": "L1"},
			map[string]any{"name": "Away", "odds": 105, "value": 50, "outcome_id": 11, "line_id": "L2"},
		},
	})
}

func TestApply_SelectionsCreatesBook(t *testing.T) {
	e, rec := newTestEngine(t)
	e.Apply(selectionsFrame(t))

	b, ok := e.Get(MarketKey(777, 3))
	if !ok {
		t.Fatal("book not created")
	}
	if len(b.Selections) != 2 {
		t.Fatalf("got %d selections, want 2", len(b.Selections))
	}
	if b.MarketType != "moneyline" || b.EventName != "Home vs Away" {
		t.Errorf("book metadata = (%s,%s)", b.MarketType, b.EventName)
	}
	if b.Selections[10].LineID != "L1" {
		t.Errorf("level line id = %q, want L1", b.Selections[10].LineID)
	}

	updates := rec.ofType("order_book_update")
	if len(updates) != 1 {
		t.Fatalf("got %d order_book_update notifications, want 1", len(updates))
	}
	upd := updates[0].payload.(OrderBookUpdate)
	if upd.EventID != 777 || upd.MarketID != MarketKey(777, 3) {
		t.Errorf("notification keyed (%d,%s)", upd.EventID, upd.MarketID)
	}
}

func TestApply_FlatUpdateClearsLineGroups(t *testing.T) {
	e, _ := newTestEngine(t)

	e.Apply(decodeFrame(t, "market_selections", map[string]any{
		"sport_event_id": 777,
		"market_id":      3,
		"market_type":    "total",
		"market_lines": []any{
			map[string]any{"line": "2.5", "selections": []any{
				map[string]any{"name": "Over", "odds": -110, "value": 40},
			}},
		},
	}))

	b, _ := e.Get(MarketKey(777, 3))
	if len(b.LineGroups) != 1 || len(b.AvailableLines) != 1 {
		t.Fatalf("line-grouped update not applied: %d groups", len(b.LineGroups))
	}

	// A later flat update replaces the whole selection state.
	e.Apply(selectionsFrame(t))

	b, _ = e.Get(MarketKey(777, 3))
	if len(b.LineGroups) != 0 || len(b.AvailableLines) != 0 {
		t.Error("flat update must clear stale line groups")
	}
	if len(b.Selections) != 2 {
		t.Errorf("got %d selections after flat update, want 2", len(b.Selections))
	}
}

func TestApply_TradeUpdate(t *testing.T) {
	e, rec := newTestEngine(t)
	e.Apply(selectionsFrame(t))

	e.Apply(decodeFrame(t, "matched_bet", map[string]any{
		"info": map[string]any{
			"sport_event_id": 777,
			"market_id":      3,
			"matched_stake":  25,
			"matched_odds":   -150,
			"line":           "2.5",
			"aggressive":     true,
		},
	}))

	trades := rec.ofType("trade_update")
	if len(trades) != 1 {
		t.Fatalf("got %d trade_update notifications, want 1", len(trades))
	}
	tu := trades[0].payload.(TradeUpdate)
	if tu.EventID != 777 || tu.MarketID != 3 {
		t.Errorf("trade keyed (%d,%d), want (777,3)", tu.EventID, tu.MarketID)
	}
	if !tu.Stake.Equal(decimal.NewFromInt(25)) {
		t.Errorf("trade stake = %s, want 25", tu.Stake)
	}
	if v, _ := tu.Odds.Value(); v != -150 {
		t.Errorf("trade odds = %d, want -150", v)
	}

	// One book refresh per book of the event, after the trade notification.
	books := rec.ofType("order_book_update")
	if len(books) != 2 {
		t.Errorf("got %d book notifications, want 2 (create + refresh)", len(books))
	}

	history := e.RecentTrades(777)
	if len(history) != 1 {
		t.Fatalf("got %d recent trades, want 1", len(history))
	}
	if history[0].Line != "2.5" || !history[0].Aggressive {
		t.Errorf("recorded trade = %+v", history[0])
	}
}

func TestRecentTrades_CappedAtFifty(t *testing.T) {
	e, _ := newTestEngine(t)
	for i := 0; i < 60; i++ {
		e.Apply(decodeFrame(t, "matched_bet", map[string]any{
			"info": map[string]any{
				"sport_event_id": 777,
				"market_id":      3,
				"matched_stake":  i + 1,
				"matched_odds":   -110,
			},
		}))
	}

	history := e.RecentTrades(777)
	if len(history) != 50 {
		t.Fatalf("got %d trades, want 50", len(history))
	}
	// Oldest entries evicted: first kept trade is the 11th.
	if !history[0].Stake.Equal(decimal.NewFromInt(11)) {
		t.Errorf("first kept trade stake = %s, want 11", history[0].Stake)
	}
	if !history[49].Stake.Equal(decimal.NewFromInt(60)) {
		t.Errorf("newest trade stake = %s, want 60", history[49].Stake)
	}
}

func TestApply_MissingIDsIgnored(t *testing.T) {
	e, rec := newTestEngine(t)
	e.Apply(decodeFrame(t, "selections", map[string]any{
		"selections": []any{
			map[string]any{"name": "Home", "odds": -110, "value": 100},
		},
	}))

	if len(e.GetAll()) != 0 {
		t.Error("update without ids must not create a book")
	}
	if len(rec.ofType("order_book_update")) != 0 {
		t.Error("update without ids must not notify")
	}
}

func TestApply_GenericPassthrough(t *testing.T) {
	e, rec := newTestEngine(t)
	e.Apply(decodeFrame(t, "heartbeat", map[string]any{"tick": 1}))

	generic := rec.ofType("market_data_update")
	if len(generic) != 1 {
		t.Fatalf("got %d market_data_update notifications, want 1", len(generic))
	}
	payload := generic[0].payload.(map[string]any)
	if payload["raw_data"] == "" {
		t.Error("generic notification must carry the raw body")
	}
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Apply(selectionsFrame(t))

	b1, _ := e.Get(MarketKey(777, 3))
	delete(b1.Selections, 10)

	b2, _ := e.Get(MarketKey(777, 3))
	if len(b2.Selections) != 2 {
		t.Error("reader mutation leaked into engine state")
	}
}

func TestGetForEvent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Apply(selectionsFrame(t))
	e.Apply(decodeFrame(t, "selections", map[string]any{
		"sport_event_id": 777,
		"market_id":      4,
		"selections": []any{
			map[string]any{"name": "Over", "odds": -105, "value": 10},
		},
	}))

	if got := len(e.GetForEvent(777)); got != 2 {
		t.Errorf("got %d books for event, want 2", got)
	}
	if got := len(e.GetForEvent(999)); got != 0 {
		t.Errorf("got %d books for unknown event, want 0", got)
	}
}
