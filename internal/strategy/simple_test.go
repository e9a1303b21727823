package strategy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/book"
	"github.com/prophetmm/market-engine/internal/feed"
	"github.com/prophetmm/market-engine/internal/hub"
	"github.com/prophetmm/market-engine/internal/model"
	"github.com/prophetmm/market-engine/internal/risk"
	"github.com/prophetmm/market-engine/internal/wager"
)

type stubTransport struct {
	mu        sync.Mutex
	placed    []model.Wager
	cancelled []string
	nextID    int64
}

func (s *stubTransport) Place(_ context.Context, w model.Wager) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, w)
	s.nextID++
	return s.nextID, nil
}

func (s *stubTransport) Cancel(_ context.Context, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, externalID)
	return nil
}

func (s *stubTransport) CancelAll(_ context.Context) error { return nil }

func (s *stubTransport) placedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.placed)
}

func (s *stubTransport) cancelledIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func applyFrame(t *testing.T, e *book.Engine, changeType string, body map[string]any) {
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
	e.Apply(u)
}

func applySelections(t *testing.T, e *book.Engine, eventID, marketID int64, sels []any) {
	t.Helper()
	applyFrame(t, e, "selections", map[string]any{
		"sport_event_id": eventID,
		"market_id":      marketID,
		"market_type":    "moneyline",
		"event_name":     "Home vs Away",
		"selections":     sels,
	})
}

func newTestMaker(t *testing.T, params Params) (*SimpleMaker, *book.Engine, *stubTransport) {
	t.Helper()
	h := hub.New()
	engine := book.NewEngine(h)
	transport := &stubTransport{}
	limits := risk.Limits{
		MaxStakePerWager:    decimal.NewFromInt(100),
		MinOdds:             -500,
		MaxOdds:             500,
		MaxTotalExposure:    decimal.NewFromInt(1000),
		MaxConcurrentWagers: 50,
	}
	manager := wager.NewManager(transport, limits, h, nil)
	return NewSimpleMaker(engine, manager, params), engine, transport
}

func TestRefreshQuotesPlacesOnBestPrice(t *testing.T) {
	maker, engine, transport := newTestMaker(t, Params{
		QuoteStake:       decimal.NewFromInt(2),
		MaxWagersPerLine: 1,
	})
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10, "line_id": "L1"},
	})

	maker.refreshQuotes(context.Background())

	if got := transport.placedCount(); got != 1 {
		t.Fatalf("placed %d wagers, want 1", got)
	}
	transport.mu.Lock()
	w := transport.placed[0]
	transport.mu.Unlock()
	if w.LineID != "L1" {
		t.Errorf("LineID = %q, want L1", w.LineID)
	}
	if !w.Stake.Equal(decimal.NewFromInt(2)) {
		t.Errorf("stake = %s, want 2", w.Stake)
	}
	recs := maker.wagers.ByStrategy(maker.Name())
	if len(recs) != 1 {
		t.Fatalf("ByStrategy returned %d records, want 1", len(recs))
	}
	if recs[0].StrategyName != maker.Name() {
		t.Errorf("strategy = %q, want %q", recs[0].StrategyName, maker.Name())
	}
}

func TestRefreshQuotesRespectsLineCap(t *testing.T) {
	maker, engine, transport := newTestMaker(t, Params{
		QuoteStake:       decimal.NewFromInt(2),
		MaxWagersPerLine: 1,
	})
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10, "line_id": "L1"},
	})

	maker.refreshQuotes(context.Background())
	maker.refreshQuotes(context.Background())

	if got := transport.placedCount(); got != 1 {
		t.Errorf("placed %d wagers, want 1 (line already covered)", got)
	}
}

func TestRefreshQuotesSkipsUnquotableBooks(t *testing.T) {
	maker, engine, transport := newTestMaker(t, Params{
		QuoteStake:       decimal.NewFromInt(2),
		MaxWagersPerLine: 1,
	})
	// No exchange line id on one book, unpriced odds on the other.
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10},
	})
	applySelections(t, engine, 777, 4, []any{
		map[string]any{"name": "Away", "odds": nil, "value": 100, "outcome_id": 11, "line_id": "L2"},
	})

	maker.refreshQuotes(context.Background())

	if got := transport.placedCount(); got != 0 {
		t.Errorf("placed %d wagers, want 0", got)
	}
}

func TestRebalanceCancelsVanishedLines(t *testing.T) {
	maker, engine, transport := newTestMaker(t, Params{
		QuoteStake:       decimal.NewFromInt(2),
		MaxWagersPerLine: 1,
	})
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10, "line_id": "L1"},
	})
	maker.refreshQuotes(context.Background())

	// The book moves to a different line, so the resting quote is orphaned.
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -115, "value": 100, "outcome_id": 10, "line_id": "L9"},
	})

	maker.rebalance(context.Background())

	if got := len(transport.cancelledIDs()); got != 1 {
		t.Fatalf("cancelled %d wagers, want 1", got)
	}
	if recs := maker.wagers.ByStrategy(maker.Name()); len(recs) != 0 {
		t.Errorf("%d records still resting, want 0", len(recs))
	}
}

func TestRebalanceKeepsLiveLines(t *testing.T) {
	maker, engine, transport := newTestMaker(t, Params{
		QuoteStake:       decimal.NewFromInt(2),
		MaxWagersPerLine: 1,
	})
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10, "line_id": "L1"},
	})
	maker.refreshQuotes(context.Background())

	maker.rebalance(context.Background())

	if got := len(transport.cancelledIDs()); got != 0 {
		t.Errorf("cancelled %d wagers, want 0", got)
	}
	if recs := maker.wagers.ByStrategy(maker.Name()); len(recs) != 1 {
		t.Errorf("%d records resting, want 1", len(recs))
	}
}

func TestRebalanceTrimsOverCapOldestFirst(t *testing.T) {
	maker, engine, transport := newTestMaker(t, Params{
		QuoteStake:       decimal.NewFromInt(2),
		MaxWagersPerLine: 2,
	})
	applySelections(t, engine, 777, 3, []any{
		map[string]any{"name": "Home", "odds": -110, "value": 100, "outcome_id": 10, "line_id": "L1"},
	})

	// Fill the line to its cap, then lower the cap so one quote is excess.
	maker.refreshQuotes(context.Background())
	maker.refreshQuotes(context.Background())
	if got := transport.placedCount(); got != 2 {
		t.Fatalf("placed %d wagers, want 2", got)
	}
	transport.mu.Lock()
	oldest := transport.placed[0].ExternalID
	transport.mu.Unlock()
	maker.params.MaxWagersPerLine = 1

	maker.rebalance(context.Background())

	cancelled := transport.cancelledIDs()
	if len(cancelled) != 1 {
		t.Fatalf("cancelled %d wagers, want 1", len(cancelled))
	}
	if cancelled[0] != oldest {
		t.Errorf("cancelled %s, want oldest %s", cancelled[0], oldest)
	}
	if recs := maker.wagers.ByStrategy(maker.Name()); len(recs) != 1 {
		t.Errorf("%d records resting, want 1", len(recs))
	}
}

func TestNewSimpleMakerDefaultsLineCap(t *testing.T) {
	maker, _, _ := newTestMaker(t, Params{QuoteStake: decimal.NewFromInt(1)})
	if maker.params.MaxWagersPerLine != 1 {
		t.Errorf("MaxWagersPerLine = %d, want 1", maker.params.MaxWagersPerLine)
	}
}
