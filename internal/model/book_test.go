package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func level(id int64, name string, odds Odds, size float64) SelectionLevel {
	return SelectionLevel{
		SelectionID:   id,
		SelectionName: name,
		Odds:          odds,
		Size:          decimal.NewFromFloat(size),
		ObservedAt:    time.Now().UTC(),
	}
}

func TestRecomputeMetrics_SpreadAndVolume(t *testing.T) {
	b := NewOrderBook(1, "1_2", "moneyline", "Home vs Away")
	b.Selections[10] = level(10, "Home", Priced(-110), 100)
	b.Selections[11] = level(11, "Away", Priced(105), 50)
	b.RecomputeMetrics()

	if b.Spread != 215 {
		t.Errorf("spread = %v, want 215", b.Spread)
	}
	if !b.TotalVolume.Equal(decimal.NewFromInt(150)) {
		t.Errorf("total volume = %s, want 150", b.TotalVolume)
	}
	if b.BestSelection == nil {
		t.Fatal("best selection must be set when selections exist")
	}
}

func TestRecomputeMetrics_SinglePricedNoSpread(t *testing.T) {
	b := NewOrderBook(1, "1_2", "moneyline", "")
	b.Selections[10] = level(10, "Home", Priced(-110), 100)
	b.Selections[11] = level(11, "Away", OnRequest(), 0)
	b.RecomputeMetrics()

	if b.Spread != 0 {
		t.Errorf("spread with one priced selection = %v, want 0", b.Spread)
	}
}

func TestRecomputeMetrics_EmptyBook(t *testing.T) {
	b := NewOrderBook(1, "1_2", "moneyline", "")
	b.Selections[10] = level(10, "Home", Priced(-110), 100)
	b.RecomputeMetrics()
	b.Selections = map[int64]SelectionLevel{}
	b.RecomputeMetrics()

	if b.BestSelection != nil {
		t.Error("best selection must be nil on an empty book")
	}
	if !b.TotalVolume.IsZero() {
		t.Errorf("total volume = %s, want 0", b.TotalVolume)
	}
}

func TestClone_Independent(t *testing.T) {
	b := NewOrderBook(1, "1_2", "spread", "")
	b.Selections[10] = level(10, "Home", Priced(-110), 100)
	b.LineGroups["2.5"] = map[string][]SelectionLevel{
		"Home": {level(20, "Home", Priced(100), 10)},
	}
	b.AvailableLines = []string{"2.5"}
	b.RecomputeMetrics()

	c := b.Clone()
	c.Selections[99] = level(99, "Away", Priced(120), 1)
	c.LineGroups["2.5"]["Home"][0].Size = decimal.NewFromInt(999)
	c.AvailableLines[0] = "changed"

	if _, ok := b.Selections[99]; ok {
		t.Error("clone selections share storage with original")
	}
	if b.LineGroups["2.5"]["Home"][0].Size.Equal(decimal.NewFromInt(999)) {
		t.Error("clone line groups share storage with original")
	}
	if b.AvailableLines[0] != "2.5" {
		t.Error("clone available lines share storage with original")
	}
}

func TestSnapshot_HasMultipleLines(t *testing.T) {
	b := NewOrderBook(1, "1_2", "total", "")
	b.AvailableLines = []string{"2.5"}
	if b.Snapshot().HasMultipleLines {
		t.Error("one line should not report multiple lines")
	}
	b.AvailableLines = []string{"2.5", "3.5"}
	if !b.Snapshot().HasMultipleLines {
		t.Error("two lines should report multiple lines")
	}
}

func TestSnapshot_OddsWireFormat(t *testing.T) {
	b := NewOrderBook(1, "1_2", "moneyline", "")
	b.Selections[10] = level(10, "Home", OnRequest(), 0)
	b.RecomputeMetrics()

	data, err := json.Marshal(b.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded struct {
		Selections []struct {
			Odds json.RawMessage `json:"odds"`
		} `json:"selections"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(decoded.Selections) != 1 {
		t.Fatalf("got %d selections, want 1", len(decoded.Selections))
	}
	if string(decoded.Selections[0].Odds) != `"request"` {
		t.Errorf(`unpriced odds on the wire = %s, want "request"`, decoded.Selections[0].Odds)
	}
}
