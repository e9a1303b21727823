package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testLimits() Limits {
	return Limits{
		MaxStakePerWager:    d(10),
		MinOdds:             -200,
		MaxOdds:             200,
		MaxTotalExposure:    d(1000),
		MaxConcurrentWagers: 50,
		MaxDailyLoss:        d(500),
	}
}

func testWager(odds int, stake float64) model.Wager {
	return model.NewWager("line-1", odds, d(stake))
}

func TestEvaluate_Accepts(t *testing.T) {
	err := Evaluate(testWager(-110, 5), ExposureView{}, model.MarketContext{}, testLimits())
	if err != nil {
		t.Errorf("expected acceptance, got %v", err)
	}
}

func TestEvaluate_StakeBounds(t *testing.T) {
	lim := testLimits()

	if err := Evaluate(testWager(-110, 0), ExposureView{}, model.MarketContext{}, lim); !errors.Is(err, ErrStakeOutOfRange) {
		t.Errorf("zero stake: expected ErrStakeOutOfRange, got %v", err)
	}
	if err := Evaluate(testWager(-110, 10.01), ExposureView{}, model.MarketContext{}, lim); !errors.Is(err, ErrStakeOutOfRange) {
		t.Errorf("over max stake: expected ErrStakeOutOfRange, got %v", err)
	}
	if err := Evaluate(testWager(-110, 10), ExposureView{}, model.MarketContext{}, lim); err != nil {
		t.Errorf("stake at limit: expected acceptance, got %v", err)
	}
}

func TestEvaluate_OddsBounds(t *testing.T) {
	lim := testLimits()

	if err := Evaluate(testWager(250, 5), ExposureView{}, model.MarketContext{}, lim); !errors.Is(err, ErrOddsOutOfRange) {
		t.Errorf("above max odds: expected ErrOddsOutOfRange, got %v", err)
	}
	if err := Evaluate(testWager(-250, 5), ExposureView{}, model.MarketContext{}, lim); !errors.Is(err, ErrOddsOutOfRange) {
		t.Errorf("below min odds: expected ErrOddsOutOfRange, got %v", err)
	}

	w := testWager(0, 5)
	w.Odds = model.OnRequest()
	if err := Evaluate(w, ExposureView{}, model.MarketContext{}, lim); !errors.Is(err, ErrOddsOutOfRange) {
		t.Errorf("unpriced odds: expected ErrOddsOutOfRange, got %v", err)
	}
}

func TestEvaluate_TotalExposure(t *testing.T) {
	exp := ExposureView{TotalExposure: d(996)}
	err := Evaluate(testWager(-110, 5), exp, model.MarketContext{}, testLimits())
	if !errors.Is(err, ErrTotalExposure) {
		t.Errorf("expected ErrTotalExposure, got %v", err)
	}

	// Exactly at the limit passes.
	exp = ExposureView{TotalExposure: d(995)}
	if err := Evaluate(testWager(-110, 5), exp, model.MarketContext{}, testLimits()); err != nil {
		t.Errorf("at limit: expected acceptance, got %v", err)
	}
}

func TestEvaluate_ConcurrentWagers(t *testing.T) {
	exp := ExposureView{ActiveWagers: 50}
	err := Evaluate(testWager(-110, 5), exp, model.MarketContext{}, testLimits())
	if !errors.Is(err, ErrConcurrentWagers) {
		t.Errorf("expected ErrConcurrentWagers, got %v", err)
	}
}

func TestEvaluate_EventExposure(t *testing.T) {
	lim := testLimits()
	lim.EventLimits = map[int64]decimal.Decimal{777: d(100)}
	mctx := model.MarketContext{EventID: 777}

	exp := ExposureView{EventExposure: d(98)}
	if err := Evaluate(testWager(-110, 5), exp, mctx, lim); !errors.Is(err, ErrEventExposure) {
		t.Errorf("expected ErrEventExposure, got %v", err)
	}

	// No configured limit for the event: check skipped.
	other := model.MarketContext{EventID: 888}
	if err := Evaluate(testWager(-110, 5), exp, other, lim); err != nil {
		t.Errorf("unconfigured event: expected acceptance, got %v", err)
	}

	// No event in context: check skipped.
	if err := Evaluate(testWager(-110, 5), exp, model.MarketContext{}, lim); err != nil {
		t.Errorf("no event context: expected acceptance, got %v", err)
	}
}

func TestEvaluate_DailyLoss(t *testing.T) {
	exp := ExposureView{DailyPnL: d(-500.01)}
	err := Evaluate(testWager(-110, 5), exp, model.MarketContext{}, testLimits())
	if !errors.Is(err, ErrDailyLoss) {
		t.Errorf("expected ErrDailyLoss, got %v", err)
	}

	exp = ExposureView{DailyPnL: d(-500)}
	if err := Evaluate(testWager(-110, 5), exp, model.MarketContext{}, testLimits()); err != nil {
		t.Errorf("loss at limit: expected acceptance, got %v", err)
	}
}

func TestEvaluate_CheckOrder(t *testing.T) {
	// Everything wrong at once: the stake check fires first.
	lim := testLimits()
	exp := ExposureView{TotalExposure: d(5000), ActiveWagers: 100, DailyPnL: d(-9999)}
	err := Evaluate(testWager(999, 999), exp, model.MarketContext{}, lim)
	if !errors.Is(err, ErrStakeOutOfRange) {
		t.Errorf("expected the stake check first, got %v", err)
	}

	// Stake valid: the odds check fires next.
	err = Evaluate(testWager(999, 5), exp, model.MarketContext{}, lim)
	if !errors.Is(err, ErrOddsOutOfRange) {
		t.Errorf("expected the odds check second, got %v", err)
	}
}

func TestIsValidation(t *testing.T) {
	if !IsValidation(ErrStakeOutOfRange) || !IsValidation(ErrOddsOutOfRange) {
		t.Error("stake and odds refusals are validation failures")
	}
	if IsValidation(ErrTotalExposure) || IsValidation(ErrDailyLoss) {
		t.Error("limit breaches are not validation failures")
	}
}
