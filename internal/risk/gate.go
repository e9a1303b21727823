// Package risk implements the stateless pre-placement gate: a proposed
// wager is checked against configured limits and live exposure, in a fixed
// order, short-circuiting on the first failure. Evaluation has no side
// effects and is safe to repeat; it runs before every placement attempt.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/model"
)

var (
	// ErrStakeOutOfRange is returned when the stake is non-positive or above
	// the per-wager maximum.
	ErrStakeOutOfRange = errors.New("risk: stake outside configured bounds")

	// ErrOddsOutOfRange is returned when the odds are unpriced or outside
	// the configured band.
	ErrOddsOutOfRange = errors.New("risk: odds outside configured bounds")

	// ErrTotalExposure is returned when the wager would push aggregate
	// exposure past its limit.
	ErrTotalExposure = errors.New("risk: total exposure limit exceeded")

	// ErrConcurrentWagers is returned when the active wager count is at its
	// limit.
	ErrConcurrentWagers = errors.New("risk: concurrent wager limit reached")

	// ErrEventExposure is returned when a configured per-event limit would
	// be breached.
	ErrEventExposure = errors.New("risk: event exposure limit exceeded")

	// ErrDailyLoss is returned when the session has already lost more than
	// the daily allowance.
	ErrDailyLoss = errors.New("risk: daily loss limit exceeded")
)

// IsValidation reports whether a refusal is a wager-parameter failure
// rather than a risk-limit breach. The two are distinguished for
// observability only; both refuse the placement before any transport call.
func IsValidation(err error) bool {
	return errors.Is(err, ErrStakeOutOfRange) || errors.Is(err, ErrOddsOutOfRange)
}

// Limits is the configured risk envelope.
type Limits struct {
	MaxStakePerWager    decimal.Decimal
	MinOdds             int
	MaxOdds             int
	MaxTotalExposure    decimal.Decimal
	MaxConcurrentWagers int
	EventLimits         map[int64]decimal.Decimal
	MaxDailyLoss        decimal.Decimal
}

// ExposureView is the live exposure snapshot the gate evaluates against.
type ExposureView struct {
	TotalExposure decimal.Decimal
	ActiveWagers  int
	EventExposure decimal.Decimal
	DailyPnL      decimal.Decimal
}

// Evaluate checks the wager against the limits. The checks run in order:
// stake bounds, odds bounds, total exposure, concurrent wager count,
// per-event exposure (only when the context names an event with a
// configured limit), daily loss.
func Evaluate(w model.Wager, exp ExposureView, mctx model.MarketContext, lim Limits) error {
	if !w.Stake.IsPositive() || w.Stake.GreaterThan(lim.MaxStakePerWager) {
		return ErrStakeOutOfRange
	}
	odds, ok := w.Odds.Value()
	if !ok || odds < lim.MinOdds || odds > lim.MaxOdds {
		return ErrOddsOutOfRange
	}
	if exp.TotalExposure.Add(w.Stake).GreaterThan(lim.MaxTotalExposure) {
		return ErrTotalExposure
	}
	if exp.ActiveWagers >= lim.MaxConcurrentWagers {
		return ErrConcurrentWagers
	}
	if mctx.EventID != 0 {
		if limit, ok := lim.EventLimits[mctx.EventID]; ok {
			if exp.EventExposure.Add(w.Stake).GreaterThan(limit) {
				return ErrEventExposure
			}
		}
	}
	if exp.DailyPnL.LessThan(lim.MaxDailyLoss.Neg()) {
		return ErrDailyLoss
	}
	return nil
}
