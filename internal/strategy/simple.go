// Package strategy runs automated quoting on top of the live order books.
package strategy

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/book"
	"github.com/prophetmm/market-engine/internal/model"
	"github.com/prophetmm/market-engine/internal/wager"
)

// Params tunes the simple maker.
type Params struct {
	// QuoteStake is the stake placed per quote.
	QuoteStake decimal.Decimal
	// MaxWagersPerLine caps how many of this strategy's wagers may rest on
	// one exchange line at once.
	MaxWagersPerLine int
	// QuoteRefresh is the interval between quoting passes.
	QuoteRefresh time.Duration
	// RebalanceInterval is the interval between rebalance passes.
	RebalanceInterval time.Duration
}

// SimpleMaker joins the displayed best price on every tracked book with a
// small resting wager. Placements flow through the wager manager, so the
// risk gate applies to every quote. Quotes on lines that have since left
// the book are cancelled on rebalance.
type SimpleMaker struct {
	name   string
	engine *book.Engine
	wagers *wager.Manager
	params Params
}

// NewSimpleMaker creates the strategy.
func NewSimpleMaker(engine *book.Engine, wagers *wager.Manager, params Params) *SimpleMaker {
	if params.MaxWagersPerLine <= 0 {
		params.MaxWagersPerLine = 1
	}
	return &SimpleMaker{
		name:   "simple-maker",
		engine: engine,
		wagers: wagers,
		params: params,
	}
}

// Name is the strategy identifier stamped on its wager records.
func (s *SimpleMaker) Name() string { return s.name }

// Run drives the quoting and rebalance loops until ctx is cancelled.
func (s *SimpleMaker) Run(ctx context.Context) {
	quote := time.NewTicker(s.params.QuoteRefresh)
	defer quote.Stop()
	rebalance := time.NewTicker(s.params.RebalanceInterval)
	defer rebalance.Stop()

	slog.Info("strategy started",
		"strategy", s.name,
		"quote_refresh", s.params.QuoteRefresh,
		"stake", s.params.QuoteStake.String(),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("strategy stopped", "strategy", s.name)
			return
		case <-quote.C:
			s.refreshQuotes(ctx)
		case <-rebalance.C:
			s.rebalance(ctx)
		}
	}
}

// refreshQuotes places one quote per book whose displayed best price has an
// exchange line id and is not already covered by resting quotes.
func (s *SimpleMaker) refreshQuotes(ctx context.Context) {
	perLine := s.restingPerLine()

	for _, b := range s.engine.GetAll() {
		best := b.BestSelection
		if best == nil || best.LineID == "" {
			continue
		}
		odds, priced := best.Odds.Value()
		if !priced {
			continue
		}
		if perLine[best.LineID] >= s.params.MaxWagersPerLine {
			continue
		}

		w := model.NewWager(best.LineID, odds, s.params.QuoteStake)
		w.SelectionID = best.SelectionID
		w.SelectionName = best.SelectionName
		mctx := model.MarketContext{
			EventID:    b.EventID,
			MarketID:   b.MarketID,
			MarketType: b.MarketType,
			EventName:  b.EventName,
		}

		if _, err := s.wagers.Place(ctx, w, s.name, mctx); err != nil {
			// The risk gate refusing a quote is normal operation.
			slog.Debug("quote refused", "strategy", s.name, "line_id", best.LineID, "err", err)
			continue
		}
		perLine[best.LineID]++
	}
}

// rebalance cancels quotes resting on lines no longer present in any book
// and trims lines holding more quotes than the cap, oldest first.
func (s *SimpleMaker) rebalance(ctx context.Context) {
	live := make(map[string]bool)
	for _, b := range s.engine.GetAll() {
		for _, sel := range b.Selections {
			if sel.LineID != "" {
				live[sel.LineID] = true
			}
		}
	}

	byLine := make(map[string][]model.WagerRecord)
	for _, rec := range s.wagers.ByStrategy(s.name) {
		byLine[rec.Wager.LineID] = append(byLine[rec.Wager.LineID], rec)
	}

	for lineID, recs := range byLine {
		if !live[lineID] {
			for _, rec := range recs {
				s.cancel(ctx, rec, "line gone")
			}
			continue
		}
		if excess := len(recs) - s.params.MaxWagersPerLine; excess > 0 {
			sortOldestFirst(recs)
			for _, rec := range recs[:excess] {
				s.cancel(ctx, rec, "over line cap")
			}
		}
	}
}

func (s *SimpleMaker) cancel(ctx context.Context, rec model.WagerRecord, reason string) {
	if err := s.wagers.Cancel(ctx, rec.Wager.ExternalID, reason); err != nil {
		slog.Warn("rebalance cancel failed",
			"strategy", s.name,
			"external_id", rec.Wager.ExternalID,
			"err", err,
		)
	}
}

func (s *SimpleMaker) restingPerLine() map[string]int {
	perLine := make(map[string]int)
	for _, rec := range s.wagers.ByStrategy(s.name) {
		perLine[rec.Wager.LineID]++
	}
	return perLine
}

func sortOldestFirst(recs []model.WagerRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
