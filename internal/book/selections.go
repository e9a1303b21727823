package book

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/feed"
	"github.com/prophetmm/market-engine/internal/model"
)

// displaySize maps a raw reported size to its quotable form: unpriced
// entries show zero liquidity, priced entries show the reported value with
// a floor of 1.
func displaySize(odds model.Odds, value decimal.Decimal) decimal.Decimal {
	if !odds.IsPriced() {
		return decimal.Zero
	}
	if value.IsPositive() {
		return value
	}
	return decimal.NewFromInt(1)
}

// flatLevels implements the flat-selection algorithm for markets without a
// line dimension (moneyline): one level per selection name, keeping only
// the best-priced entry per name.
func flatLevels(sels []feed.Selection, ts time.Time) map[int64]model.SelectionLevel {
	type pick struct {
		id    int64
		level model.SelectionLevel
	}
	best := make(map[string]pick)

	for _, sel := range sels {
		if sel.Name == "" {
			continue
		}
		id := int64(sel.OutcomeID)
		if id == 0 {
			id = nameID(sel.Name)
		}
		display := displaySize(sel.Odds, sel.Value)

		cur, ok := best[sel.Name]
		if !ok {
			best[sel.Name] = pick{id: id, level: model.SelectionLevel{
				SelectionID:   id,
				SelectionName: sel.Name,
				LineID:        sel.LineID,
				Odds:          sel.Odds,
				Size:          display,
				ObservedAt:    ts,
			}}
			continue
		}
		if !sel.Odds.BetterThan(cur.level.Odds) {
			continue
		}
		if int64(sel.OutcomeID) == 0 {
			id = cur.id
		}
		size := display
		if cur.level.Size.GreaterThan(size) {
			size = cur.level.Size
		}
		best[sel.Name] = pick{id: id, level: model.SelectionLevel{
			SelectionID:   id,
			SelectionName: sel.Name,
			LineID:        sel.LineID,
			Odds:          sel.Odds,
			Size:          size,
			ObservedAt:    ts,
		}}
	}

	out := make(map[int64]model.SelectionLevel, len(best))
	for _, p := range best {
		out[p.level.SelectionID] = p.level
	}
	return out
}

// groupedLevels implements the line-grouped algorithm for spread/total
// markets: every (outcome, line, odds, size) combination becomes its own
// level, preserving full market depth. Each level lives both in its line
// group and in the flat selection map under a derived unique id.
func groupedLevels(lines []feed.MarketLine, ts time.Time) (
	map[int64]model.SelectionLevel,
	map[string]map[string][]model.SelectionLevel,
	[]string,
) {
	selections := make(map[int64]model.SelectionLevel)
	groups := make(map[string]map[string][]model.SelectionLevel)
	var lineValues []string

	for _, line := range lines {
		lv := string(line.Line)
		if lv == "" {
			lv = "N/A"
		}
		if _, ok := groups[lv]; !ok {
			groups[lv] = make(map[string][]model.SelectionLevel)
			lineValues = append(lineValues, lv)
		}

		byName := make(map[string][]model.SelectionLevel)
		for _, sel := range line.Selections {
			if sel.Name == "" {
				continue
			}
			level := model.SelectionLevel{
				SelectionID:   levelID(int64(sel.OutcomeID), lv, sel.Odds, sel.Value),
				SelectionName: sel.Name,
				LineID:        sel.LineID,
				Odds:          sel.Odds,
				Size:          displaySize(sel.Odds, sel.Value),
				ObservedAt:    ts,
			}
			byName[sel.Name] = append(byName[sel.Name], level)
		}

		for name, levels := range byName {
			sortLevels(levels)
			groups[lv][name] = append(groups[lv][name], levels...)
			for _, level := range levels {
				selections[level.SelectionID] = level
			}
		}
	}

	sortLines(lineValues)
	return selections, groups, lineValues
}

// sortLevels orders one name's levels best price first: priced entries
// before unpriced, then by odds preference.
func sortLevels(levels []model.SelectionLevel) {
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Odds.BetterThan(levels[j].Odds)
	})
}

// sortLines orders line values numerically ascending, with non-numeric
// values after all numeric ones, alphabetical among themselves.
func sortLines(lines []string) {
	sort.SliceStable(lines, func(i, j int) bool {
		fi, errI := strconv.ParseFloat(lines[i], 64)
		fj, errJ := strconv.ParseFloat(lines[j], 64)
		switch {
		case errI == nil && errJ == nil:
			return fi < fj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return lines[i] < lines[j]
		}
	})
}

// nameID derives a stable selection id for entries the feed sends without
// an outcome id.
func nameID(name string) int64 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int64(h.Sum32() % 10000)
}

// levelID derives a unique id for one depth level from its identifying
// combination.
func levelID(outcomeID int64, line string, odds model.Odds, value decimal.Decimal) int64 {
	key := fmt.Sprintf("%d_%s_%s_%s", outcomeID, line, odds, value)
	if len(key) > 20 {
		key = key[:20]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int64(h.Sum32() % 100000)
}
