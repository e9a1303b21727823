package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WagerStatus is the lifecycle state of a wager.
type WagerStatus string

const (
	WagerPending   WagerStatus = "pending"
	WagerOpen      WagerStatus = "open"
	WagerMatched   WagerStatus = "matched"
	WagerCancelled WagerStatus = "cancelled"
	WagerSettled   WagerStatus = "settled"
	WagerRejected  WagerStatus = "rejected"
)

// transitions is the allowed state machine:
// pending → open|rejected, open → matched|cancelled, matched → settled|cancelled.
var transitions = map[WagerStatus][]WagerStatus{
	WagerPending: {WagerOpen, WagerRejected},
	WagerOpen:    {WagerMatched, WagerCancelled},
	WagerMatched: {WagerSettled, WagerCancelled},
}

// Terminal reports whether no further transitions are possible.
func (s WagerStatus) Terminal() bool {
	return s == WagerCancelled || s == WagerSettled || s == WagerRejected
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s WagerStatus) CanTransitionTo(next WagerStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Wager is one quote placed against an exchange line. ExternalID is assigned
// locally, is globally unique, and is never reused; ExchangeID is assigned
// by the exchange on acceptance.
type Wager struct {
	ExternalID    string          `json:"external_id"`
	LineID        string          `json:"line_id"`
	Odds          Odds            `json:"odds"`
	Stake         decimal.Decimal `json:"stake"`
	SelectionID   int64           `json:"selection_id"`
	SelectionName string          `json:"selection_name"`
	Status        WagerStatus     `json:"status"`
	ExchangeID    int64           `json:"wager_id"`
	FilledStake   decimal.Decimal `json:"filled_stake"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewWager creates a pending wager with a fresh external id.
func NewWager(lineID string, odds int, stake decimal.Decimal) Wager {
	return Wager{
		ExternalID: uuid.New().String(),
		LineID:     lineID,
		Odds:       Priced(odds),
		Stake:      stake,
		Status:     WagerPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// MarketContext is attribution metadata carried alongside a wager. It is
// local bookkeeping, not part of exchange state.
type MarketContext struct {
	EventID    int64  `json:"event_id"`
	MarketID   string `json:"market_id"`
	MarketType string `json:"market_type"`
	EventName  string `json:"event_name"`
}

// WagerRecord wraps a wager with strategy attribution and update tracking.
type WagerRecord struct {
	Wager         Wager
	StrategyName  string
	MarketContext MarketContext
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WagerView is the wager query surface consumed by presentation and strategy.
type WagerView struct {
	ExternalID    string          `json:"external_id"`
	LineID        string          `json:"line_id"`
	Odds          Odds            `json:"odds"`
	Stake         decimal.Decimal `json:"stake"`
	Status        WagerStatus     `json:"status"`
	Strategy      string          `json:"strategy"`
	CreatedAt     time.Time       `json:"created_at"`
	MarketContext MarketContext   `json:"market_context"`
}

// View projects the record onto the query surface.
func (r WagerRecord) View() WagerView {
	return WagerView{
		ExternalID:    r.Wager.ExternalID,
		LineID:        r.Wager.LineID,
		Odds:          r.Wager.Odds,
		Stake:         r.Wager.Stake,
		Status:        r.Wager.Status,
		Strategy:      r.StrategyName,
		CreatedAt:     r.CreatedAt,
		MarketContext: r.MarketContext,
	}
}
