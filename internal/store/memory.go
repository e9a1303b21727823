package store

import (
	"context"
	"sync"

	"github.com/prophetmm/market-engine/internal/model"
)

// MemoryArchive implements Archive with in-memory slices. Used for testing
// and development.
type MemoryArchive struct {
	mu     sync.RWMutex
	wagers []model.WagerRecord
	trades []model.Trade
}

// NewMemoryArchive creates an in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

func (a *MemoryArchive) RecordWager(_ context.Context, rec model.WagerRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wagers = append(a.wagers, rec)
	return nil
}

func (a *MemoryArchive) RecordTrade(_ context.Context, t model.Trade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trades = append(a.trades, t)
	return nil
}

// Wagers returns a copy of every archived wager record.
func (a *MemoryArchive) Wagers() []model.WagerRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.WagerRecord(nil), a.wagers...)
}

// Trades returns a copy of every archived trade.
func (a *MemoryArchive) Trades() []model.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]model.Trade(nil), a.trades...)
}
