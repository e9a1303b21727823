// Package store holds the optional persistence sinks for the market engine.
// The archive is append-only audit storage for terminal wagers and matched
// trades; it is never read back at startup, core state is rebuilt from the
// exchange feed. The Redis cache mirrors live book snapshots for external
// consumers.
package store

import (
	"context"

	"github.com/prophetmm/market-engine/internal/model"
)

// Archive receives terminal wager records and matched trades. Implementations
// include PostgreSQL and in-memory (for testing).
type Archive interface {
	// RecordWager appends one terminal wager record.
	RecordWager(ctx context.Context, rec model.WagerRecord) error

	// RecordTrade appends one matched trade.
	RecordTrade(ctx context.Context, t model.Trade) error
}
