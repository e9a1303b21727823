package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prophetmm/market-engine/internal/model"
)

// BookCache mirrors live order book snapshots into Redis so external
// consumers (dashboards, other services) can read them without hitting the
// engine's HTTP API. The cache is write-only from the engine's point of
// view; the engine never reads it back.
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a Redis-backed snapshot cache. Entries expire after
// ttl so a stopped engine does not leave stale books behind.
func NewBookCache(rdb *redis.Client, ttl time.Duration) *BookCache {
	return &BookCache{rdb: rdb, ttl: ttl}
}

// PutBook writes one book snapshot under its market key.
func (c *BookCache) PutBook(ctx context.Context, marketKey string, snap model.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal book %s: %w", marketKey, err)
	}
	if err := c.rdb.Set(ctx, bookKey(marketKey), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache book %s: %w", marketKey, err)
	}
	return nil
}

// GetBook reads one cached snapshot. Returns redis.Nil via the wrapped error
// when the key is absent or expired.
func (c *BookCache) GetBook(ctx context.Context, marketKey string) (model.BookSnapshot, error) {
	var snap model.BookSnapshot
	data, err := c.rdb.Get(ctx, bookKey(marketKey)).Bytes()
	if err != nil {
		return snap, fmt.Errorf("read book %s: %w", marketKey, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode book %s: %w", marketKey, err)
	}
	return snap, nil
}

func bookKey(marketKey string) string { return fmt.Sprintf("book:%s", marketKey) }
