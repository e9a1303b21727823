package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/model"
)

// PostgresArchive implements Archive over PostgreSQL. All monetary values
// are stored as NUMERIC for exact decimal precision.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive creates a PostgreSQL-backed archive.
func NewPostgresArchive(pool *pgxpool.Pool) *PostgresArchive {
	return &PostgresArchive{pool: pool}
}

func (a *PostgresArchive) RecordWager(ctx context.Context, rec model.WagerRecord) error {
	oddsVal, priced := rec.Wager.Odds.Value()
	var odds *int
	if priced {
		odds = &oddsVal
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO wager_records
		   (external_id, exchange_id, line_id, selection_id, selection_name,
		    odds, stake, filled_stake, status, strategy,
		    event_id, market_id, market_type, event_name,
		    created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.Wager.ExternalID, rec.Wager.ExchangeID, rec.Wager.LineID,
		rec.Wager.SelectionID, rec.Wager.SelectionName,
		odds, rec.Wager.Stake.String(), rec.Wager.FilledStake.String(),
		string(rec.Wager.Status), rec.StrategyName,
		rec.MarketContext.EventID, rec.MarketContext.MarketID,
		rec.MarketContext.MarketType, rec.MarketContext.EventName,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record wager %s: %w", rec.Wager.ExternalID, err)
	}
	return nil
}

func (a *PostgresArchive) RecordTrade(ctx context.Context, t model.Trade) error {
	oddsVal, priced := t.Odds.Value()
	var odds *int
	if priced {
		odds = &oddsVal
	}
	_, err := a.pool.Exec(ctx,
		`INSERT INTO trades
		   (event_id, market_id, line, line_id, outcome_id,
		    odds, stake, aggressive, traded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9)`,
		t.EventID, t.MarketID, t.Line, t.LineID, t.OutcomeID,
		odds, t.Stake.String(), t.Aggressive, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record trade event %d: %w", t.EventID, err)
	}
	return nil
}

// RecentWagers returns the newest archived wager records, for offline
// inspection. The live wager manager never calls this.
func (a *PostgresArchive) RecentWagers(ctx context.Context, limit int) ([]model.WagerRecord, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT external_id, exchange_id, line_id, selection_id, selection_name,
		        odds, stake::TEXT, filled_stake::TEXT, status, strategy,
		        event_id, market_id, market_type, event_name,
		        created_at, updated_at
		 FROM wager_records ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.WagerRecord
	for rows.Next() {
		var rec model.WagerRecord
		var odds *int
		var stakeS, filledS, status string
		if err := rows.Scan(
			&rec.Wager.ExternalID, &rec.Wager.ExchangeID, &rec.Wager.LineID,
			&rec.Wager.SelectionID, &rec.Wager.SelectionName,
			&odds, &stakeS, &filledS, &status, &rec.StrategyName,
			&rec.MarketContext.EventID, &rec.MarketContext.MarketID,
			&rec.MarketContext.MarketType, &rec.MarketContext.EventName,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if odds != nil {
			rec.Wager.Odds = model.Priced(*odds)
		} else {
			rec.Wager.Odds = model.OnRequest()
		}
		rec.Wager.Stake, _ = decimal.NewFromString(stakeS)
		rec.Wager.FilledStake, _ = decimal.NewFromString(filledS)
		rec.Wager.Status = model.WagerStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// EnsureSchema creates the archive tables if they do not exist.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := a.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wager_records (
			id             BIGSERIAL PRIMARY KEY,
			external_id    TEXT NOT NULL,
			exchange_id    BIGINT NOT NULL,
			line_id        TEXT NOT NULL,
			selection_id   BIGINT NOT NULL,
			selection_name TEXT NOT NULL,
			odds           INTEGER,
			stake          NUMERIC NOT NULL,
			filled_stake   NUMERIC NOT NULL,
			status         TEXT NOT NULL,
			strategy       TEXT NOT NULL,
			event_id       BIGINT NOT NULL,
			market_id      TEXT NOT NULL,
			market_type    TEXT NOT NULL,
			event_name     TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trades (
			id         BIGSERIAL PRIMARY KEY,
			event_id   BIGINT NOT NULL,
			market_id  BIGINT NOT NULL,
			line       TEXT NOT NULL,
			line_id    TEXT NOT NULL,
			outcome_id BIGINT NOT NULL,
			odds       INTEGER,
			stake      NUMERIC NOT NULL,
			aggressive BOOLEAN NOT NULL,
			traded_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_wager_records_external_id ON wager_records (external_id);
		CREATE INDEX IF NOT EXISTS idx_trades_event_id ON trades (event_id);
	`)
	return err
}
