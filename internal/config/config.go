// Package config loads the engine configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/prophetmm/market-engine/internal/risk"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Risk     RiskConfig     `yaml:"risk"`
	Strategy StrategyConfig `yaml:"strategy"`
	Feed     FeedConfig     `yaml:"feed"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type ExchangeConfig struct {
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// RiskConfig holds monetary limits as plain numbers; they are converted to
// exact decimals in Limits.
type RiskConfig struct {
	MaxStakePerWager    float64           `yaml:"max_stake_per_wager"`
	MinOdds             int               `yaml:"min_odds"`
	MaxOdds             int               `yaml:"max_odds"`
	MaxTotalExposure    float64           `yaml:"max_total_exposure"`
	MaxConcurrentWagers int               `yaml:"max_concurrent_wagers"`
	MaxDailyLoss        float64           `yaml:"max_daily_loss"`
	EventLimits         map[int64]float64 `yaml:"event_limits"`
}

// Limits converts the configured values into the risk gate's limit set.
func (c RiskConfig) Limits() risk.Limits {
	lim := risk.Limits{
		MaxStakePerWager:    decimal.NewFromFloat(c.MaxStakePerWager),
		MinOdds:             c.MinOdds,
		MaxOdds:             c.MaxOdds,
		MaxTotalExposure:    decimal.NewFromFloat(c.MaxTotalExposure),
		MaxConcurrentWagers: c.MaxConcurrentWagers,
		MaxDailyLoss:        decimal.NewFromFloat(c.MaxDailyLoss),
	}
	if len(c.EventLimits) > 0 {
		lim.EventLimits = make(map[int64]decimal.Decimal, len(c.EventLimits))
		for id, v := range c.EventLimits {
			lim.EventLimits[id] = decimal.NewFromFloat(v)
		}
	}
	return lim
}

type StrategyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	QuoteRefresh      time.Duration `yaml:"quote_refresh"`
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
	QuoteStake        float64       `yaml:"quote_stake"`
	MaxWagersPerLine  int           `yaml:"max_wagers_per_line"`
}

type FeedConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Risk: RiskConfig{
			MaxStakePerWager:    10,
			MinOdds:             -200,
			MaxOdds:             200,
			MaxTotalExposure:    1000,
			MaxConcurrentWagers: 50,
			MaxDailyLoss:        500,
		},
		Strategy: StrategyConfig{
			QuoteRefresh:      5 * time.Second,
			RebalanceInterval: 5 * time.Minute,
			QuoteStake:        1,
			MaxWagersPerLine:  2,
		},
		Feed:  FeedConfig{QueueCapacity: 1024},
		Redis: RedisConfig{TTL: time.Minute},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets deployment environments override credentials and endpoints
// without editing the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("EXCHANGE_BASE_URL"); v != "" {
		cfg.Exchange.BaseURL = v
	}
	if v := os.Getenv("EXCHANGE_STREAM_URL"); v != "" {
		cfg.Exchange.StreamURL = v
	}
	if v := os.Getenv("EXCHANGE_ACCESS_KEY"); v != "" {
		cfg.Exchange.AccessKey = v
	}
	if v := os.Getenv("EXCHANGE_SECRET_KEY"); v != "" {
		cfg.Exchange.SecretKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}
