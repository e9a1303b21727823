package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/api"
	"github.com/prophetmm/market-engine/internal/book"
	"github.com/prophetmm/market-engine/internal/config"
	"github.com/prophetmm/market-engine/internal/exchange"
	"github.com/prophetmm/market-engine/internal/feed"
	"github.com/prophetmm/market-engine/internal/hub"
	"github.com/prophetmm/market-engine/internal/metrics"
	"github.com/prophetmm/market-engine/internal/store"
	"github.com/prophetmm/market-engine/internal/strategy"
	"github.com/prophetmm/market-engine/internal/wager"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Audit archive ---
	var archive store.Archive
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresArchive(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("archive schema setup failed", "err", err)
			os.Exit(1)
		}
		archive = pg
		slog.Info("audit archive on PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, audit records kept in memory only")
		archive = store.NewMemoryArchive()
	}

	// --- Notification hub, book engine, feed queue ---
	notifications := hub.New()
	engine := book.NewEngine(notifications)
	queue := feed.NewQueue(cfg.Feed.QueueCapacity)

	// --- Redis book snapshot cache ---
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid Redis URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		cache := store.NewBookCache(rdb, cfg.Redis.TTL)
		notifications.Subscribe(func(updateType string, payload any) {
			if updateType != "order_book_update" {
				return
			}
			upd, ok := payload.(book.OrderBookUpdate)
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := cache.PutBook(cctx, upd.MarketID, upd.Book); err != nil {
				slog.Warn("book cache write failed", "market_id", upd.MarketID, "err", err)
			}
		})
		slog.Info("book snapshot cache enabled")
	}

	// --- Trade auditing ---
	notifications.Subscribe(func(updateType string, payload any) {
		if updateType != "trade_update" {
			return
		}
		upd, ok := payload.(book.TradeUpdate)
		if !ok {
			return
		}
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := archive.RecordTrade(cctx, upd.Trade); err != nil {
			slog.Warn("trade archive write failed", "event_id", upd.EventID, "err", err)
		}
	})

	// --- Exchange client + feed stream ---
	client := exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.AccessKey, cfg.Exchange.SecretKey)
	if cfg.Exchange.BaseURL != "" {
		if err := client.Login(ctx); err != nil {
			slog.Error("exchange login failed", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("exchange base URL not set, running without exchange session")
	}
	if cfg.Exchange.StreamURL != "" {
		stream := exchange.NewStream(cfg.Exchange.StreamURL, client.Token, queue)
		go stream.Run(ctx)
	} else {
		slog.Warn("exchange stream URL not set, feed queue fed externally")
	}

	// --- Wager manager ---
	manager := wager.NewManager(client, cfg.Risk.Limits(), notifications, archive)

	// Single consumer: market updates mutate the books, wager-status pushes
	// from the private channel transition wager records.
	go queue.Run(ctx, func(u feed.MarketUpdate) {
		if u.Kind == feed.KindWager {
			manager.ProcessUpdate(u.Raw)
			return
		}
		engine.Apply(u)
	})

	// --- Strategy ---
	if cfg.Strategy.Enabled {
		maker := strategy.NewSimpleMaker(engine, manager, strategy.Params{
			QuoteStake:        decimal.NewFromFloat(cfg.Strategy.QuoteStake),
			MaxWagersPerLine:  cfg.Strategy.MaxWagersPerLine,
			QuoteRefresh:      cfg.Strategy.QuoteRefresh,
			RebalanceInterval: cfg.Strategy.RebalanceInterval,
		})
		go maker.Run(ctx)
	}

	// --- Schedulers: balance poll, health check ---
	if cfg.Exchange.BaseURL != "" {
		go pollBalance(ctx, client, 30*time.Second)
	}
	go pollHealth(ctx, manager, time.Minute)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	wsHub.Attach(notifications)

	// --- API service ---
	apiSvc := api.NewService(engine, manager, client, queue)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", apiSvc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time engine notifications.
		r.Get("/ws", wsHub.HandleWS)

		// Order books and trades.
		r.Get("/books", apiSvc.ListBooks)
		r.Get("/books/{marketKey}", apiSvc.GetBook)
		r.Get("/events/{eventID}/books", apiSvc.EventBooks)
		r.Get("/events/{eventID}/trades", apiSvc.EventTrades)

		// Wager lifecycle.
		r.Get("/wagers", apiSvc.ListWagers)
		r.Post("/wagers", apiSvc.PlaceWager)
		r.Delete("/wagers", apiSvc.CancelAllWagers)
		r.Get("/wagers/{externalID}", apiSvc.GetWager)
		r.Delete("/wagers/{externalID}", apiSvc.CancelWager)

		// Account and statistics.
		r.Get("/balance", apiSvc.GetBalance)
		r.Get("/stats", apiSvc.Stats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down market-engine...")
	stop()
	queue.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Pull every resting wager before exiting so nothing is left quoting
	// into a market nobody is watching.
	if cfg.Exchange.BaseURL != "" {
		if err := manager.CancelAll(shutdownCtx, "shutdown"); err != nil {
			slog.Error("shutdown cancel-all failed", "err", err)
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("market-engine stopped")
}

// pollBalance logs the exchange balance on a fixed cadence.
func pollBalance(ctx context.Context, client *exchange.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			bal, err := client.Balance(bctx)
			cancel()
			if err != nil {
				slog.Warn("balance poll failed", "err", err)
				continue
			}
			slog.Info("exchange balance", "balance", bal.Balance.String(), "currency", bal.Currency)
		}
	}
}

// pollHealth logs wager-manager health issues as they appear.
func pollHealth(ctx context.Context, manager *wager.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := manager.HealthCheck()
			if h.Status != "healthy" {
				slog.Warn("wager manager degraded", "status", h.Status, "issues", h.Issues)
			}
		}
	}
}
