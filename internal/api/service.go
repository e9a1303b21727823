// Package api provides the HTTP handlers for querying order books, trades,
// and wagers, and for manual wager placement and cancellation.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/book"
	"github.com/prophetmm/market-engine/internal/model"
	"github.com/prophetmm/market-engine/internal/risk"
	"github.com/prophetmm/market-engine/internal/wager"
)

// BalanceSource reports the exchange account balance. The exchange HTTP
// client implements it.
type BalanceSource interface {
	Balance(ctx context.Context) (model.Balance, error)
}

// QueueStats reports feed queue counters for the stats endpoint.
type QueueStats interface {
	Stats() (decoded, failed uint64)
}

// Service handles the read and control surface over the live engine state.
type Service struct {
	engine  *book.Engine
	wagers  *wager.Manager
	balance BalanceSource // optional
	queue   QueueStats    // optional
	started time.Time
}

// NewService creates the API service. balance and queue may be nil.
func NewService(engine *book.Engine, wagers *wager.Manager, balance BalanceSource, queue QueueStats) *Service {
	return &Service{
		engine:  engine,
		wagers:  wagers,
		balance: balance,
		queue:   queue,
		started: time.Now().UTC(),
	}
}

// PlaceWagerRequest is the JSON body for POST /api/v1/wagers.
type PlaceWagerRequest struct {
	LineID string          `json:"line_id"`
	Odds   int             `json:"odds"`
	Stake  decimal.Decimal `json:"stake"`
	// Optional market context for event-level exposure accounting.
	EventID    int64  `json:"event_id"`
	MarketID   string `json:"market_id"`
	MarketType string `json:"market_type"`
	EventName  string `json:"event_name"`
}

// ListBooks handles GET /api/v1/books
// Returns snapshots of every tracked book, optionally filtered by ?event_id=.
func (s *Service) ListBooks(w http.ResponseWriter, r *http.Request) {
	var books []*model.OrderBook
	if v := r.URL.Query().Get("event_id"); v != "" {
		eventID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, "event_id must be an integer", http.StatusBadRequest)
			return
		}
		books = s.engine.GetForEvent(eventID)
	} else {
		all := s.engine.GetAll()
		books = make([]*model.OrderBook, 0, len(all))
		for _, b := range all {
			books = append(books, b)
		}
	}

	snaps := make([]model.BookSnapshot, 0, len(books))
	for _, b := range books {
		snaps = append(snaps, b.Snapshot())
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetBook handles GET /api/v1/books/{marketKey}
func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "marketKey")

	b, ok := s.engine.Get(key)
	if !ok {
		writeError(w, "book not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b.Snapshot())
}

// EventBooks handles GET /api/v1/events/{eventID}/books
func (s *Service) EventBooks(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		writeError(w, "event id must be an integer", http.StatusBadRequest)
		return
	}

	books := s.engine.GetForEvent(eventID)
	snaps := make([]model.BookSnapshot, 0, len(books))
	for _, b := range books {
		snaps = append(snaps, b.Snapshot())
	}
	writeJSON(w, http.StatusOK, snaps)
}

// EventTrades handles GET /api/v1/events/{eventID}/trades
// Returns the most recent matched trades for an event, newest last.
func (s *Service) EventTrades(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		writeError(w, "event id must be an integer", http.StatusBadRequest)
		return
	}

	trades := s.engine.RecentTrades(eventID)
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListWagers handles GET /api/v1/wagers
// Returns active wagers, optionally filtered by ?strategy=.
func (s *Service) ListWagers(w http.ResponseWriter, r *http.Request) {
	var records []model.WagerRecord
	if name := r.URL.Query().Get("strategy"); name != "" {
		records = s.wagers.ByStrategy(name)
	} else {
		records = s.wagers.Active()
	}

	views := make([]model.WagerView, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View())
	}
	writeJSON(w, http.StatusOK, views)
}

// GetWager handles GET /api/v1/wagers/{externalID}
func (s *Service) GetWager(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	rec, ok := s.wagers.Get(externalID)
	if !ok {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec.View())
}

// PlaceWager handles POST /api/v1/wagers
// Manual placements pass through the same risk gate as strategy placements.
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req PlaceWagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LineID == "" {
		writeError(w, "line_id is required", http.StatusBadRequest)
		return
	}
	if !req.Stake.IsPositive() {
		writeError(w, "stake must be positive", http.StatusBadRequest)
		return
	}

	wg := model.NewWager(req.LineID, req.Odds, req.Stake)
	mctx := model.MarketContext{
		EventID:    req.EventID,
		MarketID:   req.MarketID,
		MarketType: req.MarketType,
		EventName:  req.EventName,
	}

	exchangeID, err := s.wagers.Place(r.Context(), wg, "manual", mctx)
	if err != nil {
		switch {
		case errors.Is(err, wager.ErrDuplicateInFlight):
			writeError(w, err.Error(), http.StatusConflict)
		case risk.IsValidation(err):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, risk.ErrTotalExposure),
			errors.Is(err, risk.ErrConcurrentWagers),
			errors.Is(err, risk.ErrEventExposure),
			errors.Is(err, risk.ErrDailyLoss):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "placement failed", http.StatusBadGateway)
		}
		return
	}

	rec, _ := s.wagers.Get(wg.ExternalID)
	slog.Info("manual wager placed", "external_id", wg.ExternalID, "exchange_id", exchangeID)
	writeJSON(w, http.StatusCreated, rec.View())
}

// CancelWager handles DELETE /api/v1/wagers/{externalID}
func (s *Service) CancelWager(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	err := s.wagers.Cancel(r.Context(), externalID, "api request")
	if err != nil {
		if errors.Is(err, wager.ErrNotFound) {
			writeError(w, "wager not found", http.StatusNotFound)
			return
		}
		writeError(w, "cancellation failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// CancelAllWagers handles DELETE /api/v1/wagers
func (s *Service) CancelAllWagers(w http.ResponseWriter, r *http.Request) {
	if err := s.wagers.CancelAll(r.Context(), "api request"); err != nil {
		writeError(w, "bulk cancellation failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetBalance handles GET /api/v1/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	if s.balance == nil {
		writeError(w, "balance source not configured", http.StatusServiceUnavailable)
		return
	}
	bal, err := s.balance.Balance(r.Context())
	if err != nil {
		writeError(w, "balance unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// Stats handles GET /api/v1/stats
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"order_books":    s.engine.Stats(),
		"wagers":         s.wagers.Stats(),
	}
	if s.queue != nil {
		decoded, failed := s.queue.Stats()
		resp["feed"] = map[string]uint64{
			"updates_processed": decoded,
			"decode_failures":   failed,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health
// Reports degraded wager-manager state with 200 so load balancers keep
// routing; the body carries the issue list.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	h := s.wagers.HealthCheck()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  h.Status,
		"service": "market-engine",
		"issues":  h.Issues,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
