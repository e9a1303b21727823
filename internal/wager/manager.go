// Package wager owns the per-wager state machine, the exposure ledger, and
// all placement/cancellation traffic to the exchange transport.
package wager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prophetmm/market-engine/internal/hub"
	"github.com/prophetmm/market-engine/internal/metrics"
	"github.com/prophetmm/market-engine/internal/model"
	"github.com/prophetmm/market-engine/internal/risk"
)

// pendingStaleAfter is how long a placement may stay unresolved before the
// health check flags it. A stalled placement is a warning, never an
// automatic cancellation.
const pendingStaleAfter = 30 * time.Second

var (
	// ErrNotFound is returned when cancelling an id absent from the active
	// set. A wager whose placement has not completed is not yet active and
	// cannot be cancelled.
	ErrNotFound = errors.New("wager: not found in active set")

	// ErrDuplicateInFlight is returned when a placement for the same
	// external id is already pending or active.
	ErrDuplicateInFlight = errors.New("wager: placement already in flight")
)

// Transport is the exchange surface the manager mediates. See the exchange
// package for the HTTP implementation.
type Transport interface {
	Place(ctx context.Context, w model.Wager) (int64, error)
	Cancel(ctx context.Context, externalID string) error
	CancelAll(ctx context.Context) error
}

// Archive receives terminal wager records for append-only audit storage.
// Archived records are never read back; core state is rebuilt from the feed.
type Archive interface {
	RecordWager(ctx context.Context, rec model.WagerRecord) error
}

// Stats is the manager's counter snapshot.
type Stats struct {
	ActiveWagers       int             `json:"active_wagers"`
	TotalPlaced        uint64          `json:"total_placed"`
	TotalCancelled     uint64          `json:"total_cancelled"`
	TotalMatched       uint64          `json:"total_matched"`
	TotalSettled       uint64          `json:"total_settled"`
	TotalExposure      decimal.Decimal `json:"total_exposure"`
	DailyPnL           decimal.Decimal `json:"daily_pnl"`
	PendingPlacements  int             `json:"pending_placements"`
	PendingCancels     int             `json:"pending_cancellations"`
	HistoryCount       int             `json:"history_count"`
}

// Health is the manager's health-check report.
type Health struct {
	Status string   `json:"status"`
	Issues []string `json:"issues"`
	Stats  Stats    `json:"statistics"`
}

// Manager tracks every wager the platform has placed. The active set holds
// non-terminal wagers; terminal ones move to an immutable history list.
// The exposure ledger is maintained incrementally and always equals the sum
// of stakes over the active set.
type Manager struct {
	transport Transport
	limits    risk.Limits
	hub       *hub.Hub
	archive   Archive // optional

	mu         sync.Mutex
	active     map[string]*model.WagerRecord
	history    []model.WagerRecord
	pending    map[string]time.Time // external id -> placement start
	cancelling map[string]string    // external id -> reason
	exposure   decimal.Decimal
	byEvent    map[int64]decimal.Decimal
	dailyPnL   decimal.Decimal

	totalPlaced    uint64
	totalCancelled uint64
	totalMatched   uint64
	totalSettled   uint64
}

// NewManager creates a manager. archive may be nil to disable auditing.
func NewManager(transport Transport, limits risk.Limits, h *hub.Hub, archive Archive) *Manager {
	return &Manager{
		transport:  transport,
		limits:     limits,
		hub:        h,
		archive:    archive,
		active:     make(map[string]*model.WagerRecord),
		pending:    make(map[string]time.Time),
		cancelling: make(map[string]string),
		exposure:   decimal.Zero,
		byEvent:    make(map[int64]decimal.Decimal),
		dailyPnL:   decimal.Zero,
	}
}

// Place validates the wager, runs the risk gate, and submits it to the
// exchange. The pending set guards against two concurrent placements of the
// same external id reaching the transport. On any failure the pending entry
// is removed and no record is created; no partial state survives a failed
// placement.
func (m *Manager) Place(ctx context.Context, w model.Wager, strategyName string, mctx model.MarketContext) (int64, error) {
	m.mu.Lock()
	if _, inFlight := m.pending[w.ExternalID]; inFlight {
		m.mu.Unlock()
		metrics.PlacementRefusals.WithLabelValues("duplicate").Inc()
		return 0, ErrDuplicateInFlight
	}
	if _, exists := m.active[w.ExternalID]; exists {
		m.mu.Unlock()
		metrics.PlacementRefusals.WithLabelValues("duplicate").Inc()
		return 0, ErrDuplicateInFlight
	}

	view := risk.ExposureView{
		TotalExposure: m.exposure,
		ActiveWagers:  len(m.active),
		EventExposure: m.byEvent[mctx.EventID],
		DailyPnL:      m.dailyPnL,
	}
	if err := risk.Evaluate(w, view, mctx, m.limits); err != nil {
		m.mu.Unlock()
		reason := "risk"
		if risk.IsValidation(err) {
			reason = "validation"
		}
		metrics.PlacementRefusals.WithLabelValues(reason).Inc()
		slog.Warn("wager refused", "external_id", w.ExternalID, "reason", reason, "err", err)
		return 0, err
	}
	m.pending[w.ExternalID] = time.Now().UTC()
	m.mu.Unlock()

	exchangeID, err := m.transport.Place(ctx, w)

	m.mu.Lock()
	delete(m.pending, w.ExternalID)
	if err != nil {
		m.mu.Unlock()
		metrics.PlacementRefusals.WithLabelValues("transport").Inc()
		slog.Error("wager placement failed", "external_id", w.ExternalID, "err", err)
		return 0, err
	}

	now := time.Now().UTC()
	w.Status = model.WagerOpen
	w.ExchangeID = exchangeID
	rec := &model.WagerRecord{
		Wager:         w,
		StrategyName:  strategyName,
		MarketContext: mctx,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.active[w.ExternalID] = rec
	m.exposure = m.exposure.Add(w.Stake)
	if mctx.EventID != 0 {
		m.byEvent[mctx.EventID] = m.byEvent[mctx.EventID].Add(w.Stake)
	}
	m.totalPlaced++
	exposure, _ := m.exposure.Float64()
	view2 := rec.View()
	m.mu.Unlock()

	metrics.WagersPlaced.Inc()
	metrics.TotalExposure.Set(exposure)
	slog.Info("placed wager",
		"external_id", w.ExternalID,
		"exchange_id", exchangeID,
		"strategy", strategyName,
		"odds", w.Odds.String(),
		"stake", w.Stake.String(),
	)
	m.hub.Notify("wager_update", view2)
	return exchangeID, nil
}

// Cancel cancels one active wager. Unknown ids fail with ErrNotFound before
// any transport call.
func (m *Manager) Cancel(ctx context.Context, externalID, reason string) error {
	m.mu.Lock()
	if _, ok := m.active[externalID]; !ok {
		m.mu.Unlock()
		slog.Warn("cannot cancel wager, not active", "external_id", externalID)
		return ErrNotFound
	}
	m.cancelling[externalID] = reason
	m.mu.Unlock()

	err := m.transport.Cancel(ctx, externalID)

	m.mu.Lock()
	delete(m.cancelling, externalID)
	if err != nil {
		m.mu.Unlock()
		slog.Error("wager cancellation failed", "external_id", externalID, "err", err)
		return err
	}
	var retired *model.WagerRecord
	if rec, ok := m.active[externalID]; ok {
		m.retireLocked(rec, model.WagerCancelled)
		m.totalCancelled++
		retired = rec
	}
	exposure, _ := m.exposure.Float64()
	m.mu.Unlock()

	metrics.WagersCancelled.Inc()
	metrics.TotalExposure.Set(exposure)
	slog.Info("cancelled wager", "external_id", externalID, "reason", reason)
	if retired != nil {
		m.hub.Notify("wager_update", retired.View())
		m.archiveRecord(ctx, *retired)
	}
	return nil
}

// CancelAll bulk-cancels every active wager with a single transport call.
// On success the active set is cleared atomically with respect to readers:
// no reader observes a partially cleared set mixed with a stale exposure
// total.
func (m *Manager) CancelAll(ctx context.Context, reason string) error {
	if err := m.transport.CancelAll(ctx); err != nil {
		slog.Error("bulk cancellation failed", "err", err)
		return err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	retired := make([]model.WagerRecord, 0, len(m.active))
	for _, rec := range m.active {
		rec.Wager.Status = model.WagerCancelled
		rec.UpdatedAt = now
		m.history = append(m.history, *rec)
		retired = append(retired, *rec)
	}
	m.active = make(map[string]*model.WagerRecord)
	m.exposure = decimal.Zero
	m.byEvent = make(map[int64]decimal.Decimal)
	m.totalCancelled += uint64(len(retired))
	m.mu.Unlock()

	metrics.TotalExposure.Set(0)
	for range retired {
		metrics.WagersCancelled.Inc()
	}
	slog.Info("cancelled all wagers", "count", len(retired), "reason", reason)
	m.hub.Notify("wagers_cancelled", map[string]any{"count": len(retired), "reason": reason})
	for _, rec := range retired {
		m.archiveRecord(ctx, rec)
	}
	return nil
}

// statusUpdate is the shape of an exchange-originated wager push event.
type statusUpdate struct {
	Type  string `json:"type"`
	Wager struct {
		ExternalID   string            `json:"external_id"`
		Status       model.WagerStatus `json:"status"`
		MatchedStake decimal.Decimal   `json:"matched_stake"`
		ProfitLoss   *decimal.Decimal  `json:"profit_loss"`
	} `json:"wager"`
}

// ProcessUpdate consumes one exchange-originated wager-status push event and
// transitions the matching record. Updates that do not decode, name an
// unknown wager, or request an illegal transition are logged and ignored.
func (m *Manager) ProcessUpdate(data []byte) {
	var upd statusUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		slog.Warn("ignoring undecodable wager update", "err", err)
		return
	}
	id, next := upd.Wager.ExternalID, upd.Wager.Status
	if id == "" || next == "" {
		slog.Warn("ignoring wager update with unknown shape", "type", upd.Type)
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	rec, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		slog.Debug("wager update for unknown wager", "external_id", id)
		return
	}
	if !rec.Wager.Status.CanTransitionTo(next) {
		from := rec.Wager.Status
		m.mu.Unlock()
		slog.Warn("ignoring illegal wager transition", "external_id", id, "from", from, "to", next)
		return
	}

	var retired *model.WagerRecord
	switch next {
	case model.WagerMatched:
		rec.Wager.Status = next
		if upd.Wager.MatchedStake.IsPositive() {
			rec.Wager.FilledStake = upd.Wager.MatchedStake
		}
		rec.UpdatedAt = now
		m.totalMatched++
	default: // terminal: settled, cancelled, rejected
		m.retireLocked(rec, next)
		switch next {
		case model.WagerSettled:
			m.totalSettled++
			if upd.Wager.ProfitLoss != nil {
				m.dailyPnL = m.dailyPnL.Add(*upd.Wager.ProfitLoss)
			}
		case model.WagerCancelled:
			m.totalCancelled++
		}
		retired = rec
	}
	exposure, _ := m.exposure.Float64()
	view := rec.View()
	m.mu.Unlock()

	metrics.TotalExposure.Set(exposure)
	slog.Info("wager transitioned", "external_id", id, "status", next)
	m.hub.Notify("wager_update", view)
	if retired != nil {
		m.archiveRecord(context.Background(), *retired)
	}
}

// retireLocked moves a record from the active set to history with the given
// terminal status, keeping the exposure ledger in step. Caller holds mu.
func (m *Manager) retireLocked(rec *model.WagerRecord, status model.WagerStatus) {
	rec.Wager.Status = status
	rec.UpdatedAt = time.Now().UTC()
	delete(m.active, rec.Wager.ExternalID)
	m.exposure = m.exposure.Sub(rec.Wager.Stake)
	if id := rec.MarketContext.EventID; id != 0 {
		remaining := m.byEvent[id].Sub(rec.Wager.Stake)
		if remaining.IsZero() {
			delete(m.byEvent, id)
		} else {
			m.byEvent[id] = remaining
		}
	}
	m.history = append(m.history, *rec)
}

func (m *Manager) archiveRecord(ctx context.Context, rec model.WagerRecord) {
	if m.archive == nil {
		return
	}
	if err := m.archive.RecordWager(ctx, rec); err != nil {
		slog.Error("failed to archive wager record", "external_id", rec.Wager.ExternalID, "err", err)
	}
}

// Active returns copies of every active record.
func (m *Manager) Active() []model.WagerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WagerRecord, 0, len(m.active))
	for _, rec := range m.active {
		out = append(out, *rec)
	}
	return out
}

// ByStrategy returns copies of the active records placed by one strategy.
func (m *Manager) ByStrategy(name string) []model.WagerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WagerRecord
	for _, rec := range m.active {
		if rec.StrategyName == name {
			out = append(out, *rec)
		}
	}
	return out
}

// Get returns one active record by external id.
func (m *Manager) Get(externalID string) (model.WagerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[externalID]
	if !ok {
		return model.WagerRecord{}, false
	}
	return *rec, true
}

// Exposure returns the aggregate stake at risk across active wagers. The
// value is always consistent with the active set at the instant of the call.
func (m *Manager) Exposure() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure
}

// ExposureByEvent returns the stake at risk on one event.
func (m *Manager) ExposureByEvent(eventID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEvent[eventID]
}

// History returns copies of the terminal records.
func (m *Manager) History() []model.WagerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.WagerRecord(nil), m.history...)
}

// AddPnL applies a realized profit-and-loss change to the daily total read
// by the risk gate.
func (m *Manager) AddPnL(delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = m.dailyPnL.Add(delta)
}

// Stats returns the manager's counter snapshot.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	return Stats{
		ActiveWagers:      len(m.active),
		TotalPlaced:       m.totalPlaced,
		TotalCancelled:    m.totalCancelled,
		TotalMatched:      m.totalMatched,
		TotalSettled:      m.totalSettled,
		TotalExposure:     m.exposure,
		DailyPnL:          m.dailyPnL,
		PendingPlacements: len(m.pending),
		PendingCancels:    len(m.cancelling),
		HistoryCount:      len(m.history),
	}
}

// HealthCheck flags stuck pending placements and exposure or wager counts
// running close to their limits.
func (m *Manager) HealthCheck() Health {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	h := Health{Status: "healthy", Stats: m.statsLocked()}

	var stale int
	for _, started := range m.pending {
		if now.Sub(started) > pendingStaleAfter {
			stale++
		}
	}
	if stale > 0 {
		h.Issues = append(h.Issues, fmt.Sprintf("stuck pending placements: %d", stale))
		h.Status = "warning"
	}

	nine := decimal.NewFromFloat(0.9)
	if m.exposure.GreaterThan(m.limits.MaxTotalExposure.Mul(nine)) {
		h.Issues = append(h.Issues, fmt.Sprintf("high exposure: %s", m.exposure))
		h.Status = "warning"
	}
	if float64(len(m.active)) > float64(m.limits.MaxConcurrentWagers)*0.9 {
		h.Issues = append(h.Issues, fmt.Sprintf("high wager count: %d", len(m.active)))
		h.Status = "warning"
	}
	return h
}
