// Package exchange is the HTTP transport collaborator: token login plus the
// remote primitives the wager manager mediates. Every call is a fallible
// remote call with no implicit retry; retry policy belongs to the caller.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prophetmm/market-engine/internal/metrics"
	"github.com/prophetmm/market-engine/internal/model"
)

// ErrTransport marks any remote call failure: connection errors, non-2xx
// responses, undecodable bodies.
var ErrTransport = errors.New("exchange: transport call failed")

// Transport is the surface the wager manager depends on.
type Transport interface {
	// Place submits one wager and returns the exchange-assigned id.
	Place(ctx context.Context, w model.Wager) (int64, error)

	// Cancel cancels one wager by its external id.
	Cancel(ctx context.Context, externalID string) error

	// CancelAll cancels every open wager in a single call.
	CancelAll(ctx context.Context) error

	// Balance fetches the current account balance.
	Balance(ctx context.Context) (model.Balance, error)
}

// Client talks to the exchange's market-maker HTTP API.
type Client struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client

	mu     sync.Mutex
	token  string
	wagers map[string]int64 // external id -> exchange-assigned id
}

// NewClient creates a client for the given API base URL and key pair.
func NewClient(baseURL, accessKey, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		accessKey: accessKey,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		wagers:    make(map[string]int64),
	}
}

// Login establishes a session and stores the access token used by all
// subsequent calls.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{
		"access_key": c.accessKey,
		"secret_key": c.secretKey,
	}
	var data struct {
		AccessToken string `json:"access_token"`
	}
	status, err := c.doJSON(ctx, "login", http.MethodPost, "partner/auth/login", body, &data)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: login status %d", ErrTransport, status)
	}
	c.mu.Lock()
	c.token = data.AccessToken
	c.mu.Unlock()
	slog.Info("logged into exchange", "base_url", c.baseURL)
	return nil
}

// Token returns the current session token, empty before a successful login.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Place submits one wager. On acceptance the exchange-assigned id is
// remembered for later cancellation.
func (c *Client) Place(ctx context.Context, w model.Wager) (int64, error) {
	odds, _ := w.Odds.Value()
	body := map[string]any{
		"external_id": w.ExternalID,
		"line_id":     w.LineID,
		"odds":        odds,
		"stake":       w.Stake,
	}
	var data struct {
		Wager struct {
			ID int64 `json:"id"`
		} `json:"wager"`
	}
	status, err := c.doJSON(ctx, "place", http.MethodPost, "partner/mm/place_wager", body, &data)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("%w: place status %d", ErrTransport, status)
	}
	c.mu.Lock()
	c.wagers[w.ExternalID] = data.Wager.ID
	c.mu.Unlock()
	return data.Wager.ID, nil
}

// Cancel cancels one wager. A 404 means the wager is already gone on the
// exchange side and counts as success.
func (c *Client) Cancel(ctx context.Context, externalID string) error {
	c.mu.Lock()
	exchangeID, ok := c.wagers[externalID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no exchange id for wager %s", ErrTransport, externalID)
	}

	body := map[string]any{
		"external_id": externalID,
		"wager_id":    exchangeID,
	}
	status, err := c.doJSON(ctx, "cancel", http.MethodPost, "partner/mm/cancel_wager", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("%w: cancel status %d", ErrTransport, status)
	}
	c.mu.Lock()
	delete(c.wagers, externalID)
	c.mu.Unlock()
	return nil
}

// CancelAll cancels every open wager in one call. A 404 means there was
// nothing to cancel.
func (c *Client) CancelAll(ctx context.Context) error {
	status, err := c.doJSON(ctx, "cancel_all", http.MethodPost, "partner/mm/cancel_all_wagers", map[string]any{}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNotFound {
		return fmt.Errorf("%w: cancel_all status %d", ErrTransport, status)
	}
	c.mu.Lock()
	c.wagers = make(map[string]int64)
	c.mu.Unlock()
	return nil
}

// Balance fetches the current account balance.
func (c *Client) Balance(ctx context.Context) (model.Balance, error) {
	var data model.Balance
	status, err := c.doJSON(ctx, "balance", http.MethodGet, "partner/mm/get_balance", nil, &data)
	if err != nil {
		return model.Balance{}, err
	}
	if status != http.StatusOK {
		return model.Balance{}, fmt.Errorf("%w: balance status %d", ErrTransport, status)
	}
	return data, nil
}

// doJSON runs one request and decodes the response's data field into out
// when the status is 200 and out is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) (int, error) {
	start := time.Now()
	defer func() {
		metrics.TransportLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: encode %s: %v", ErrTransport, op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, rd)
	if err != nil {
		return 0, fmt.Errorf("%w: build %s: %v", ErrTransport, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode %s: %v", ErrTransport, op, err)
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode %s data: %v", ErrTransport, op, err)
		}
	}
	return resp.StatusCode, nil
}
