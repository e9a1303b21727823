package exchange

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// FrameSink accepts raw push frames from the exchange stream. The feed
// queue implements it.
type FrameSink interface {
	Submit(frame []byte) error
}

// Stream maintains the WebSocket connection to the exchange push feed and
// forwards every frame to the sink. Frames the sink refuses (queue full or
// closed) are dropped; the book state recovers from the next full update.
type Stream struct {
	url   string
	token func() string
	sink  FrameSink
}

// NewStream creates a stream. token is read on every (re)connect so a
// refreshed login is picked up automatically.
func NewStream(url string, token func() string, sink FrameSink) *Stream {
	return &Stream{url: url, token: token, sink: sink}
}

// Run connects and reads until ctx is cancelled, reconnecting with capped
// exponential backoff after any failure.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := s.connect(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("feed connection lost", "err", err, "retry_in", backoff)
		}
		if connected {
			backoff = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// connect dials once and pumps frames until the connection drops. Returns
// whether the dial succeeded, so the caller can reset its backoff.
func (s *Stream) connect(ctx context.Context) (bool, error) {
	header := http.Header{}
	if tok := s.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	slog.Info("feed connected", "url", s.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if err := s.sink.Submit(frame); err != nil {
			slog.Warn("dropping feed frame", "err", err)
		}
	}
}
