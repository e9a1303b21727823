package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prophetmm/market-engine/internal/metrics"
)

var (
	// ErrQueueFull is returned when a submit would exceed the queue bound.
	ErrQueueFull = errors.New("feed: update queue full")
	// ErrQueueClosed is returned once the queue stops accepting frames.
	ErrQueueClosed = errors.New("feed: update queue closed")
)

// Queue is the bounded FIFO hand-off between the transport's callback thread
// and the engine goroutine. The real-time client delivers frames on its own
// thread; Submit is the only entry point from there, and it never blocks.
// All decoding and state mutation happen on the goroutine running Run.
type Queue struct {
	// mu orders Submit against Close so a frame is never sent on the
	// channel after it has been closed.
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	decoded atomic.Uint64
	failed  atomic.Uint64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan []byte, capacity)}
}

// Submit enqueues a raw frame without blocking. Safe to call from any thread.
func (q *Queue) Submit(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new frames.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run drains the queue in arrival order, decoding each frame and handing the
// result to apply. Malformed frames are counted and dropped; one bad frame
// never halts processing of the ones behind it. Returns when the context is
// cancelled or the queue is closed and drained.
func (q *Queue) Run(ctx context.Context, apply func(MarketUpdate)) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-q.ch:
			if !ok {
				return
			}
			u, err := Decode(frame)
			if err != nil {
				q.failed.Add(1)
				metrics.DecodeFailures.Inc()
				slog.Warn("feed: dropping malformed frame", "err", err)
				continue
			}
			q.decoded.Add(1)
			metrics.UpdatesTotal.WithLabelValues(u.ChangeType).Inc()
			apply(u)
		}
	}
}

// Stats reports frames decoded and frames dropped as malformed.
func (q *Queue) Stats() (decoded, failed uint64) {
	return q.decoded.Load(), q.failed.Load()
}
