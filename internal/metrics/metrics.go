// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpdatesTotal counts decoded feed updates, partitioned by change tag.
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_feed_updates_total",
		Help: "Total feed updates decoded",
	}, []string{"change_type"})

	// DecodeFailures counts push frames dropped as malformed.
	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_feed_decode_failures_total",
		Help: "Push frames dropped because the payload failed to decode",
	})

	// OrderBooks tracks the number of order books currently maintained.
	OrderBooks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_order_books",
		Help: "Number of order books currently maintained",
	})

	// WagersPlaced counts wagers accepted by the exchange.
	WagersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_wagers_placed_total",
		Help: "Wagers successfully placed",
	})

	// WagersCancelled counts wagers cancelled, single and bulk.
	WagersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mm_wagers_cancelled_total",
		Help: "Wagers cancelled",
	})

	// PlacementRefusals counts placements refused before or at the transport,
	// partitioned by refusal class.
	PlacementRefusals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_placement_refusals_total",
		Help: "Wager placements refused",
	}, []string{"reason"})

	// TotalExposure tracks the aggregate stake at risk across active wagers.
	TotalExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_total_exposure",
		Help: "Aggregate stake across active wagers",
	})

	// WebSocketClients tracks connected dashboard WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// TransportLatency tracks exchange call latency by operation.
	TransportLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mm_transport_latency_seconds",
		Help:    "Exchange transport call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
