// Package metrics provides Prometheus instrumentation for the trading engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts order placements by side and outcome code
	// ("EXECUTED" or the rejection reason).
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockquest_orders_total",
		Help: "Total number of order placements by side and result",
	}, []string{"side", "result"})

	OrderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockquest_order_latency_seconds",
		Help:    "Order placement latency in seconds, price resolution included",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// PriceFallbacks counts synthetic prices handed out, by the reason live
	// data was unusable (miss, error, timeout, invalid).
	PriceFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockquest_price_fallbacks_total",
		Help: "Prices served from the reference table instead of market data",
	}, []string{"reason"})

	TickerMappingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockquest_ticker_mapping_failures_total",
		Help: "Instrument key lookups that fell back to the key itself",
	})

	// SessionsTotal counts lifecycle transitions (created, started,
	// completed, cancelled, failed).
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockquest_sessions_total",
		Help: "Session lifecycle transitions",
	}, []string{"transition"})

	// TradedVolume tracks cumulative executed quantity per side.
	TradedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockquest_traded_volume_total",
		Help: "Cumulative executed quantity in shares",
	}, []string{"side"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockquest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockquest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockquest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps session ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Hijack lets the WebSocket upgrader take over connections that pass
// through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
