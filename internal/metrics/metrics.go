// Package metrics provides Prometheus instrumentation for the workers.
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
	// WorkerRuns counts RunOnce invocations by worker and result.
	WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betbot_worker_runs_total",
		Help: "Worker iterations by result (ok, error, panic)",
	}, []string{"worker", "result"})

	WorkerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betbot_worker_duration_seconds",
		Help:    "Worker iteration duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"worker"})

	// SessionLoggedIn is 1 while the exchange session is established.
	SessionLoggedIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betbot_session_logged_in",
		Help: "Whether the exchange session is established",
	})

	MarketsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betbot_markets_synced_total",
		Help: "Markets upserted by catalog sync",
	})

	// MarketDecisions counts play decisions by outcome and skip code.
	MarketDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betbot_market_decisions_total",
		Help: "Markets played or skipped",
	}, []string{"decision", "code"})

	ActiveWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betbot_active_watchers",
		Help: "Market watchers currently polling",
	})

	SnapshotsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betbot_snapshots_stored_total",
		Help: "Book snapshots persisted",
	})

	// BetsPlaced counts accepted bets by strategy and mode (live, simulated).
	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betbot_bets_placed_total",
		Help: "Bets accepted by the exchange or the simulator",
	}, []string{"strategy", "mode"})

	LimitRetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betbot_limit_retries_exhausted_total",
		Help: "Limit order batches that never fully executed",
	}, []string{"strategy"})

	OrdersSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betbot_orders_settled_total",
		Help: "Orders settled by strategy and outcome",
	}, []string{"strategy", "outcome"})

	SettlementInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betbot_settlement_inconsistencies_total",
		Help: "Cleared orders with no matching instruction",
	})

	// StrategyPnL mirrors the statistics table by strategy and window.
	StrategyPnL = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betbot_strategy_pnl",
		Help: "Rolling profit and loss by strategy and window",
	}, []string{"strategy", "window"})

	AccountAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betbot_account_available",
		Help: "Available-to-bet balance",
	})

	AccountExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betbot_account_exposure",
		Help: "Current exposure",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betbot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betbot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
