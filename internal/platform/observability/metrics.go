package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	// RoundsTotal counts finished evaluation rounds by outcome.
	RoundsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camrate",
		Name:      "rounds_total",
		Help:      "Total number of evaluation rounds, labeled by outcome.",
	}, []string{"outcome"})

	RoundDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "camrate",
		Name:      "round_duration_seconds",
		Help:      "Time from frame receipt to done, labeled by outcome.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"outcome"})

	StreamFragmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "camrate",
		Name:      "stream_fragments_total",
		Help:      "Total number of model fragments relayed to clients.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camrate",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, labeled by method, route and status.",
	}, []string{"method", "path", "status"})

	// WSSessionsActive is the number of open evaluation connections.
	WSSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "camrate",
		Name:      "ws_sessions_active",
		Help:      "Number of currently open WebSocket evaluation sessions.",
	})

	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "camrate",
		Name:      "events_dropped_total",
		Help:      "Internal bus events dropped because the async queue was full.",
	})
)

// Register registers collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RoundsTotal,
			RoundDurationSeconds,
			StreamFragmentsTotal,
			HTTPRequestsTotal,
			WSSessionsActive,
			EventsDroppedTotal,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// ObserveRound records one finished round.
func ObserveRound(outcome string, d time.Duration) {
	RoundsTotal.WithLabelValues(outcome).Inc()
	RoundDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

func ObserveHTTP(method, path string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
