package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LockMetrics records guarded-execution activity per lock key.
type LockMetrics interface {
	// IncAcquireAttempt counts one acquisition attempt; result is acquired,
	// contended or error.
	IncAcquireAttempt(key, result string)
	// IncRun counts one finished guarded run by outcome.
	IncRun(key, outcome string)
	// IncRelease counts one release; result is released, missed or error.
	IncRelease(key, result string)
	ObserveWait(key string, seconds float64)
	ObserveHold(key string, seconds float64)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements LockMetrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncAcquireAttempt(string, string)               {}
func (Noop) IncRun(string, string)                          {}
func (Noop) IncRelease(string, string)                      {}
func (Noop) ObserveWait(string, float64)                    {}
func (Noop) ObserveHold(string, float64)                    {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// LockProm implements LockMetrics backed by Prometheus.
type LockProm struct {
	attempts *prometheus.CounterVec
	runs     *prometheus.CounterVec
	releases *prometheus.CounterVec
	wait     *prometheus.HistogramVec
	hold     *prometheus.HistogramVec
}

// NewLockProm registers lock collectors under namespace on the default
// registry. Calling it twice with the same namespace reuses the collectors.
func NewLockProm(namespace string) *LockProm {
	return &LockProm{
		attempts: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_attempts_total",
			Help:      "Lock acquisition attempts by key and result",
		}, []string{"key", "result"})),
		runs: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guarded_runs_total",
			Help:      "Guarded critical-section runs by key and outcome",
		}, []string{"key", "outcome"})),
		releases: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_releases_total",
			Help:      "Lock releases by key and result",
		}, []string{"key", "result"})),
		wait: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent polling before the lock was acquired or abandoned",
			Buckets:   prometheus.DefBuckets,
		}, []string{"key"})),
		hold: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_hold_seconds",
			Help:      "Time the lock was held around the critical section",
			Buckets:   prometheus.DefBuckets,
		}, []string{"key"})),
	}
}

func (p *LockProm) IncAcquireAttempt(key, result string) {
	p.attempts.WithLabelValues(key, result).Inc()
}

func (p *LockProm) IncRun(key, outcome string) {
	p.runs.WithLabelValues(key, outcome).Inc()
}

func (p *LockProm) IncRelease(key, result string) {
	p.releases.WithLabelValues(key, result).Inc()
}

func (p *LockProm) ObserveWait(key string, seconds float64) {
	p.wait.WithLabelValues(key).Observe(seconds)
}

func (p *LockProm) ObserveHold(key string, seconds float64) {
	p.hold.WithLabelValues(key).Observe(seconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	return &gatewayProm{
		requests: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"})),
		latency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
