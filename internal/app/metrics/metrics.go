// Package metrics exposes the Prometheus collectors for the sync subsystem.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Subsystem: "queue",
			Name:      "pending_operations",
			Help:      "Current number of pending sync queue items.",
		},
	)

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Total number of per-item sync attempts.",
		},
		[]string{"result"},
	)

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "sync",
			Name:      "cycles_total",
			Help:      "Total number of sync drain cycles.",
		},
		[]string{"outcome"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Subsystem: "sync",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync drain cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	connectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "Whether the remote API is currently reachable (1) or not (0).",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		queuePending,
		syncAttempts,
		syncCycles,
		syncDuration,
		connectivityOnline,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// SetQueuePending updates the pending-operations gauge.
func SetQueuePending(n int) {
	queuePending.Set(float64(n))
}

// RecordSyncAttempt records one per-item sync attempt.
func RecordSyncAttempt(result string) {
	if result == "" {
		result = "unknown"
	}
	syncAttempts.WithLabelValues(result).Inc()
}

// RecordSyncCycle records a completed drain cycle.
func RecordSyncCycle(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	syncCycles.WithLabelValues(outcome).Inc()
	syncDuration.Observe(duration.Seconds())
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		connectivityOnline.Set(1)
		return
	}
	connectivityOnline.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "drafts":
		if len(parts) == 1 {
			return "/drafts"
		}
		if parts[1] == "current" || parts[1] == "cleanup" {
			return "/drafts/" + parts[1]
		}
		if len(parts) > 2 {
			return "/drafts/:id/" + parts[2]
		}
		return "/drafts/:id"
	case "queue":
		if len(parts) == 1 {
			return "/queue"
		}
		if parts[1] == "refresh" {
			return "/queue/refresh"
		}
		if len(parts) > 2 {
			return "/queue/:uuid/" + parts[2]
		}
		return "/queue/:uuid"
	default:
		return "/" + parts[0]
	}
}
