package metrics

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/rumble/internal/app/events"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rumble",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rumble",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	depositsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "deposits_total",
			Help:      "Total number of accepted deposits.",
		},
	)

	depositedUnits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "deposited_units_total",
			Help:      "Total value units accepted as deposits.",
		},
	)

	scoreBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "score_batches_total",
			Help:      "Total number of recorded score batches.",
		},
	)

	settlementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "settlements_total",
			Help:      "Total number of completed winner selections.",
		},
	)

	paidUnits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "paid_units_total",
			Help:      "Total value units paid out to winners.",
		},
	)

	burnedUnits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "burned_units_total",
			Help:      "Total value units burned at settlement.",
		},
	)

	resetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "rounds",
			Name:      "resets_total",
			Help:      "Total number of round resets.",
		},
	)

	scheduledRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rumble",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job dispatches.",
		},
		[]string{"job", "success"},
	)

	scheduledDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rumble",
			Subsystem: "scheduler",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of scheduled job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		depositsTotal,
		depositedUnits,
		scoreBatches,
		settlementsTotal,
		paidUnits,
		burnedUnits,
		resetsTotal,
		scheduledRuns,
		scheduledDuration,
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

// RecordScheduledRun records metrics for scheduler job dispatches.
func RecordScheduledRun(job string, duration time.Duration, success bool) {
	if job == "" {
		job = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	scheduledRuns.WithLabelValues(job, result).Inc()
	scheduledDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// EventObserver is a notification sink that turns round events into counter
// updates. Chain it after the delivery sinks.
type EventObserver struct{}

func (EventObserver) Emit(_ context.Context, evt events.Event) {
	switch p := evt.Payload.(type) {
	case events.DepositRecorded:
		depositsTotal.Inc()
		depositedUnits.Add(float64(p.Amount))
	case events.ScoresRecorded:
		scoreBatches.Inc()
	case events.WinnersSelected:
		settlementsTotal.Inc()
		paidUnits.Add(float64(p.PerWinner) * float64(len(p.Winners)))
		burnedUnits.Add(float64(p.BurnShare))
	case events.GameReset:
		resetsTotal.Inc()
	}
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

// Hijack forwards to the underlying writer so websocket upgrades still work
// behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) < 3 {
		return "/api"
	}
	prefix := "/" + parts[0] + "/" + parts[1]
	switch parts[2] {
	case "rounds":
		switch {
		case len(parts) == 3:
			return prefix + "/rounds"
		case len(parts) == 4:
			return prefix + "/rounds/:id"
		default:
			return prefix + "/rounds/:id/" + parts[4]
		}
	case "accounts":
		if len(parts) == 3 {
			return prefix + "/accounts"
		}
		return prefix + "/accounts/:address"
	default:
		return prefix + "/" + parts[2]
	}
}
