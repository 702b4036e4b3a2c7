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
			Namespace: "finance_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finance_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	loanOriginations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "loans",
			Name:      "originations_total",
			Help:      "Total number of loans originated.",
		},
	)

	loanTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "loans",
			Name:      "status_transitions_total",
			Help:      "Total number of loan status transitions.",
		},
		[]string{"from", "to"},
	)

	paymentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "payments",
			Name:      "processed_total",
			Help:      "Total number of payment attempts by outcome.",
		},
		[]string{"type", "status"},
	)

	paymentAmounts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finance_layer",
			Subsystem: "payments",
			Name:      "amount_cents",
			Help:      "Distribution of completed payment amounts in cents.",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10), // $10 to ~$2.6M
		},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finance_layer",
			Subsystem: "automation",
			Name:      "sweep_runs_total",
			Help:      "Total number of servicing sweep runs.",
		},
		[]string{"success"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finance_layer",
			Subsystem: "automation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of servicing sweep runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		loanOriginations,
		loanTransitions,
		paymentsProcessed,
		paymentAmounts,
		sweepRuns,
		sweepDuration,
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

// RecordLoanOrigination counts a successfully created loan.
func RecordLoanOrigination() {
	loanOriginations.Inc()
}

// RecordLoanTransition counts a loan status transition.
func RecordLoanTransition(from, to string) {
	loanTransitions.WithLabelValues(from, to).Inc()
}

// RecordPayment counts a payment attempt and, for completed payments,
// observes the settled amount.
func RecordPayment(paymentType, status string, amountCents int64) {
	paymentsProcessed.WithLabelValues(paymentType, status).Inc()
	if status == "Completed" && amountCents > 0 {
		paymentAmounts.Observe(float64(amountCents))
	}
}

// RecordSweep records one servicing sweep run.
func RecordSweep(duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	sweepRuns.WithLabelValues(result).Inc()
	sweepDuration.Observe(duration.Seconds())
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

// canonicalPath collapses record ids so metric labels stay low-cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "loans", "payments":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
