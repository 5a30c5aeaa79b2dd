package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/kevinhagel/fundingdiscovery/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	adapterCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "search",
			Name:      "adapter_calls_total",
			Help:      "Total number of search adapter calls, by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	adapterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "search",
			Name:      "adapter_call_duration_seconds",
			Help:      "Duration of search adapter calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"engine"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "search",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per engine (0=closed, 1=half-open, 2=open).",
		},
		[]string{"engine"},
	)

	judgeConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "judge",
			Name:      "confidence",
			Help:      "Distribution of metadata-judgment confidence scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "querycache",
			Name:      "lookups_total",
			Help:      "Query cache lookups, by outcome (hit/miss).",
		},
		[]string{"outcome"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "session",
			Name:      "completed_total",
			Help:      "Discovery sessions completed, by final status.",
		},
		[]string{"status"},
	)

	candidatesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fundingdiscovery",
			Subsystem: "candidate",
			Name:      "created_total",
			Help:      "Total funding candidates persisted.",
		},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		adapterCalls,
		adapterDuration,
		breakerState,
		judgeConfidence,
		cacheHits,
		sessionsTotal,
		candidatesCreated,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
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

// RecordAdapterCall records a single search-adapter invocation.
func RecordAdapterCall(engine, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	adapterCalls.WithLabelValues(engine, outcome).Inc()
	adapterDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// RecordBreakerState publishes the current circuit breaker state for an engine.
func RecordBreakerState(engine string, state int) {
	breakerState.WithLabelValues(engine).Set(float64(state))
}

// RecordJudgeConfidence records a single judging confidence score.
func RecordJudgeConfidence(confidence float64) {
	judgeConfidence.Observe(confidence)
}

// RecordCacheLookup records a query-cache hit or miss.
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheHits.WithLabelValues(outcome).Inc()
}

// RecordSessionCompletion records the final status of a discovery session.
func RecordSessionCompletion(status string) {
	sessionsTotal.WithLabelValues(status).Inc()
}

// RecordCandidateCreated increments the persisted-candidate counter.
func RecordCandidateCreated() {
	candidatesCreated.Inc()
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus metrics.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["engine"]; ok && id != "" {
		return id
	}
	if id, ok := meta["session_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// OrchestratorBatchHooks captures per-batch fan-out timing in the orchestrator.
func OrchestratorBatchHooks() core.ObservationHooks {
	return ObservationHooks("fundingdiscovery", "orchestrator", "batch")
}

// CandidateProcessorHooks captures per-result candidate-processing timing.
func CandidateProcessorHooks() core.ObservationHooks {
	return ObservationHooks("fundingdiscovery", "candidateprocessor", "result")
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
	if len(parts) <= 2 {
		return "/" + strings.Join(parts, "/")
	}
	return "/" + parts[0] + "/" + parts[1] + "/" + parts[2]
}
