// Package search implements the Search Adapter Set (spec.md §4.3): a
// unified {search, engine, enabled, health} contract over per-engine HTTP
// clients, each wrapped in a circuit breaker and retry policy. Grounded on
// the teacher's infrastructure/resilience.go (CircuitBreaker/Retry over
// gobreaker and backoff) and infrastructure/ratelimit.go (per-adapter
// outbound rate limiting).
package search

import (
	"context"
	"time"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/ratelimit"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/resilience"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// Adapter is the contract every search engine integration implements.
type Adapter interface {
	Engine() model.SearchEngine
	Enabled() bool
	Health(ctx context.Context) error
	Search(ctx context.Context, query string, count int) ([]model.SearchResult, error)
}

// HTTPSearcher is the engine-specific piece an Adapter delegates the actual
// HTTP call and JSON mapping to. Adapters differ only in this.
type HTTPSearcher interface {
	// DoSearch performs the underlying HTTP call and maps the response into
	// SearchResult values, ranked in response order.
	DoSearch(ctx context.Context, query string, count int) ([]model.SearchResult, error)
	// Ping performs a cheap reachability check for Health.
	Ping(ctx context.Context) error
}

// AdapterConfig mirrors pkg/config.AdapterConfig plus the breaker/retry knobs
// every adapter shares.
type AdapterConfig struct {
	Enabled        bool
	TimeoutSeconds int
	RateLimit      ratelimit.RateLimitConfig
	Breaker        resilience.Config
	Retry          resilience.RetryConfig
}

// WrappedAdapter is the resilience.Execute-wrapped, metrics-instrumented
// Adapter implementation shared by every engine.
type WrappedAdapter struct {
	engine   model.SearchEngine
	enabled  bool
	searcher HTTPSearcher
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	limiter  *ratelimit.RateLimiter
	usage    UsageRecorder
	logger   *logging.Logger
	metrics  *metrics.Metrics
	service  string
	clock    func() time.Time
}

// NewWrappedAdapter constructs the shared resilience/metrics scaffolding
// around an engine-specific HTTPSearcher.
func NewWrappedAdapter(engine model.SearchEngine, cfg AdapterConfig, searcher HTTPSearcher, logger *logging.Logger, m *metrics.Metrics) *WrappedAdapter {
	return &WrappedAdapter{
		engine:   engine,
		enabled:  cfg.Enabled,
		searcher: searcher,
		breaker:  resilience.New(cfg.Breaker),
		retry:    cfg.Retry,
		limiter:  ratelimit.New(cfg.RateLimit),
		logger:   logger,
		metrics:  m,
		service:  "discovery",
		clock:    time.Now,
	}
}

// SetUsageRecorder attaches the per-call accounting sink. May stay nil in
// tests and local runs without persistence.
func (a *WrappedAdapter) SetUsageRecorder(rec UsageRecorder) {
	a.usage = rec
}

// Engine identifies this adapter.
func (a *WrappedAdapter) Engine() model.SearchEngine { return a.engine }

// Enabled reports whether this adapter is configured for use.
func (a *WrappedAdapter) Enabled() bool { return a.enabled }

// Health runs the underlying searcher's cheap reachability probe.
func (a *WrappedAdapter) Health(ctx context.Context) error {
	return a.searcher.Ping(ctx)
}

// Search runs query through the circuit breaker and retry policy, recording
// metrics, structured logs and a usage record once per call, after the
// retries finish (spec.md §4.3, §7).
func (a *WrappedAdapter) Search(ctx context.Context, query string, count int) ([]model.SearchResult, error) {
	if !a.enabled {
		return nil, errors.InvalidInput("engine", "adapter is disabled")
	}

	if a.metrics != nil {
		a.metrics.SetBreakerState(a.service, string(a.engine), int(a.breaker.State()))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, errors.Timeout("rate limit wait")
	}

	start := a.clock()
	var results []model.SearchResult

	err := a.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, a.retry, func() error {
			r, searchErr := a.searcher.DoSearch(ctx, query, count)
			if searchErr != nil {
				return searchErr
			}
			results = r
			return nil
		})
	})

	duration := a.clock().Sub(start)

	if err != nil {
		classified := classifyError(string(a.engine), err)
		if a.logger != nil {
			a.logger.LogSearchCall(ctx, string(a.engine), query, 0, duration, classified)
			a.logger.LogAdapterError(ctx, string(a.engine), string(errors.GetServiceError(classified).Code), classified)
		}
		if a.metrics != nil {
			a.metrics.RecordAdapterCall(a.service, string(a.engine), "error", duration)
		}
		a.recordUsage(ctx, query, 0, duration, classified)
		return nil, classified
	}

	if a.logger != nil {
		a.logger.LogSearchCall(ctx, string(a.engine), query, len(results), duration, nil)
	}
	if a.metrics != nil {
		a.metrics.RecordAdapterCall(a.service, string(a.engine), "ok", duration)
	}
	a.recordUsage(ctx, query, len(results), duration, nil)
	return results, nil
}

// classifyError maps an underlying transport/breaker error into the
// taxonomy spec.md §7 requires every adapter to surface.
func classifyError(engine string, err error) *errors.ServiceError {
	if errors.IsServiceError(err) {
		return errors.GetServiceError(err)
	}
	switch err {
	case resilience.ErrCircuitOpen, resilience.ErrTooManyRequests:
		return errors.CircuitOpenError(engine)
	}
	return errors.AdapterUnknown(engine, err)
}

// Registry holds every configured Adapter, keyed by engine, and is the
// Search Orchestrator's sole dependency on this package.
type Registry struct {
	adapters map[model.SearchEngine]Adapter
}

// NewRegistry builds a Registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.SearchEngine]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Engine()] = a
	}
	return r
}

// Get returns the adapter for engine, or nil if unknown.
func (r *Registry) Get(engine model.SearchEngine) Adapter {
	return r.adapters[engine]
}

// Enabled returns every adapter configured with Enabled() == true.
func (r *Registry) Enabled() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Enabled() {
			out = append(out, a)
		}
	}
	return out
}

// All returns every registered adapter regardless of enabled state.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
