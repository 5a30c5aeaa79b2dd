package querygen

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/fallback"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querycache"
)

// QueryRecord is the fire-and-forget persistence record written on every
// successful generation (spec.md §4.5 step 4).
type QueryRecord struct {
	Engine      model.SearchEngine
	QueryText   string
	GeneratedAt time.Time
	SessionID   uuid.UUID
	CacheKey    string
}

// RecordStore persists QueryRecords. Implementations must not block the
// caller on failure; the facade only logs a persistence error.
type RecordStore interface {
	InsertQueryRecord(ctx context.Context, rec QueryRecord) error
}

// Facade is QueryGenerationFacade (spec.md §4.5): cache-checked, strategy-
// dispatched, fallback-protected query generation.
type Facade struct {
	strategies map[model.SearchEngine]Strategy
	cache      *querycache.Cache
	store      RecordStore
	fallback   *fallback.Handler
	fallbackQ  []string
	timeout    time.Duration
	logger     *logging.Logger
}

// Config controls Facade construction.
type Config struct {
	TimeoutSeconds  int
	FallbackQueries []string
}

// New constructs a Facade. strategies must have an entry for every engine the
// caller intends to generate for; store may be nil to skip persistence.
func New(strategies map[model.SearchEngine]Strategy, cache *querycache.Cache, store RecordStore, cfg Config, logger *logging.Logger) *Facade {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Facade{
		strategies: strategies,
		cache:      cache,
		store:      store,
		fallback:   fallback.NewHandler(fallback.DefaultConfig()),
		fallbackQ:  cfg.FallbackQueries,
		timeout:    timeout,
		logger:     logger,
	}
}

// Generate implements QueryGenerationFacade.generate (spec.md §4.5).
func (f *Facade) Generate(ctx context.Context, req model.QueryRequest) (model.GeneratedQueries, error) {
	if err := req.Validate(); err != nil {
		return model.GeneratedQueries{}, err
	}

	key := req.CacheKey()
	if f.cache != nil {
		if cached, ok := f.cache.Get(key); ok {
			return cached, nil
		}
	}

	strategy, ok := f.strategies[req.Engine]
	if !ok {
		return model.GeneratedQueries{}, errors.InvalidInput("engine", "no strategy configured for engine")
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result := f.fallback.Execute(callCtx,
		func(ctx context.Context) (interface{}, error) {
			return strategy.Generate(ctx, req)
		},
		func(ctx context.Context) (interface{}, error) {
			if f.logger != nil {
				f.logger.Warn(ctx, "query generation falling back to static list", map[string]interface{}{
					"engine": string(req.Engine),
				})
			}
			return capQueries(f.fallbackQ, req.RequestedCount), nil
		},
	)

	var queries []string
	if result.Err != nil {
		// fallback.Handler only returns Err when every attempt failed; the
		// static fallback list above never errors, so this path is
		// unreachable in practice, but is handled defensively per spec.md's
		// "must never throw" contract.
		queries = capQueries(f.fallbackQ, req.RequestedCount)
	} else {
		queries, _ = result.Value.([]string)
	}

	generated := model.GeneratedQueries{
		Engine:      req.Engine,
		Queries:     queries,
		GeneratedAt: time.Now(),
		FromCache:   false,
	}

	if f.cache != nil {
		f.cache.Set(key, generated)
	}

	if f.store != nil {
		go f.persist(req, key, generated)
	}

	return generated, nil
}

// persist fires the persistence record off the caller's critical path
// (spec.md §4.5 step 4: "fire-and-forget").
func (f *Facade) persist(req model.QueryRequest, key model.QueryCacheKey, generated model.GeneratedQueries) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, q := range generated.Queries {
		rec := QueryRecord{
			Engine:      generated.Engine,
			QueryText:   q,
			GeneratedAt: generated.GeneratedAt,
			SessionID:   req.SessionID,
			CacheKey:    key.String(),
		}
		if err := f.store.InsertQueryRecord(ctx, rec); err != nil && f.logger != nil {
			f.logger.Warn(ctx, "failed to persist generated query", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// GenerateForMany dispatches Generate concurrently across engines,
// isolating each engine's failure from the others (spec.md §4.5,
// generateForMany).
func (f *Facade) GenerateForMany(ctx context.Context, base model.QueryRequest, engines []model.SearchEngine) map[model.SearchEngine]model.GeneratedQueries {
	results := make(map[model.SearchEngine]model.GeneratedQueries, len(engines))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, engine := range engines {
		engine := engine
		g.Go(func() error {
			req := base
			req.Engine = engine
			generated, err := f.Generate(gctx, req)
			if err != nil {
				if f.logger != nil {
					f.logger.Warn(gctx, "query generation failed for engine, isolating", map[string]interface{}{
						"engine": string(engine),
						"error":  err.Error(),
					})
				}
				return nil
			}
			mu.Lock()
			results[engine] = generated
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func capQueries(in []string, count int) []string {
	if count <= 0 || count >= len(in) {
		out := make([]string, len(in))
		copy(out, in)
		return out
	}
	out := make([]string, count)
	copy(out, in[:count])
	return out
}
