// Package orchestrator implements the Search Orchestrator (spec.md §4.6):
// fan-out of structured queries across the Search Adapter Set under a
// per-batch deadline, anti-spam filtering, domain-level dedup, blacklist
// filtering, and aggregated per-engine statistics. Grounded on the teacher's
// services/datafeeds/datafeeds.go fan-out shape, adapted from
// sync.WaitGroup to golang.org/x/sync/errgroup so the per-batch deadline
// composes with errgroup.WithContext cancellation.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/antispam"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/registry"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
)

// Query is one engine-tagged query to run in a batch (spec.md §4.6).
type Query struct {
	Engine     model.SearchEngine
	Text       string
	MaxResults int
}

// EngineStats reports one engine's contribution to a batch (spec.md §4.6
// step 7).
type EngineStats struct {
	RawCount          int
	SpamFiltered      int
	DuplicatesRemoved int
	Error             error
}

// BatchResult is the orchestrator's output for one fan-out round.
type BatchResult struct {
	Results []model.SearchResult
	Stats   map[model.SearchEngine]*EngineStats
	Errors  []error
}

// Orchestrator runs the Search Orchestrator algorithm.
type Orchestrator struct {
	registry      *search.Registry
	antispam      *antispam.Filter
	domains       *registry.Registry
	batchDeadline time.Duration
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

// Config controls batch-level behavior.
type Config struct {
	BatchDeadlineSeconds int
}

// New constructs an Orchestrator.
func New(adapters *search.Registry, spam *antispam.Filter, domains *registry.Registry, cfg Config, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	deadline := time.Duration(cfg.BatchDeadlineSeconds) * time.Second
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &Orchestrator{
		registry:      adapters,
		antispam:      spam,
		domains:       domains,
		batchDeadline: deadline,
		logger:        logger,
		metrics:       m,
	}
}

// RunBatch executes spec.md §4.6's algorithm over queries for sessionID.
func (o *Orchestrator) RunBatch(ctx context.Context, queries []Query, sessionID uuid.UUID) (*BatchResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.batchDeadline)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	allResults := make([]model.SearchResult, 0, len(queries)*10)
	stats := make(map[model.SearchEngine]*EngineStats, len(queries))
	var batchErrors []error
	enabledEngines := make(map[model.SearchEngine]bool)
	succeededEngines := make(map[model.SearchEngine]bool)

	for _, q := range queries {
		q := q
		adapter := o.registry.Get(q.Engine)
		if adapter == nil || !adapter.Enabled() {
			continue
		}
		enabledEngines[q.Engine] = true

		g.Go(func() error {
			results, err := adapter.Search(gctx, q.Text, q.MaxResults)

			mu.Lock()
			defer mu.Unlock()

			st, ok := stats[q.Engine]
			if !ok {
				st = &EngineStats{}
				stats[q.Engine] = st
			}
			if err != nil {
				st.Error = err
				batchErrors = append(batchErrors, err)
				if o.logger != nil {
					o.logger.LogAdapterError(gctx, string(q.Engine), "orchestrator_batch", err)
				}
				return nil
			}
			st.RawCount += len(results)
			succeededEngines[q.Engine] = true
			allResults = append(allResults, results...)
			return nil
		})
	}

	// Wait for the fan-out to finish or the batch deadline to expire;
	// individual adapter errors never fail the group (they are recorded
	// above, not returned), so g.Wait only ever reports context
	// cancellation/deadline.
	_ = g.Wait()

	// Step 3: fail the batch only if every engine reported an error (an
	// engine with at least one successful query has not failed).
	failedEngines := 0
	for engine := range enabledEngines {
		if !succeededEngines[engine] {
			failedEngines++
		}
	}
	if len(enabledEngines) > 0 && len(batchErrors) > 0 && failedEngines == len(enabledEngines) {
		return nil, errors.Internal("all engines failed for this batch", batchErrors[0])
	}

	// Step 4: anti-spam filter.
	filtered := make([]model.SearchResult, 0, len(allResults))
	for _, r := range allResults {
		if o.antispam != nil {
			v := o.antispam.Evaluate(r)
			if !v.Accepted {
				if st := stats[r.Engine]; st != nil {
					st.SpamFiltered++
				}
				continue
			}
		}
		filtered = append(filtered, r)
	}

	// Step 5: domain-level dedup within the batch, keeping the
	// lowest (best) rank position per domain, tie-broken lexicographically.
	deduped, duplicatesByEngine := dedupeByDomain(filtered)
	for engine, count := range duplicatesByEngine {
		if st, ok := stats[engine]; ok {
			st.DuplicatesRemoved += count
		}
	}

	// Step 6: filter out blacklisted domains.
	final := make([]model.SearchResult, 0, len(deduped))
	for _, r := range deduped {
		domainName, err := registry.ExtractDomain(r.URL)
		if err != nil {
			continue
		}
		if o.domains != nil {
			blacklisted, err := o.domains.IsBlacklisted(ctx, domainName)
			if err == nil && blacklisted {
				continue
			}
		}
		final = append(final, r)
	}

	if o.metrics != nil {
		o.metrics.RecordOrchestratorBatch("discovery", time.Since(start))
	}

	return &BatchResult{Results: final, Stats: stats, Errors: batchErrors}, nil
}

// dedupeByDomain groups results by extracted domain, keeping the entry with
// the lowest RankPosition per domain (tie-break: lexicographic URL). Returns
// the survivors in stable input order and a per-engine count of removed
// duplicates (spec.md §4.6 step 5).
func dedupeByDomain(results []model.SearchResult) ([]model.SearchResult, map[model.SearchEngine]int) {
	type keyed struct {
		domain string
		result model.SearchResult
		index  int
	}

	byDomain := make(map[string]keyed, len(results))
	removed := make(map[model.SearchEngine]int)

	for i, r := range results {
		domain, err := registry.ExtractDomain(r.URL)
		if err != nil {
			// unparseable URL: keep it under its own pseudo-domain so it
			// isn't silently dropped by the dedup pass.
			domain = "invalid:" + r.URL
		}
		existing, ok := byDomain[domain]
		if !ok {
			byDomain[domain] = keyed{domain: domain, result: r, index: i}
			continue
		}
		if isBetter(r, existing.result) {
			removed[existing.result.Engine]++
			byDomain[domain] = keyed{domain: domain, result: r, index: i}
		} else {
			removed[r.Engine]++
		}
	}

	survivors := make([]keyed, 0, len(byDomain))
	for _, v := range byDomain {
		survivors = append(survivors, v)
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].index < survivors[j].index })

	out := make([]model.SearchResult, len(survivors))
	for i, v := range survivors {
		out[i] = v.result
	}
	return out, removed
}

// isBetter reports whether candidate should replace incumbent under the
// "lowest rank wins, lexicographic URL tie-break" rule.
func isBetter(candidate, incumbent model.SearchResult) bool {
	if candidate.RankPosition != incumbent.RankPosition {
		return candidate.RankPosition < incumbent.RankPosition
	}
	return candidate.URL < incumbent.URL
}
