// Package candidateprocessor implements the Candidate Processor (spec.md
// §4.9): the top-level coordinator of Phase 1 for a batch of search results
// belonging to one session. Grounded on spec.md §4.9 directly; the bounded-
// concurrency pipeline uses golang.org/x/sync/errgroup with a channel-based
// semaphore, matching the teacher's recrawler.go domainSems map[string]chan
// struct{} bounding pattern (adapted here from a per-domain map to a single
// batch-wide semaphore since this pipeline bounds concurrency across all
// results, not per-domain).
package candidateprocessor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/judge"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/registry"
)

// CandidateStore persists FundingCandidate rows.
type CandidateStore interface {
	InsertCandidate(ctx context.Context, c *model.FundingCandidate) error
}

// Stats is the aggregate output of a batch run (spec.md §4.9).
type Stats struct {
	TotalProcessed       int
	CandidatesCreated    int
	SkippedLowConfidence int
	SkippedDomain        int
	SkippedBlacklisted   int
	Failures             int
	MinConfidence        fixedpoint.Scale2
	MaxConfidence        fixedpoint.Scale2
	AvgConfidence        fixedpoint.Scale2
	Elapsed              time.Duration
}

// Processor runs the per-result Phase 1 pipeline over a batch.
type Processor struct {
	registry       *registry.Registry
	judge          *judge.Judge
	store          CandidateStore
	maxConcurrency int
	logger         *logging.Logger
	metrics        *metrics.Metrics
}

// New constructs a Processor. maxConcurrency bounds the per-result pipeline;
// a value <= 0 defaults to 10.
func New(reg *registry.Registry, j *judge.Judge, store CandidateStore, maxConcurrency int, logger *logging.Logger, m *metrics.Metrics) *Processor {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Processor{registry: reg, judge: j, store: store, maxConcurrency: maxConcurrency, logger: logger, metrics: m}
}

// ProcessBatch runs spec.md §4.9's algorithm over results for sessionID.
// Any per-result failure is logged and counted as Failures; it never aborts
// processing of the remaining results in the batch.
func (p *Processor) ProcessBatch(ctx context.Context, results []model.SearchResult, sessionID uuid.UUID) Stats {
	start := time.Now()

	sem := make(chan struct{}, p.maxConcurrency)
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	stats := Stats{}
	confidences := make([]fixedpoint.Scale2, 0, len(results))

	for _, r := range results {
		r := r
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			outcome := p.processOne(gctx, r, sessionID)

			mu.Lock()
			defer mu.Unlock()
			stats.TotalProcessed++
			switch outcome.kind {
			case outcomeCreated:
				stats.CandidatesCreated++
				confidences = append(confidences, outcome.confidence)
			case outcomeLowConfidence:
				stats.SkippedLowConfidence++
			case outcomeSkippedDomain:
				stats.SkippedDomain++
			case outcomeSkippedBlacklisted:
				stats.SkippedBlacklisted++
			case outcomeFailure:
				stats.Failures++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(confidences) > 0 {
		stats.MinConfidence, stats.MaxConfidence, stats.AvgConfidence = summarize(confidences)
	}
	stats.Elapsed = time.Since(start)

	if p.metrics != nil {
		for _, c := range confidences {
			p.metrics.RecordJudgeConfidence(c.Float())
		}
	}
	return stats
}

type outcomeKind int

const (
	outcomeFailure outcomeKind = iota
	outcomeSkippedDomain
	outcomeSkippedBlacklisted
	outcomeLowConfidence
	outcomeCreated
)

type outcome struct {
	kind       outcomeKind
	confidence fixedpoint.Scale2
}

// processOne runs spec.md §4.9 steps 1-6 for a single result.
func (p *Processor) processOne(ctx context.Context, r model.SearchResult, sessionID uuid.UUID) outcome {
	domainName, err := registry.ExtractDomain(r.URL)
	if err != nil {
		p.logFailure(ctx, r, err)
		return outcome{kind: outcomeSkippedDomain}
	}

	should, err := p.registry.ShouldProcess(ctx, r.URL)
	if err != nil {
		p.logFailure(ctx, r, err)
		return outcome{kind: outcomeFailure}
	}
	if !should {
		blacklisted, berr := p.registry.IsBlacklisted(ctx, domainName)
		if berr == nil && blacklisted {
			return outcome{kind: outcomeSkippedBlacklisted}
		}
		return outcome{kind: outcomeSkippedDomain}
	}

	domain, err := p.registry.Register(ctx, r.URL, sessionID)
	if err != nil {
		p.logFailure(ctx, r, err)
		return outcome{kind: outcomeFailure}
	}

	judgment := p.judge.Evaluate(r)

	if judgment.ShouldCrawl {
		candidate := &model.FundingCandidate{
			ID:                 uuid.New(),
			DiscoverySessionID: sessionID,
			DomainID:           domain.ID,
			Status:             model.CandidatePendingCrawl,
			Confidence:         judgment.Confidence,
			SourceURL:          r.URL,
			DiscoveredAt:       time.Now(),
			OrganizationName:   judgment.OrganizationName,
			ProgramName:        judgment.ProgramName,
			Description:        r.Snippet,
			Reasoning:          judgment.Reasoning,
			OriginatingQuery:   r.OriginatingQuery,
		}
		if p.store != nil {
			if err := p.store.InsertCandidate(ctx, candidate); err != nil {
				p.logFailure(ctx, r, err)
				return outcome{kind: outcomeFailure}
			}
		}
		if err := p.registry.UpdateQuality(ctx, domain.ID, judgment.Confidence, true); err != nil {
			p.logFailure(ctx, r, err)
		}
		return outcome{kind: outcomeCreated, confidence: judgment.Confidence}
	}

	if err := p.registry.UpdateQuality(ctx, domain.ID, judgment.Confidence, false); err != nil {
		p.logFailure(ctx, r, err)
	}
	return outcome{kind: outcomeLowConfidence}
}

func (p *Processor) logFailure(ctx context.Context, r model.SearchResult, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Error(ctx, "candidate processing failed for result", err, map[string]interface{}{
		"url": r.URL,
	})
}

func summarize(values []fixedpoint.Scale2) (min, max, avg fixedpoint.Scale2) {
	min, max = values[0], values[0]
	var sum int64
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += int64(v)
	}
	avg = fixedpoint.Average(values)
	return min, max, avg
}
