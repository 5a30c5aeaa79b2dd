// Package discovery drives one DiscoverySession end to end: query
// generation, orchestrated fan-out, candidate processing, and statistics
// write-back (spec.md §2's data flow). The HTTP trigger layer and the cron
// scheduler both enter through Runner.Execute; the session itself runs on a
// detached goroutine so triggers return immediately.
package discovery

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	core "github.com/kevinhagel/fundingdiscovery/internal/app/core/service"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	appmetrics "github.com/kevinhagel/fundingdiscovery/internal/app/metrics"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/candidateprocessor"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/orchestrator"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querygen"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/sessionsvc"
	"github.com/kevinhagel/fundingdiscovery/internal/app/system"
)

// Request describes one discovery trigger.
type Request struct {
	SessionType     model.SessionType
	Engines         []model.SearchEngine
	Categories      []model.Category
	GeographicScope string
	RecipientTags   []string
	MechanismTags   []string
	BeneficiaryTags []string
	MaxResults      int
}

// Receipt is what a trigger gets back while the session runs asynchronously.
type Receipt struct {
	SessionID    uuid.UUID
	QueriesCount int
}

// Runner coordinates a session across the query-generation facade, the
// search orchestrator, the candidate processor, and the session service.
type Runner struct {
	sessions *sessionsvc.Service
	queries  *querygen.Facade
	orch     *orchestrator.Orchestrator
	proc     *candidateprocessor.Processor
	logger   *logging.Logger

	// scheduled is the request the cron trigger replays.
	scheduled Request

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Runner. scheduled configures what a cron-fired SCHEDULED
// session searches for; pass the zero Request if the scheduler is disabled.
func New(sessions *sessionsvc.Service, queries *querygen.Facade, orch *orchestrator.Orchestrator, proc *candidateprocessor.Processor, scheduled Request, logger *logging.Logger) *Runner {
	return &Runner{
		sessions:  sessions,
		queries:   queries,
		orch:      orch,
		proc:      proc,
		scheduled: scheduled,
		logger:    logger,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

var _ system.Service = (*Runner)(nil)

// Name implements system.Service.
func (r *Runner) Name() string { return "discovery-runner" }

// Descriptor implements system.DescriptorProvider.
func (r *Runner) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         r.Name(),
		Domain:       "discovery",
		Layer:        core.LayerEngine,
		Capabilities: []string{"execute", "cancel"},
	}
}

// Start implements system.Service. The Runner has no background machinery of
// its own; sessions are goroutines spawned per Execute.
func (r *Runner) Start(ctx context.Context) error { return nil }

// Stop cancels every in-flight session and waits for their goroutines to
// drain, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Validate enforces the trigger-level invariants before any work starts.
func (req Request) Validate() error {
	if len(req.Engines) == 0 {
		return errors.MissingParameter("engines")
	}
	for _, e := range req.Engines {
		if !e.IsValid() {
			return errors.InvalidInput("engines", "unknown engine "+string(e))
		}
	}
	if len(req.Categories) == 0 {
		return errors.MissingParameter("categories")
	}
	if req.MaxResults < 1 || req.MaxResults > 50 {
		return errors.OutOfRange("maxResults", 1, 50)
	}
	return nil
}

// Execute validates req, generates queries, opens the session, and launches
// the pipeline on a detached goroutine. The returned Receipt carries what
// POST /api/search/execute answers with (spec.md §6).
func (r *Runner) Execute(ctx context.Context, req Request) (Receipt, error) {
	if err := req.Validate(); err != nil {
		return Receipt{}, err
	}
	if req.SessionType == "" {
		req.SessionType = model.SessionManual
	}

	sessionID := uuid.New()
	base := model.QueryRequest{
		Categories:      req.Categories,
		GeographicScope: req.GeographicScope,
		RecipientTags:   req.RecipientTags,
		MechanismTags:   req.MechanismTags,
		BeneficiaryTags: req.BeneficiaryTags,
		RequestedCount:  req.MaxResults,
		SessionID:       sessionID,
	}

	generated := r.queries.GenerateForMany(ctx, base, req.Engines)

	var batchQueries []orchestrator.Query
	var queryTexts []string
	for _, engine := range req.Engines {
		g, ok := generated[engine]
		if !ok {
			continue
		}
		for _, text := range g.Queries {
			batchQueries = append(batchQueries, orchestrator.Query{
				Engine:     engine,
				Text:       text,
				MaxResults: req.MaxResults,
			})
			queryTexts = append(queryTexts, text)
		}
	}

	if _, err := r.sessions.BeginWithID(ctx, sessionID, req.SessionType, req.Engines, queryTexts); err != nil {
		return Receipt{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[sessionID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, sessionID)
			r.mu.Unlock()
		}()
		r.runSession(runCtx, sessionID, batchQueries)
	}()

	return Receipt{SessionID: sessionID, QueriesCount: len(queryTexts)}, nil
}

// Cancel stops fan-out for sessionID before the next batch and transitions
// the session to CANCELLED. In-flight adapter calls are released through
// context cancellation.
func (r *Runner) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	cancel, ok := r.cancels[sessionID]
	r.mu.Unlock()
	if !ok {
		return errors.NotFound("discovery_session", sessionID.String())
	}
	if err := r.sessions.Cancel(ctx, sessionID); err != nil {
		return err
	}
	cancel()
	appmetrics.RecordSessionCompletion(string(model.SessionCancelled))
	return nil
}

// TriggerScheduled is wired as the session scheduler's cron callback; it
// replays the configured scheduled request as a SCHEDULED session.
func (r *Runner) TriggerScheduled(ctx context.Context) error {
	req := r.scheduled
	req.SessionType = model.SessionScheduled
	_, err := r.Execute(ctx, req)
	return err
}

func (r *Runner) runSession(ctx context.Context, sessionID uuid.UUID, queries []orchestrator.Query) {
	finish := core.StartObservation(ctx, appmetrics.OrchestratorBatchHooks(), map[string]string{
		"session_id": sessionID.String(),
	})

	batch, err := r.orch.RunBatch(ctx, queries, sessionID)
	finish(err)

	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-batch: the session is already CANCELLED, leave
			// it alone.
			return
		}
		_ = r.sessions.Fail(ctx, sessionID, []error{err})
		appmetrics.RecordSessionCompletion(string(model.SessionFailed))
		return
	}

	// An engine succeeded if it ran without error, even when it returned
	// zero results: an all-empty run still completes the session.
	anySuccess := false
	var batchErrs []error
	for engine, st := range batch.Stats {
		if st.Error != nil {
			batchErrs = append(batchErrs, st.Error)
			_ = r.sessions.RecordEngineError(ctx, sessionID, engine, st.Error)
			continue
		}
		anySuccess = true
	}

	procDone := core.StartObservation(ctx, appmetrics.CandidateProcessorHooks(), map[string]string{
		"session_id": sessionID.String(),
	})
	procStats := r.proc.ProcessBatch(ctx, batch.Results, sessionID)
	procDone(nil)

	engineCounters := make(map[model.SearchEngine]int, len(batch.Stats))
	duplicates := 0
	for engine, st := range batch.Stats {
		engineCounters[engine] = st.RawCount
		duplicates += st.DuplicatesRemoved
	}

	stats := sessionsvc.BatchStats{
		EngineCounters:    engineCounters,
		CandidatesFound:   procStats.CandidatesCreated,
		DuplicatesRemoved: duplicates,
		ConfidenceCount:   procStats.CandidatesCreated,
	}
	if procStats.CandidatesCreated > 0 {
		stats.ConfidenceSum = fixedpoint.Scale2(int64(procStats.AvgConfidence) * int64(procStats.CandidatesCreated))
	}
	if err := r.sessions.RecordBatchStats(ctx, sessionID, stats); err != nil && r.logger != nil {
		r.logger.Error(ctx, "failed to record batch statistics", err, map[string]interface{}{
			"sessionId": sessionID.String(),
		})
	}

	if ctx.Err() != nil {
		return
	}

	if anySuccess {
		_ = r.sessions.Complete(ctx, sessionID)
		appmetrics.RecordSessionCompletion(string(model.SessionCompleted))
	} else {
		_ = r.sessions.Fail(ctx, sessionID, batchErrs)
		appmetrics.RecordSessionCompletion(string(model.SessionFailed))
	}
}
