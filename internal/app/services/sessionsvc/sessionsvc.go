// Package sessionsvc implements the Session Service (spec.md §4.8): owns
// the DiscoverySession lifecycle and its statistics write-back. The
// scheduled-trigger half is grounded on the teacher's
// internal/app/services/automation/scheduler.go Start/Stop ticker-loop
// shape, adapted from a plain time.Ticker to robfig/cron/v3 so the
// SCHEDULED trigger honors a real cron expression (spec.md §6/§9) instead
// of a fixed interval.
package sessionsvc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	core "github.com/kevinhagel/fundingdiscovery/internal/app/core/service"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/system"
)

// Store persists DiscoverySession rows.
type Store interface {
	InsertSession(ctx context.Context, s *model.DiscoverySession) error
	UpdateSession(ctx context.Context, s *model.DiscoverySession) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.DiscoverySession, error)
	ListSessions(ctx context.Context, page, size int) ([]model.DiscoverySession, int, error)
}

// BatchStats merges into a DiscoverySession's engine counters and candidate
// statistics (spec.md §4.8 recordBatchStats, §4.9's aggregate output).
type BatchStats struct {
	EngineCounters    map[model.SearchEngine]int
	CandidatesFound   int
	DuplicatesRemoved int
	ConfidenceSum     fixedpoint.Scale2
	ConfidenceCount   int
}

// Service owns DiscoverySession lifecycle transitions.
type Service struct {
	store  Store
	logger *logging.Logger
	clock  func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*model.DiscoverySession

	trigger   Trigger
	cronSched *cron.Cron
	cronEntry cron.EntryID
	cronExpr  string
}

// Trigger is invoked by the cron-driven SCHEDULED path to start a new
// discovery session; the httpapi layer wires the same function for manual
// triggers.
type Trigger func(ctx context.Context) error

// New constructs a Service. trigger may be nil if the scheduler is disabled.
func New(store Store, logger *logging.Logger, cronExpr string, trigger Trigger) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		clock:    time.Now,
		sessions: make(map[uuid.UUID]*model.DiscoverySession),
		trigger:  trigger,
		cronExpr: cronExpr,
	}
}

var _ system.Service = (*Service)(nil)

// Name implements system.Service.
func (s *Service) Name() string { return "discovery-session-scheduler" }

// Descriptor implements system.DescriptorProvider.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         s.Name(),
		Domain:       "discovery",
		Layer:        core.LayerEngine,
		Capabilities: []string{"schedule", "session-lifecycle"},
	}
}

// Start launches the cron-driven SCHEDULED trigger, if a trigger and
// cron expression were configured.
func (s *Service) Start(ctx context.Context) error {
	if s.trigger == nil || s.cronExpr == "" {
		return nil
	}
	s.cronSched = cron.New()
	entryID, err := s.cronSched.AddFunc(s.cronExpr, func() {
		if err := s.trigger(context.Background()); err != nil && s.logger != nil {
			s.logger.Error(context.Background(), "scheduled discovery trigger failed", err, nil)
		}
	})
	if err != nil {
		return errors.Internal("invalid scheduler cron expression", err)
	}
	s.cronEntry = entryID
	s.cronSched.Start()
	if s.logger != nil {
		s.logger.Info(ctx, "discovery session scheduler started", map[string]interface{}{"cron": s.cronExpr})
	}
	return nil
}

// Stop halts the cron scheduler.
func (s *Service) Stop(ctx context.Context) error {
	if s.cronSched == nil {
		return nil
	}
	stopCtx := s.cronSched.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.logger != nil {
		s.logger.Info(ctx, "discovery session scheduler stopped", nil)
	}
	return nil
}

// Begin starts a new DiscoverySession in status RUNNING (spec.md §4.8 begin).
func (s *Service) Begin(ctx context.Context, sessionType model.SessionType, engines []model.SearchEngine, queries []string) (*model.DiscoverySession, error) {
	return s.BeginWithID(ctx, uuid.New(), sessionType, engines, queries)
}

// BeginWithID is Begin with a caller-allocated session id, for callers that
// need the id before the session row exists (query-generation records
// reference the session they were generated for).
func (s *Service) BeginWithID(ctx context.Context, id uuid.UUID, sessionType model.SessionType, engines []model.SearchEngine, queries []string) (*model.DiscoverySession, error) {
	now := s.clock()
	session := &model.DiscoverySession{
		ID:                id,
		SessionType:       sessionType,
		Status:            model.SessionRunning,
		ExecutedAt:        now,
		StartedAt:         now,
		SearchEnginesUsed: engines,
		SearchQueries:     queries,
		EngineCounters:    make(map[model.SearchEngine]int),
		EngineFailures:    make(map[model.SearchEngine][]string),
	}
	if err := s.store.InsertSession(ctx, session); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogSessionLifecycle(ctx, session.ID.String(), string(session.Status), map[string]interface{}{
			"sessionType": string(sessionType),
			"engines":     engines,
		})
	}
	return session, nil
}

// RecordEngineError appends engineErr to sessionID's per-engine failure map
// (spec.md §4.8 recordEngineError).
func (s *Service) RecordEngineError(ctx context.Context, sessionID uuid.UUID, engine model.SearchEngine, engineErr error) error {
	session, err := s.locked(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	session.EngineFailures[engine] = append(session.EngineFailures[engine], engineErr.Error())
	s.mu.Unlock()
	return s.store.UpdateSession(ctx, session)
}

// RecordBatchStats merges stats into sessionID's counters (spec.md §4.8
// recordBatchStats). Counters are monotonic additions, never replacements,
// matching spec.md §5's concurrent-batch merge rule.
func (s *Service) RecordBatchStats(ctx context.Context, sessionID uuid.UUID, stats BatchStats) error {
	session, err := s.locked(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for engine, count := range stats.EngineCounters {
		session.EngineCounters[engine] += count
	}
	session.CandidatesFound += stats.CandidatesFound
	session.DuplicatesDetected += stats.DuplicatesRemoved

	if stats.ConfidenceCount > 0 {
		priorSum := fixedpoint.Scale2(0)
		priorCount := 0
		if session.AverageConfidenceScore != nil && session.CandidatesFound > 0 {
			// Reconstruct the running sum from the prior average so the new
			// batch's contribution can be folded in without storing a
			// separate running-sum field on the persisted model.
			priorCount = session.CandidatesFound - stats.CandidatesFound
			if priorCount > 0 {
				priorSum = fixedpoint.Scale2(int64(*session.AverageConfidenceScore) * int64(priorCount))
			}
		}
		totalCount := priorCount + stats.ConfidenceCount
		totalSum := priorSum + stats.ConfidenceSum
		if totalCount > 0 {
			avg := divRoundHalfUp(int64(totalSum), int64(totalCount))
			session.AverageConfidenceScore = &avg
		}
	}
	s.mu.Unlock()
	return s.store.UpdateSession(ctx, session)
}

// Complete marks sessionID COMPLETED (spec.md §4.8 complete).
func (s *Service) Complete(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.locked(sessionID)
	if err != nil {
		return err
	}
	now := s.clock()
	s.mu.Lock()
	session.Status = model.SessionCompleted
	session.CompletedAt = &now
	session.DurationMinutes = now.Sub(session.StartedAt).Minutes()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogSessionLifecycle(ctx, sessionID.String(), string(model.SessionCompleted), map[string]interface{}{
			"durationMinutes": session.DurationMinutes,
		})
	}
	return s.store.UpdateSession(ctx, session)
}

// Cancel transitions sessionID from RUNNING to CANCELLED. Any other current
// status is a conflict: CANCELLED is reachable from RUNNING only (spec.md §3).
// The caller stops fan-out before the next batch; in-flight batches complete
// normally (spec.md §5).
func (s *Service) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.locked(sessionID)
	if err != nil {
		return err
	}
	now := s.clock()
	s.mu.Lock()
	if session.Status != model.SessionRunning {
		status := session.Status
		s.mu.Unlock()
		return errors.Conflict("cannot cancel a session in status " + string(status))
	}
	session.Status = model.SessionCancelled
	session.CompletedAt = &now
	session.DurationMinutes = now.Sub(session.StartedAt).Minutes()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogSessionLifecycle(ctx, sessionID.String(), string(model.SessionCancelled), nil)
	}
	return s.store.UpdateSession(ctx, session)
}

// Fail marks sessionID FAILED and records errs (spec.md §4.8 fail). A
// session with no successful engine responses across the whole execution
// must be marked FAILED per spec.md §4.8.
func (s *Service) Fail(ctx context.Context, sessionID uuid.UUID, errs []error) error {
	session, err := s.locked(sessionID)
	if err != nil {
		return err
	}
	now := s.clock()
	s.mu.Lock()
	session.Status = model.SessionFailed
	session.CompletedAt = &now
	session.DurationMinutes = now.Sub(session.StartedAt).Minutes()
	for _, e := range errs {
		session.EngineFailures["_batch"] = append(session.EngineFailures["_batch"], e.Error())
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.LogSessionLifecycle(ctx, sessionID.String(), string(model.SessionFailed), map[string]interface{}{
			"errorCount": len(errs),
		})
	}
	return s.store.UpdateSession(ctx, session)
}

// HasAnySuccess reports whether any engine counter for sessionID is
// positive. An engine call that succeeded with zero results leaves its
// counter at zero and does not count.
func (s *Service) HasAnySuccess(sessionID uuid.UUID) bool {
	session, err := s.locked(sessionID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, count := range session.EngineCounters {
		if count > 0 {
			return true
		}
	}
	return false
}

// divRoundHalfUp rounds num/den half-up at scale 2, mirroring
// fixedpoint.Average's unexported rounding rule for the running-average
// reconstruction above.
func divRoundHalfUp(num, den int64) fixedpoint.Scale2 {
	if den == 0 {
		return 0
	}
	neg := (num < 0) != (den < 0)
	if num < 0 {
		num = -num
	}
	if den < 0 {
		den = -den
	}
	result := (num + den/2) / den
	if neg {
		result = -result
	}
	return fixedpoint.Scale2(result)
}

func (s *Service) locked(sessionID uuid.UUID) (*model.DiscoverySession, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, errors.NotFound("discovery_session", sessionID.String())
	}
	return session, nil
}

// ListSessions delegates pagination to the store (spec.md §6: GET
// /api/discovery/sessions?page&size).
func (s *Service) ListSessions(ctx context.Context, page, size int) ([]model.DiscoverySession, int, error) {
	return s.store.ListSessions(ctx, page, size)
}
