// Package memory implements the registry.Store, sessionsvc.Store,
// candidateprocessor.CandidateStore, and querygen.RecordStore interfaces
// over mutex-guarded in-process maps. Grounded on the teacher's
// internal/app/storage/memory.go: a single struct with one mutex, one map
// per entity, and a lock-then-mutate-then-copy-out access pattern so callers
// never hold a pointer into the map's storage.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querygen"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
)

// Store is a mutex-guarded, in-memory backing for every persistence seam
// the discovery pipeline defines. Intended for tests and local/dev runs;
// postgres.Store is the production backend.
type Store struct {
	mu sync.RWMutex

	domains      map[uuid.UUID]*model.Domain
	domainByName map[string]uuid.UUID

	sessions map[uuid.UUID]*model.DiscoverySession

	candidates []*model.FundingCandidate

	queryRecords []querygen.QueryRecord

	usageRecords []search.UsageRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		domains:      make(map[uuid.UUID]*model.Domain),
		domainByName: make(map[string]uuid.UUID),
		sessions:     make(map[uuid.UUID]*model.DiscoverySession),
	}
}

// --- registry.Store ---

func (s *Store) GetDomainByName(ctx context.Context, name string) (*model.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.domainByName[name]
	if !ok {
		return nil, nil
	}
	d := *s.domains[id]
	return &d, nil
}

func (s *Store) GetDomainByID(ctx context.Context, id uuid.UUID) (*model.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *Store) InsertDomain(ctx context.Context, d *model.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domainByName[d.Name]; exists {
		return errors.AlreadyExists("domain", d.Name)
	}
	cp := *d
	s.domains[d.ID] = &cp
	s.domainByName[d.Name] = d.ID
	return nil
}

func (s *Store) UpdateDomain(ctx context.Context, d *model.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[d.ID]; !ok {
		return errors.NotFound("domain", d.ID.String())
	}
	cp := *d
	s.domains[d.ID] = &cp
	s.domainByName[d.Name] = d.ID
	return nil
}

// --- sessionsvc.Store ---

func (s *Store) InsertSession(ctx context.Context, sess *model.DiscoverySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *model.DiscoverySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return errors.NotFound("discovery_session", sess.ID.String())
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.DiscoverySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// ListSessions returns a page of sessions ordered by ExecutedAt descending,
// matching the teacher's newest-first listing convention.
func (s *Store) ListSessions(ctx context.Context, page, size int) ([]model.DiscoverySession, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]model.DiscoverySession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, *sess)
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j-1].ExecutedAt.Before(all[j].ExecutedAt); j-- {
			all[j-1], all[j] = all[j], all[j-1]
		}
	}

	total := len(all)
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	if start >= total {
		return []model.DiscoverySession{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// --- candidateprocessor.CandidateStore ---

func (s *Store) InsertCandidate(ctx context.Context, c *model.FundingCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.candidates = append(s.candidates, &cp)
	return nil
}

// --- querygen.RecordStore ---

func (s *Store) InsertQueryRecord(ctx context.Context, rec querygen.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryRecords = append(s.queryRecords, rec)
	return nil
}

// --- search.UsageRecorder ---

func (s *Store) InsertUsageRecord(ctx context.Context, rec search.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageRecords = append(s.usageRecords, rec)
	return nil
}

// UsageRecords returns a copy of every recorded API-usage row.
func (s *Store) UsageRecords() []search.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]search.UsageRecord, len(s.usageRecords))
	copy(out, s.usageRecords)
	return out
}

// UsageSince aggregates recorded usage per engine for records executed at or
// after since.
func (s *Store) UsageSince(ctx context.Context, since time.Time) ([]search.EngineUsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byEngine := make(map[model.SearchEngine]*search.EngineUsageSummary)
	var order []model.SearchEngine
	for _, rec := range s.usageRecords {
		if rec.ExecutedAt.Before(since) {
			continue
		}
		sum, ok := byEngine[rec.Engine]
		if !ok {
			sum = &search.EngineUsageSummary{Engine: rec.Engine}
			byEngine[rec.Engine] = sum
			order = append(order, rec.Engine)
		}
		sum.Calls++
		if !rec.Success {
			sum.Failures++
		}
		sum.TotalResults += rec.ResultCount
	}

	out := make([]search.EngineUsageSummary, 0, len(order))
	for _, engine := range order {
		out = append(out, *byEngine[engine])
	}
	return out, nil
}
