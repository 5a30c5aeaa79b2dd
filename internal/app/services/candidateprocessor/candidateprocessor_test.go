package candidateprocessor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/judge"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/registry"
)

type fakeDomainStore struct {
	byName map[string]*model.Domain
}

func newFakeDomainStore() *fakeDomainStore {
	return &fakeDomainStore{byName: map[string]*model.Domain{}}
}

func (s *fakeDomainStore) GetDomainByName(ctx context.Context, name string) (*model.Domain, error) {
	return s.byName[name], nil
}
func (s *fakeDomainStore) GetDomainByID(ctx context.Context, id uuid.UUID) (*model.Domain, error) {
	for _, d := range s.byName {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}
func (s *fakeDomainStore) InsertDomain(ctx context.Context, d *model.Domain) error {
	s.byName[d.Name] = d
	return nil
}
func (s *fakeDomainStore) UpdateDomain(ctx context.Context, d *model.Domain) error {
	s.byName[d.Name] = d
	return nil
}

type fakeCandidateStore struct {
	inserted []*model.FundingCandidate
}

func (c *fakeCandidateStore) InsertCandidate(ctx context.Context, cand *model.FundingCandidate) error {
	c.inserted = append(c.inserted, cand)
	return nil
}

func TestProcessBatchCreatesCandidateForHighConfidenceResult(t *testing.T) {
	reg := registry.New(newFakeDomainStore(), nil)
	j := judge.New(judge.Config{
		FundingKeywordWeight:       2.0,
		DomainCredibilityWeight:    1.5,
		GeographicWeight:           1.0,
		OrganizationTypeWeight:     0.8,
		FundingKeywordSaturation:   3,
		GeographicSaturation:       2,
		OrganizationTypeSaturation: 2,
		Threshold:                  0.5,
		FundingKeywords:            []string{"grant", "scholarship", "funding"},
		CredibleTLDs:               []string{".org"},
		GeographicKeywords:         []string{"bulgaria"},
		OrganizationTypeKeywords:   []string{"foundation"},
	})
	store := &fakeCandidateStore{}
	proc := New(reg, j, store, 4, nil, nil)

	results := []model.SearchResult{
		{
			URL:     "https://us-bulgaria.org/grant",
			Title:   "Bulgaria Education Grant - US-Bulgaria Foundation",
			Snippet: "Grants and scholarships and funding for Bulgarian students",
		},
	}

	stats := proc.ProcessBatch(context.Background(), results, uuid.New())
	require.Equal(t, 1, stats.TotalProcessed)
	assert.Equal(t, 1, stats.CandidatesCreated)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, model.CandidatePendingCrawl, store.inserted[0].Status)
}

func TestProcessBatchSkipsInvalidURL(t *testing.T) {
	reg := registry.New(newFakeDomainStore(), nil)
	j := judge.New(judge.Config{Threshold: 0.5})
	proc := New(reg, j, &fakeCandidateStore{}, 4, nil, nil)

	results := []model.SearchResult{{URL: "not-a-valid-url"}}
	stats := proc.ProcessBatch(context.Background(), results, uuid.New())
	assert.Equal(t, 1, stats.SkippedDomain)
	assert.Equal(t, 0, stats.CandidatesCreated)
}

func TestProcessBatchSkipsLowConfidenceWithoutCandidate(t *testing.T) {
	reg := registry.New(newFakeDomainStore(), nil)
	j := judge.New(judge.Config{Threshold: 0.95})
	store := &fakeCandidateStore{}
	proc := New(reg, j, store, 4, nil, nil)

	results := []model.SearchResult{
		{URL: "https://example.com/page", Title: "Nothing special here", Snippet: "just a page"},
	}
	stats := proc.ProcessBatch(context.Background(), results, uuid.New())
	assert.Equal(t, 1, stats.SkippedLowConfidence)
	assert.Len(t, store.inserted, 0)
}

func TestProcessBatchIsolatesPerResultFailures(t *testing.T) {
	reg := registry.New(newFakeDomainStore(), nil)
	j := judge.New(judge.Config{Threshold: 0.5, FundingKeywords: []string{"grant"}, FundingKeywordWeight: 1})
	proc := New(reg, j, &fakeCandidateStore{}, 4, nil, nil)

	results := []model.SearchResult{
		{URL: "bad-url-no-scheme"},
		{URL: "https://good.example/grant", Title: "grant", Snippet: "grant funding"},
	}
	stats := proc.ProcessBatch(context.Background(), results, uuid.New())
	assert.Equal(t, 2, stats.TotalProcessed)
	assert.Equal(t, 1, stats.SkippedDomain)
}
