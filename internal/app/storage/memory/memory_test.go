package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querygen"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
)

func TestDomainRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	d := &model.Domain{ID: uuid.New(), Name: "example.org", Status: model.DomainDiscovered, DiscoveredAt: time.Now()}
	require.NoError(t, s.InsertDomain(ctx, d))

	got, err := s.GetDomainByName(ctx, "example.org")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)

	byID, err := s.GetDomainByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "example.org", byID.Name)
}

func TestInsertDomainRejectsDuplicateName(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := &model.Domain{ID: uuid.New(), Name: "dup.org", Status: model.DomainDiscovered}
	require.NoError(t, s.InsertDomain(ctx, d))

	err := s.InsertDomain(ctx, &model.Domain{ID: uuid.New(), Name: "dup.org"})
	assert.Error(t, err)
}

func TestUpdateDomainUnknownIDFails(t *testing.T) {
	s := New()
	err := s.UpdateDomain(context.Background(), &model.Domain{ID: uuid.New(), Name: "ghost.org"})
	assert.Error(t, err)
}

func TestSessionLifecycleAndPagination(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sess := &model.DiscoverySession{
			ID:         uuid.New(),
			Status:     model.SessionRunning,
			ExecutedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.InsertSession(ctx, sess))
	}

	page, total, err := s.ListSessions(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
}

func TestInsertCandidateAndQueryRecord(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.InsertCandidate(ctx, &model.FundingCandidate{ID: uuid.New(), SourceURL: "https://a.org"}))
	require.NoError(t, s.InsertQueryRecord(ctx, querygen.QueryRecord{Engine: model.EngineSearxng, QueryText: "q", SessionID: uuid.New()}))

	assert.Len(t, s.candidates, 1)
	assert.Len(t, s.queryRecords, 1)
}

func TestUsageRecordsAndAggregation(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InsertUsageRecord(ctx, search.UsageRecord{
		Engine: model.EngineSearxng, Query: "q1", ResultCount: 3, Success: true, ExecutedAt: now,
	}))
	require.NoError(t, s.InsertUsageRecord(ctx, search.UsageRecord{
		Engine: model.EngineSearxng, Query: "q2", Success: false, ErrorKind: "Timeout", ExecutedAt: now,
	}))
	require.NoError(t, s.InsertUsageRecord(ctx, search.UsageRecord{
		Engine: model.EngineBrave, Query: "q3", ResultCount: 1, Success: true,
		ExecutedAt: now.Add(-2 * time.Hour),
	}))

	assert.Len(t, s.UsageRecords(), 3)

	got, err := s.UsageSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.EngineSearxng, got[0].Engine)
	assert.Equal(t, 2, got[0].Calls)
	assert.Equal(t, 1, got[0].Failures)
	assert.Equal(t, 3, got[0].TotalResults)
}
