package sessionsvc

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

type fakeStore struct {
	sessions map[uuid.UUID]*model.DiscoverySession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[uuid.UUID]*model.DiscoverySession{}}
}

func (f *fakeStore) InsertSession(ctx context.Context, s *model.DiscoverySession) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) UpdateSession(ctx context.Context, s *model.DiscoverySession) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id uuid.UUID) (*model.DiscoverySession, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) ListSessions(ctx context.Context, page, size int) ([]model.DiscoverySession, int, error) {
	out := make([]model.DiscoverySession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func TestBeginCreatesRunningSession(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, []model.SearchEngine{model.EngineSearxng}, []string{"grants bulgaria"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, session.Status)
	assert.NotZero(t, session.StartedAt)
}

func TestCompleteSetsDurationAndStatus(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Complete(context.Background(), session.ID))
	assert.Equal(t, model.SessionCompleted, session.Status)
	assert.NotNil(t, session.CompletedAt)
}

func TestFailRecordsErrorsAndStatus(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Fail(context.Background(), session.ID, []error{errors.New("boom")}))
	assert.Equal(t, model.SessionFailed, session.Status)
	assert.Contains(t, session.EngineFailures["_batch"], "boom")
}

func TestRecordBatchStatsAccumulatesMonotonically(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, []model.SearchEngine{model.EngineSearxng}, nil)
	require.NoError(t, err)

	err = svc.RecordBatchStats(context.Background(), session.ID, BatchStats{
		EngineCounters:  map[model.SearchEngine]int{model.EngineSearxng: 5},
		CandidatesFound: 2,
		ConfidenceSum:   fixedpoint.FromFloat(0.7) + fixedpoint.FromFloat(0.9),
		ConfidenceCount: 2,
	})
	require.NoError(t, err)

	err = svc.RecordBatchStats(context.Background(), session.ID, BatchStats{
		EngineCounters:  map[model.SearchEngine]int{model.EngineSearxng: 3},
		CandidatesFound: 1,
		ConfidenceSum:   fixedpoint.FromFloat(0.6),
		ConfidenceCount: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, 8, session.EngineCounters[model.EngineSearxng])
	assert.Equal(t, 3, session.CandidatesFound)
	require.NotNil(t, session.AverageConfidenceScore)
}

func TestHasAnySuccessReflectsEngineCounters(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, nil, nil)
	require.NoError(t, err)

	assert.False(t, svc.HasAnySuccess(session.ID))

	require.NoError(t, svc.RecordBatchStats(context.Background(), session.ID, BatchStats{
		EngineCounters: map[model.SearchEngine]int{model.EngineBrave: 1},
	}))
	assert.True(t, svc.HasAnySuccess(session.ID))
}

func TestCancelTransitionsRunningSession(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), session.ID))
	assert.Equal(t, model.SessionCancelled, session.Status)
	assert.NotNil(t, session.CompletedAt)
}

func TestCancelRejectsNonRunningSession(t *testing.T) {
	svc := New(newFakeStore(), nil, "", nil)
	session, err := svc.Begin(context.Background(), model.SessionManual, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Complete(context.Background(), session.ID))
	assert.Error(t, svc.Cancel(context.Background(), session.ID))
	assert.Equal(t, model.SessionCompleted, session.Status)
}
