package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/ratelimit"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/resilience"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

type fakeUsageRecorder struct {
	records []UsageRecord
	err     error
}

func (f *fakeUsageRecorder) InsertUsageRecord(_ context.Context, rec UsageRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

func TestWrappedAdapterRecordsUsageOnSuccess(t *testing.T) {
	fs := &fakeSearcher{results: []model.SearchResult{{URL: "https://example.org/a"}, {URL: "https://example.org/b"}}}
	rec := &fakeUsageRecorder{}
	a := newTestAdapter(model.EngineSearxng, fs)
	a.SetUsageRecorder(rec)

	_, err := a.Search(context.Background(), "bulgaria grants", 10)
	require.NoError(t, err)

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, model.EngineSearxng, got.Engine)
	assert.Equal(t, "bulgaria grants", got.Query)
	assert.Equal(t, 2, got.ResultCount)
	assert.True(t, got.Success)
	assert.Empty(t, got.ErrorKind)
	assert.False(t, got.ExecutedAt.IsZero())
}

func TestWrappedAdapterRecordsUsageOnFailure(t *testing.T) {
	fs := &fakeSearcher{err: errors.New("boom")}
	rec := &fakeUsageRecorder{}
	a := newTestAdapter(model.EngineBrave, fs)
	a.SetUsageRecorder(rec)

	_, err := a.Search(context.Background(), "q", 1)
	require.Error(t, err)

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.False(t, got.Success)
	assert.Equal(t, 0, got.ResultCount)
	assert.Equal(t, "Unknown", got.ErrorKind)
}

func TestWrappedAdapterRecordsCircuitOpenKind(t *testing.T) {
	fs := &fakeSearcher{err: errors.New("boom")}
	rec := &fakeUsageRecorder{}
	cfg := AdapterConfig{
		Enabled:   true,
		RateLimit: ratelimit.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		Breaker:   resilience.Config{MaxFailures: 1, Timeout: resilience.SecondsToDuration(30), HalfOpenMax: 1},
		Retry:     resilience.RetryConfig{MaxAttempts: 1},
	}
	a := NewWrappedAdapter(model.EngineSerper, cfg, fs, nil, nil)
	a.SetUsageRecorder(rec)

	_, _ = a.Search(context.Background(), "q", 1)
	_, err := a.Search(context.Background(), "q", 1)
	require.Error(t, err)

	require.Len(t, rec.records, 2)
	assert.Equal(t, "CircuitOpen", rec.records[1].ErrorKind)
	assert.Equal(t, 1, fs.calls, "open breaker must not reach the network")
}

func TestWrappedAdapterUsageWriteFailureDoesNotFailSearch(t *testing.T) {
	fs := &fakeSearcher{results: []model.SearchResult{{URL: "https://example.org/a"}}}
	rec := &fakeUsageRecorder{err: errors.New("db down")}
	a := newTestAdapter(model.EngineSearxng, fs)
	a.SetUsageRecorder(rec)

	got, err := a.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", appErrors.AdapterRateLimited("BRAVE", errors.New("429")), "RateLimited"},
		{"timeout", appErrors.AdapterTimeout("BRAVE", errors.New("deadline")), "Timeout"},
		{"auth failed", appErrors.AdapterAuthFailed("BRAVE", errors.New("401")), "AuthFailed"},
		{"network", appErrors.AdapterNetworkError("BRAVE", errors.New("refused")), "NetworkError"},
		{"invalid response", appErrors.AdapterInvalidResponse("BRAVE", errors.New("bad json")), "InvalidResponse"},
		{"circuit open", appErrors.CircuitOpenError("BRAVE"), "CircuitOpen"},
		{"unknown service error", appErrors.AdapterUnknown("BRAVE", errors.New("boom")), "Unknown"},
		{"plain error", errors.New("boom"), "Unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorKind(tc.err))
		})
	}
}
