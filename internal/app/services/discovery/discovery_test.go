package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/antispam"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/judge"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/registry"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/candidateprocessor"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/orchestrator"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/querygen"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/search"
	"github.com/kevinhagel/fundingdiscovery/internal/app/services/sessionsvc"
	"github.com/kevinhagel/fundingdiscovery/internal/app/storage/memory"
)

type fixedStrategy struct {
	queries []string
}

func (f *fixedStrategy) Generate(_ context.Context, _ model.QueryRequest) ([]string, error) {
	return f.queries, nil
}

type stubAdapter struct {
	engine  model.SearchEngine
	results []model.SearchResult
	err     error
}

func (a *stubAdapter) Engine() model.SearchEngine     { return a.engine }
func (a *stubAdapter) Enabled() bool                  { return true }
func (a *stubAdapter) Health(_ context.Context) error { return nil }
func (a *stubAdapter) Search(_ context.Context, query string, _ int) ([]model.SearchResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]model.SearchResult, len(a.results))
	copy(out, a.results)
	for i := range out {
		out[i].OriginatingQuery = query
	}
	return out, nil
}

func judgeConfig() judge.Config {
	return judge.Config{
		Threshold:                  0.60,
		FundingKeywords:            []string{"grant", "scholarship", "funding"},
		FundingKeywordWeight:       2.0,
		FundingKeywordSaturation:   3,
		CredibleTLDs:               []string{".org", ".edu", ".gov"},
		DomainCredibilityWeight:    1.5,
		GeographicKeywords:         []string{"bulgaria", "balkan"},
		GeographicWeight:           1.0,
		GeographicSaturation:       2,
		OrganizationTypeKeywords:   []string{"foundation", "trust"},
		OrganizationTypeWeight:     0.8,
		OrganizationTypeSaturation: 2,
	}
}

func newTestRunner(t *testing.T, store *memory.Store, adapters ...search.Adapter) *Runner {
	t.Helper()

	sessions := sessionsvc.New(store, nil, "", nil)
	strategies := map[model.SearchEngine]querygen.Strategy{}
	for _, engine := range model.AllEngines() {
		strategies[engine] = &fixedStrategy{queries: []string{"bulgaria education grants"}}
	}
	facade := querygen.New(strategies, nil, store, querygen.Config{TimeoutSeconds: 2}, nil)

	domains := registry.New(store, nil)
	orch := orchestrator.New(search.NewRegistry(adapters...), antispam.New(antispam.DefaultConfig()),
		domains, orchestrator.Config{BatchDeadlineSeconds: 5}, nil, nil)
	proc := candidateprocessor.New(domains, judge.New(judgeConfig()), store, 4, nil, nil)

	return New(sessions, facade, orch, proc, Request{}, nil)
}

func waitForTerminalStatus(t *testing.T, store *memory.Store, id uuid.UUID) model.DiscoverySession {
	t.Helper()
	var got model.DiscoverySession
	require.Eventually(t, func() bool {
		sess, err := store.GetSession(context.Background(), id)
		if err != nil || sess == nil {
			return false
		}
		got = *sess
		return sess.Status != model.SessionRunning
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestExecuteHappyPathCreatesCandidateAndCompletes(t *testing.T) {
	store := memory.New()
	runner := newTestRunner(t, store, &stubAdapter{
		engine: model.EngineSearxng,
		results: []model.SearchResult{{
			URL:          "https://us-bulgaria.org/ed-grant",
			Title:        "Bulgaria Education Grant - US-Bulgaria Foundation",
			Snippet:      "Grants and scholarships for Bulgarian students...",
			Engine:       model.EngineSearxng,
			RankPosition: 1,
		}},
	})

	receipt, err := runner.Execute(context.Background(), Request{
		Engines:    []model.SearchEngine{model.EngineSearxng},
		Categories: []model.Category{"EDUCATION"},
		MaxResults: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.QueriesCount)

	sess := waitForTerminalStatus(t, store, receipt.SessionID)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	assert.Equal(t, 1, sess.CandidatesFound)
	require.NotNil(t, sess.AverageConfidenceScore)
	assert.True(t, sess.AverageConfidenceScore.Float() >= 0.60)

	d, err := store.GetDomainByName(context.Background(), "us-bulgaria.org")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.DomainProcessedHighQuality, d.Status)
	assert.Equal(t, 1, d.HighQualityCount)
}

func TestExecuteAllEnginesFailedMarksSessionFailed(t *testing.T) {
	store := memory.New()
	runner := newTestRunner(t, store, &stubAdapter{
		engine: model.EngineSearxng,
		err:    errors.New("connection refused"),
	})

	receipt, err := runner.Execute(context.Background(), Request{
		Engines:    []model.SearchEngine{model.EngineSearxng},
		Categories: []model.Category{"EDUCATION"},
		MaxResults: 5,
	})
	require.NoError(t, err)

	sess := waitForTerminalStatus(t, store, receipt.SessionID)
	assert.Equal(t, model.SessionFailed, sess.Status)
	assert.Zero(t, sess.CandidatesFound)
}

func TestExecuteEmptyResultsStillCompletes(t *testing.T) {
	store := memory.New()
	runner := newTestRunner(t, store, &stubAdapter{engine: model.EngineSearxng})

	receipt, err := runner.Execute(context.Background(), Request{
		Engines:    []model.SearchEngine{model.EngineSearxng},
		Categories: []model.Category{"EDUCATION"},
		MaxResults: 5,
	})
	require.NoError(t, err)

	sess := waitForTerminalStatus(t, store, receipt.SessionID)
	assert.Equal(t, model.SessionCompleted, sess.Status)
	assert.Zero(t, sess.CandidatesFound)
	assert.Nil(t, sess.AverageConfidenceScore)
}

func TestExecuteValidatesRequest(t *testing.T) {
	store := memory.New()
	runner := newTestRunner(t, store, &stubAdapter{engine: model.EngineSearxng})

	cases := []struct {
		name string
		req  Request
	}{
		{"no engines", Request{Categories: []model.Category{"EDUCATION"}, MaxResults: 5}},
		{"unknown engine", Request{Engines: []model.SearchEngine{"GOPHER"}, Categories: []model.Category{"EDUCATION"}, MaxResults: 5}},
		{"no categories", Request{Engines: []model.SearchEngine{model.EngineSearxng}, MaxResults: 5}},
		{"count zero", Request{Engines: []model.SearchEngine{model.EngineSearxng}, Categories: []model.Category{"EDUCATION"}}},
		{"count too large", Request{Engines: []model.SearchEngine{model.EngineSearxng}, Categories: []model.Category{"EDUCATION"}, MaxResults: 51}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runner.Execute(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, appErrors.IsServiceError(err))
		})
	}
}

func TestCancelUnknownSessionReturnsNotFound(t *testing.T) {
	store := memory.New()
	runner := newTestRunner(t, store, &stubAdapter{engine: model.EngineSearxng})

	err := runner.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeNotFound, appErrors.GetServiceError(err).Code)
}

func TestTriggerScheduledUsesScheduledRequest(t *testing.T) {
	store := memory.New()
	base := newTestRunner(t, store, &stubAdapter{engine: model.EngineSearxng})
	base.scheduled = Request{
		Engines:    []model.SearchEngine{model.EngineSearxng},
		Categories: []model.Category{"EDUCATION"},
		MaxResults: 5,
	}

	require.NoError(t, base.TriggerScheduled(context.Background()))

	require.Eventually(t, func() bool {
		sessions, _, err := store.ListSessions(context.Background(), 1, 10)
		if err != nil || len(sessions) == 0 {
			return false
		}
		return sessions[0].SessionType == model.SessionScheduled &&
			sessions[0].Status != model.SessionRunning
	}, 5*time.Second, 10*time.Millisecond)
}
