package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/httputil"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// newHTTPClient builds the shared outbound client every adapter uses,
// grounded on infrastructure/httputil.DefaultTransportWithMinTLS12.
func newHTTPClient(timeoutSeconds int) *http.Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	return &http.Client{
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
		Transport: httputil.DefaultTransportWithMinTLS12(),
	}
}

// ---------------------------------------------------------------------------
// SEARXNG — a self-hosted metasearch engine, the default adapter.
// ---------------------------------------------------------------------------

// SearxngSearcher queries a SearXNG instance's JSON API.
type SearxngSearcher struct {
	baseURL string
	client  *http.Client
}

// NewSearxngSearcher constructs a SearxngSearcher against baseURL.
func NewSearxngSearcher(baseURL string, timeoutSeconds int) *SearxngSearcher {
	return &SearxngSearcher{baseURL: baseURL, client: newHTTPClient(timeoutSeconds)}
}

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// DoSearch implements HTTPSearcher.
func (s *SearxngSearcher) DoSearch(ctx context.Context, query string, count int) ([]model.SearchResult, error) {
	u, err := url.Parse(s.baseURL + "/search")
	if err != nil {
		return nil, errors.AdapterInvalidResponse("searxng", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.AdapterNetworkError("searxng", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr("searxng", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.AdapterRateLimited("searxng", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.AdapterAuthFailed("searxng", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.AdapterInvalidResponse("searxng", fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.AdapterInvalidResponse("searxng", err)
	}

	now := time.Now()
	out := make([]model.SearchResult, 0, len(parsed.Results))
	for i, r := range parsed.Results {
		if count > 0 && i >= count {
			break
		}
		out = append(out, model.SearchResult{
			URL:              r.URL,
			Title:            r.Title,
			Snippet:          r.Content,
			Engine:           model.EngineSearxng,
			OriginatingQuery: query,
			RankPosition:     i + 1,
			ObservedAt:       now,
		})
	}
	return out, nil
}

// Ping implements HTTPSearcher.
func (s *SearxngSearcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return errors.AdapterNetworkError("searxng", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return classifyHTTPErr("searxng", err)
	}
	defer resp.Body.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Brave Search API
// ---------------------------------------------------------------------------

// BraveSearcher queries the Brave Search API.
type BraveSearcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBraveSearcher constructs a BraveSearcher.
func NewBraveSearcher(baseURL, apiKey string, timeoutSeconds int) *BraveSearcher {
	if baseURL == "" {
		baseURL = "https://api.search.brave.com/res/v1/web/search"
	}
	return &BraveSearcher{baseURL: baseURL, apiKey: apiKey, client: newHTTPClient(timeoutSeconds)}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// DoSearch implements HTTPSearcher.
func (b *BraveSearcher) DoSearch(ctx context.Context, query string, count int) ([]model.SearchResult, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, errors.AdapterInvalidResponse("brave", err)
	}
	q := u.Query()
	q.Set("q", query)
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.AdapterNetworkError("brave", err)
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr("brave", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.AdapterRateLimited("brave", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.AdapterAuthFailed("brave", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.AdapterInvalidResponse("brave", fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.AdapterInvalidResponse("brave", err)
	}

	now := time.Now()
	out := make([]model.SearchResult, 0, len(parsed.Web.Results))
	for i, r := range parsed.Web.Results {
		if count > 0 && i >= count {
			break
		}
		out = append(out, model.SearchResult{
			URL:              r.URL,
			Title:            r.Title,
			Snippet:          r.Description,
			Engine:           model.EngineBrave,
			OriginatingQuery: query,
			RankPosition:     i + 1,
			ObservedAt:       now,
		})
	}
	return out, nil
}

// Ping implements HTTPSearcher.
func (b *BraveSearcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL, nil)
	if err != nil {
		return errors.AdapterNetworkError("brave", err)
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	resp, err := b.client.Do(req)
	if err != nil {
		return classifyHTTPErr("brave", err)
	}
	defer resp.Body.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Serper (Google SERP proxy)
// ---------------------------------------------------------------------------

// SerperSearcher queries the Serper.dev Google-search proxy API.
type SerperSearcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSerperSearcher constructs a SerperSearcher.
func NewSerperSearcher(baseURL, apiKey string, timeoutSeconds int) *SerperSearcher {
	if baseURL == "" {
		baseURL = "https://google.serper.dev/search"
	}
	return &SerperSearcher{baseURL: baseURL, apiKey: apiKey, client: newHTTPClient(timeoutSeconds)}
}

type serperResponse struct {
	Organic []struct {
		Link    string `json:"link"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// DoSearch implements HTTPSearcher.
func (s *SerperSearcher) DoSearch(ctx context.Context, query string, count int) ([]model.SearchResult, error) {
	body, err := json.Marshal(map[string]interface{}{"q": query})
	if err != nil {
		return nil, errors.AdapterInvalidResponse("serper", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.AdapterNetworkError("serper", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr("serper", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.AdapterRateLimited("serper", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.AdapterAuthFailed("serper", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.AdapterInvalidResponse("serper", fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.AdapterInvalidResponse("serper", err)
	}

	now := time.Now()
	out := make([]model.SearchResult, 0, len(parsed.Organic))
	for i, r := range parsed.Organic {
		if count > 0 && i >= count {
			break
		}
		out = append(out, model.SearchResult{
			URL:              r.Link,
			Title:            r.Title,
			Snippet:          r.Snippet,
			Engine:           model.EngineSerper,
			OriginatingQuery: query,
			RankPosition:     i + 1,
			ObservedAt:       now,
		})
	}
	return out, nil
}

// Ping implements HTTPSearcher.
func (s *SerperSearcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return errors.AdapterNetworkError("serper", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return classifyHTTPErr("serper", err)
	}
	defer resp.Body.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Perplexica — a self-hosted, LM-backed meta search engine.
// ---------------------------------------------------------------------------

// PerplexicaSearcher queries a Perplexica instance's search API.
type PerplexicaSearcher struct {
	baseURL string
	client  *http.Client
}

// NewPerplexicaSearcher constructs a PerplexicaSearcher.
func NewPerplexicaSearcher(baseURL string, timeoutSeconds int) *PerplexicaSearcher {
	return &PerplexicaSearcher{baseURL: baseURL, client: newHTTPClient(timeoutSeconds)}
}

type perplexicaResponse struct {
	Sources []struct {
		Metadata struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"metadata"`
		PageContent string `json:"pageContent"`
	} `json:"sources"`
}

// DoSearch implements HTTPSearcher.
func (p *PerplexicaSearcher) DoSearch(ctx context.Context, query string, count int) ([]model.SearchResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"focusMode": "webSearch",
	})
	if err != nil {
		return nil, errors.AdapterInvalidResponse("perplexica", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.AdapterNetworkError("perplexica", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr("perplexica", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.AdapterInvalidResponse("perplexica", fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed perplexicaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.AdapterInvalidResponse("perplexica", err)
	}

	now := time.Now()
	out := make([]model.SearchResult, 0, len(parsed.Sources))
	for i, r := range parsed.Sources {
		if count > 0 && i >= count {
			break
		}
		out = append(out, model.SearchResult{
			URL:              r.Metadata.URL,
			Title:            r.Metadata.Title,
			Snippet:          r.PageContent,
			Engine:           model.EnginePerplexica,
			OriginatingQuery: query,
			RankPosition:     i + 1,
			ObservedAt:       now,
		})
	}
	return out, nil
}

// Ping implements HTTPSearcher.
func (p *PerplexicaSearcher) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return errors.AdapterNetworkError("perplexica", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return classifyHTTPErr("perplexica", err)
	}
	defer resp.Body.Close()
	return nil
}

// classifyHTTPErr maps a transport-level error (not an HTTP status code) into
// the adapter error taxonomy.
func classifyHTTPErr(engine string, err error) *errors.ServiceError {
	if uerr, ok := err.(*url.Error); ok && uerr.Timeout() {
		return errors.AdapterTimeout(engine, err)
	}
	return errors.AdapterNetworkError(engine, err)
}
