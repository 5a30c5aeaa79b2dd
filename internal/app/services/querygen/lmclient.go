// Package querygen implements Query Generation (spec.md §4.5): per-engine
// keyword/prompt strategies backed by an OpenAI-compatible chat-completion
// endpoint, a query cache, fire-and-forget persistence, and
// fallback-on-failure. Grounded on internal/app/services/search's
// HTTPSearcher-over-resilience shape and infrastructure/fallback's
// Execute(primary, ...fallbacks) pattern.
package querygen

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
)

// LMClient speaks the OpenAI-compatible chat-completions protocol (spec.md
// §6) to a local language-model endpoint.
//
// The endpoint accepts HTTP/1.1 only: the transport below disables HTTP/2
// negotiation (ForceAttemptHTTP2 false, empty TLSNextProto map), or
// connections fail intermittently during streaming (spec.md §4.5).
type LMClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewLMClient constructs an LMClient against baseURL (an OpenAI-compatible
// `/chat/completions` root).
func NewLMClient(baseURL, model string, temperature float64, maxTokens, timeoutSeconds int) *LMClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      map[string]func(string, *tls.Conn) http.RoundTripper{},
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &LMClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client: &http.Client{
			Timeout:   time.Duration(timeoutSeconds) * time.Second,
			Transport: transport,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a system+user prompt pair and returns the raw completion
// text (choices[0].message.content).
func (c *LMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Internal("marshal chat completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", errors.ExternalAPIError("language-model", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if uerr, ok := err.(interface{ Timeout() bool }); ok && uerr.Timeout() {
			return "", errors.Timeout("language-model completion")
		}
		return "", errors.ModelUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.ModelUnavailableError(fmt.Errorf("model %s: status %d", c.model, resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.ExternalAPIError("language-model", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.ModelUnavailableError(fmt.Errorf("model %s: empty choices", c.model))
	}
	return parsed.Choices[0].Message.Content, nil
}
