package search

import (
	"time"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/metrics"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/ratelimit"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/resilience"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/pkg/config"
)

// BuildRegistry wires every configured engine's HTTPSearcher into a
// WrappedAdapter and returns the resulting Registry, per spec.md §6's
// configuration-driven engine set.
func BuildRegistry(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics, usage UsageRecorder) *Registry {
	breaker := breakerConfig(cfg.Breaker)
	retry := resilience.DefaultRetryConfig()

	wrapped := []*WrappedAdapter{
		NewWrappedAdapter(model.EngineSearxng, adapterConfig(cfg.Search.Searxng, breaker, retry),
			NewSearxngSearcher(cfg.Search.Searxng.BaseURL, cfg.Search.Searxng.TimeoutSeconds), logger, m),
		NewWrappedAdapter(model.EngineBrave, adapterConfig(cfg.Search.Brave, breaker, retry),
			NewBraveSearcher(cfg.Search.Brave.BaseURL, cfg.Search.Brave.APIKey, cfg.Search.Brave.TimeoutSeconds), logger, m),
		NewWrappedAdapter(model.EngineSerper, adapterConfig(cfg.Search.Serper, breaker, retry),
			NewSerperSearcher(cfg.Search.Serper.BaseURL, cfg.Search.Serper.APIKey, cfg.Search.Serper.TimeoutSeconds), logger, m),
		NewWrappedAdapter(model.EnginePerplexica, adapterConfig(cfg.Search.Perplexica, breaker, retry),
			NewPerplexicaSearcher(cfg.Search.Perplexica.BaseURL, cfg.Search.Perplexica.TimeoutSeconds), logger, m),
	}

	adapters := make([]Adapter, 0, len(wrapped))
	for _, a := range wrapped {
		a.SetUsageRecorder(usage)
		adapters = append(adapters, a)
	}
	return NewRegistry(adapters...)
}

func adapterConfig(ac config.AdapterConfig, breaker resilience.Config, retry resilience.RetryConfig) AdapterConfig {
	return AdapterConfig{
		Enabled:        ac.Enabled,
		TimeoutSeconds: ac.TimeoutSeconds,
		RateLimit:      ratelimit.DefaultConfig(),
		Breaker:        breaker,
		Retry:          retry,
	}
}

// breakerConfig translates the failure-ratio/window configuration surface
// spec.md §4.3 documents into resilience.Config's consecutive-failure model.
func breakerConfig(bc config.BreakerConfig) resilience.Config {
	maxFailures := int(bc.FailureRatio * float64(bc.WindowSize))
	if maxFailures < 1 {
		maxFailures = 1
	}
	cooldown := time.Duration(bc.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	halfOpenMax := bc.HalfOpenMaxProbe
	if halfOpenMax <= 0 {
		halfOpenMax = 1
	}
	return resilience.Config{
		MaxFailures: maxFailures,
		Timeout:     cooldown,
		HalfOpenMax: halfOpenMax,
	}
}
