package querygen

import (
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
	"github.com/kevinhagel/fundingdiscovery/pkg/config"
)

// BuildStrategies wires one Strategy per known engine: engines listed in
// cfg.Querygen.KeywordStyleEngines get the keyword-phrase strategy, every
// other known engine gets the prompt-style strategy (spec.md §4.5).
func BuildStrategies(cfg *config.Config, lm *LMClient) map[model.SearchEngine]Strategy {
	mappers := Mappers{
		CategoryDescriptions:   cfg.Querygen.CategoryDescriptions,
		GeographicDescriptions: cfg.Querygen.GeographicDescriptions,
	}

	keywordEngines := make(map[model.SearchEngine]bool, len(cfg.Querygen.KeywordStyleEngines))
	for _, e := range cfg.Querygen.KeywordStyleEngines {
		keywordEngines[model.SearchEngine(e)] = true
	}

	strategies := make(map[model.SearchEngine]Strategy, len(model.AllEngines()))
	for _, engine := range model.AllEngines() {
		if keywordEngines[engine] {
			strategies[engine] = &KeywordStrategy{LM: lm, Mappers: mappers}
		} else {
			strategies[engine] = &PromptStrategy{LM: lm, Mappers: mappers}
		}
	}
	return strategies
}
