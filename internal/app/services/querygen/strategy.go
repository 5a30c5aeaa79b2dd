package querygen

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// Strategy renders a QueryRequest into one or more search query strings via
// an external chat-completion call (spec.md §4.5). The two concrete
// strategies differ only in how they render the prompt and in the typical
// shape of what they ask the model to return.
type Strategy interface {
	Generate(ctx context.Context, req model.QueryRequest) ([]string, error)
}

// Mappers turns configuration-driven category/geography codes into the
// textual descriptions a rendered prompt substitutes in.
type Mappers struct {
	CategoryDescriptions   map[string]string
	GeographicDescriptions map[string]string
}

func (m Mappers) categoryPhrase(categories []model.Category) string {
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		if desc, ok := m.CategoryDescriptions[string(c)]; ok {
			parts = append(parts, desc)
		} else {
			parts = append(parts, strings.ToLower(string(c)))
		}
	}
	return strings.Join(parts, ", ")
}

func (m Mappers) geographicPhrase(scope string) string {
	if scope == "" {
		return "any country"
	}
	if desc, ok := m.GeographicDescriptions[strings.ToUpper(scope)]; ok {
		return desc
	}
	return scope
}

// KeywordStrategy produces short keyword phrases for classical search
// engines (spec.md §4.5).
type KeywordStrategy struct {
	LM      *LMClient
	Mappers Mappers
}

func (s *KeywordStrategy) Generate(ctx context.Context, req model.QueryRequest) ([]string, error) {
	system := "You generate concise search engine keyword queries, one per line, " +
		"each under 10 words. Do not number them or add commentary."
	user := "Generate " + strconv.Itoa(req.RequestedCount) +
		" keyword search queries for funding opportunities in " + s.Mappers.categoryPhrase(req.Categories) +
		" targeting " + s.Mappers.geographicPhrase(req.GeographicScope) + "."

	raw, err := s.LM.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return ParseQueries(raw, req.RequestedCount), nil
}

// PromptStrategy produces full-sentence questions for AI-augmented search
// (spec.md §4.5).
type PromptStrategy struct {
	LM      *LMClient
	Mappers Mappers
}

func (s *PromptStrategy) Generate(ctx context.Context, req model.QueryRequest) ([]string, error) {
	system := "You generate natural-language search questions, one per line, " +
		"each 15 to 40 words, stating positive criteria and any exclusions. " +
		"Do not number them or add commentary."
	user := "Generate " + strconv.Itoa(req.RequestedCount) +
		" search questions to find active funding opportunities (grants, scholarships, fellowships) in " +
		s.Mappers.categoryPhrase(req.Categories) + " available to organizations or individuals in " +
		s.Mappers.geographicPhrase(req.GeographicScope) + ". Exclude expired or invitation-only programs."

	raw, err := s.LM.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	return ParseQueries(raw, req.RequestedCount), nil
}

var (
	numericPrefixRe = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s*`)
	preambleRe      = regexp.MustCompile(`(?i)^\s*(here\s+(is|are)|sure[,!]?|certainly[,!]?)[^:]*:\s*`)
)

// ParseQueries parses a raw chat-completion response into a capped list of
// query strings, stripping numeric prefixes, bullet markers, surrounding
// quote characters, and leading preambles like "here are ...:" (spec.md
// §4.5). Blank lines are dropped.
func ParseQueries(raw string, cap int) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = preambleRe.ReplaceAllString(line, "")
		line = numericPrefixRe.ReplaceAllString(line, "")
		line = strings.Trim(line, `"'“”‘’ `)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if cap > 0 && len(out) >= cap {
			break
		}
	}
	return out
}
