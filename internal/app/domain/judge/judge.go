// Package judge implements the Metadata Judge (spec.md §4.7): a pure
// function over a SearchResult that produces a MetadataJudgment from four
// weighted judges. No single teacher file implements weighted scoring; the
// judges are built fresh against spec.md's formulas, using
// internal/app/domain/fixedpoint for scale-2 half-up arithmetic so averages
// never drift the way floating-point accumulation would.
package judge

import (
	"fmt"
	"strings"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// Config carries every judge's keyword lists, saturations, weights, and the
// shouldCrawl threshold as configuration, not code (spec.md §4.7).
type Config struct {
	Threshold float64

	FundingKeywords          []string
	FundingKeywordWeight     float64
	FundingKeywordSaturation int

	ScamPatterns            []string
	CredibleTLDs            []string
	DomainCredibilityWeight float64

	GeographicKeywords   []string
	GeographicWeight     float64
	GeographicSaturation int

	OrganizationTypeKeywords   []string
	OrganizationTypeWeight     float64
	OrganizationTypeSaturation int
}

// Judge evaluates a SearchResult against cfg.
type Judge struct {
	cfg Config
}

// New constructs a Judge.
func New(cfg Config) *Judge {
	if cfg.FundingKeywordSaturation <= 0 {
		cfg.FundingKeywordSaturation = 3
	}
	if cfg.GeographicSaturation <= 0 {
		cfg.GeographicSaturation = 2
	}
	if cfg.OrganizationTypeSaturation <= 0 {
		cfg.OrganizationTypeSaturation = 2
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.60
	}
	return &Judge{cfg: cfg}
}

// Evaluate runs all four judges over r and produces a MetadataJudgment.
func (j *Judge) Evaluate(r model.SearchResult) model.MetadataJudgment {
	text := strings.ToLower(r.Title + " " + r.Snippet)

	fundingScore := saturatingScore(text, j.cfg.FundingKeywords, j.cfg.FundingKeywordSaturation)
	fundingWeight := fixedpoint.FromFloat(j.cfg.FundingKeywordWeight)
	fundingExplain := fmt.Sprintf("funding keyword matches scored %.2f (saturation %d)", fundingScore.Float(), j.cfg.FundingKeywordSaturation)

	credScore, credExplain := j.domainCredibility(r.URL)
	credWeight := fixedpoint.FromFloat(j.cfg.DomainCredibilityWeight)

	geoScore := saturatingScore(text, j.cfg.GeographicKeywords, j.cfg.GeographicSaturation)
	geoWeight := fixedpoint.FromFloat(j.cfg.GeographicWeight)
	geoExplain := fmt.Sprintf("geographic keyword matches scored %.2f (saturation %d)", geoScore.Float(), j.cfg.GeographicSaturation)

	orgScore := saturatingScore(text, j.cfg.OrganizationTypeKeywords, j.cfg.OrganizationTypeSaturation)
	orgWeight := fixedpoint.FromFloat(j.cfg.OrganizationTypeWeight)
	orgExplain := fmt.Sprintf("organization-type keyword matches scored %.2f (saturation %d)", orgScore.Float(), j.cfg.OrganizationTypeSaturation)

	scores := []model.JudgeScore{
		{JudgeName: "FundingKeywordJudge", Score: fundingScore, Weight: fundingWeight, Explanation: fundingExplain},
		{JudgeName: "DomainCredibilityJudge", Score: credScore, Weight: credWeight, Explanation: credExplain},
		{JudgeName: "GeographicRelevanceJudge", Score: geoScore, Weight: geoWeight, Explanation: geoExplain},
		{JudgeName: "OrganizationTypeJudge", Score: orgScore, Weight: orgWeight, Explanation: orgExplain},
	}

	scoreVals := make([]fixedpoint.Scale2, len(scores))
	weightVals := make([]fixedpoint.Scale2, len(scores))
	for i, s := range scores {
		scoreVals[i] = s.Score
		weightVals[i] = s.Weight
	}
	confidence := fixedpoint.WeightedAverage(scoreVals, weightVals).Clamp(0, 100)

	org, program := extractNames(r.Title)
	domainName, _ := extractHost(r.URL)

	reasoning := buildReasoning(scores, confidence)

	return model.MetadataJudgment{
		Confidence:       confidence,
		ShouldCrawl:      confidence.Float() >= j.cfg.Threshold,
		JudgeScores:      scores,
		Reasoning:        reasoning,
		OrganizationName: org,
		ProgramName:      program,
		DomainName:       domainName,
	}
}

// saturatingScore counts keyword matches in text and returns
// min(1.00, matchCount/saturation) as a Scale2 value.
func saturatingScore(text string, keywords []string, saturation int) fixedpoint.Scale2 {
	if saturation <= 0 {
		saturation = 1
	}
	matches := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		matches += strings.Count(text, kw)
	}
	ratio := float64(matches) / float64(saturation)
	if ratio > 1 {
		ratio = 1
	}
	return fixedpoint.FromFloat(ratio)
}

func (j *Judge) domainCredibility(rawURL string) (fixedpoint.Scale2, string) {
	lower := strings.ToLower(rawURL)
	for _, pattern := range j.cfg.ScamPatterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, pattern) {
			return 0, "matched a configured scam pattern"
		}
	}
	host, _ := extractHost(rawURL)
	for _, tld := range j.cfg.CredibleTLDs {
		tld = strings.ToLower(strings.TrimSpace(tld))
		if tld == "" {
			continue
		}
		if strings.HasSuffix(host, tld) {
			return fixedpoint.FromFloat(0.80), "registered TLD is in the configured credible set"
		}
	}
	return fixedpoint.FromFloat(0.50), "no scam pattern or credible TLD matched"
}

func extractHost(rawURL string) (string, error) {
	lower := strings.ToLower(rawURL)
	lower = strings.TrimPrefix(lower, "https://")
	lower = strings.TrimPrefix(lower, "http://")
	if idx := strings.IndexAny(lower, "/?#"); idx >= 0 {
		lower = lower[:idx]
	}
	lower = strings.TrimPrefix(lower, "www.")
	return lower, nil
}

// extractNames heuristically splits a result title on "-" or "|": the last
// segment is the organization, the first is the program. Falls back to
// ("Unknown Organization", full title) when no separator is present.
func extractNames(title string) (organization, program string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Unknown Organization", ""
	}
	sep := ""
	if strings.Contains(title, "|") {
		sep = "|"
	} else if strings.Contains(title, "-") {
		sep = "-"
	} else if strings.Contains(title, "–") { // en dash
		sep = "–"
	}
	if sep == "" {
		return "Unknown Organization", title
	}
	parts := strings.Split(title, sep)
	if len(parts) < 2 {
		return "Unknown Organization", title
	}
	program = strings.TrimSpace(parts[0])
	organization = strings.TrimSpace(parts[len(parts)-1])
	if organization == "" {
		organization = "Unknown Organization"
	}
	return organization, program
}

func buildReasoning(scores []model.JudgeScore, confidence fixedpoint.Scale2) string {
	var b strings.Builder
	fmt.Fprintf(&b, "overall confidence %.2f from %d judges: ", confidence.Float(), len(scores))
	for i, s := range scores {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s=%.2f(w=%.2f)", s.JudgeName, s.Score.Float(), s.Weight.Float())
	}
	return b.String()
}
