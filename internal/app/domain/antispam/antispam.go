// Package antispam implements the Anti-Spam Filter (spec.md §4.2): a pure,
// deterministic, side-effect-free function on a SearchResult that rejects
// obvious junk before the result reaches the Domain Registry or Metadata
// Judge. Fuzzy title/snippet matching uses github.com/agnivade/levenshtein,
// the pack's only retrieved Levenshtein implementation.
package antispam

import (
	"net/url"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// ReasonCode enumerates why a result was rejected.
type ReasonCode string

const (
	ReasonNone            ReasonCode = ""
	ReasonBlacklistedHost ReasonCode = "BLACKLISTED_HOST"
	ReasonSpamMarker      ReasonCode = "SPAM_MARKER"
	ReasonEmptyContent    ReasonCode = "EMPTY_CONTENT"
	ReasonFuzzyMatchSpam  ReasonCode = "FUZZY_MATCH_SPAM"
)

// Verdict is the filter's outcome.
type Verdict struct {
	Accepted bool
	Reason   ReasonCode
}

// Config is the configuration-driven tuning the filter needs: known ad/
// redirect host patterns, spam markers appearing in URL path or title, and
// known-spam exemplar strings for fuzzy matching.
type Config struct {
	BlacklistedHostPatterns []string
	SpamMarkers             []string
	SpamExemplars           []string
	// FuzzyThreshold is the minimum normalized Levenshtein similarity (0-1)
	// that counts as a fuzzy match. spec.md default: 0.92.
	FuzzyThreshold float64
}

// DefaultConfig returns sensible defaults grounded in spec.md §4.2's examples.
func DefaultConfig() Config {
	return Config{
		BlacklistedHostPatterns: []string{"click.promo.", "ads.", "redirect.", "track.", "go.promo."},
		SpamMarkers:             []string{"click now", "!!!", "buy now", "limited time offer"},
		SpamExemplars:           []string{},
		FuzzyThreshold:          0.92,
	}
}

// Filter evaluates a SearchResult against cfg.
type Filter struct {
	cfg Config
}

// New constructs a Filter.
func New(cfg Config) *Filter {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 0.92
	}
	return &Filter{cfg: cfg}
}

// Evaluate is the pure decision function spec.md §4.2 describes.
func (f *Filter) Evaluate(r model.SearchResult) Verdict {
	lowerURL := strings.ToLower(r.URL)
	lowerTitle := strings.ToLower(strings.TrimSpace(r.Title))
	lowerSnippet := strings.ToLower(strings.TrimSpace(r.Snippet))

	if host := hostOf(r.URL); host != "" {
		for _, pattern := range f.cfg.BlacklistedHostPatterns {
			if pattern == "" {
				continue
			}
			if strings.Contains(host, strings.ToLower(pattern)) {
				return Verdict{Accepted: false, Reason: ReasonBlacklistedHost}
			}
		}
	}

	for _, marker := range f.cfg.SpamMarkers {
		if marker == "" {
			continue
		}
		m := strings.ToLower(marker)
		if strings.Contains(lowerURL, m) || strings.Contains(lowerTitle, m) {
			return Verdict{Accepted: false, Reason: ReasonSpamMarker}
		}
	}

	if lowerTitle == "" && lowerSnippet == "" {
		return Verdict{Accepted: false, Reason: ReasonEmptyContent}
	}

	for _, exemplar := range f.cfg.SpamExemplars {
		exemplar = strings.ToLower(strings.TrimSpace(exemplar))
		if exemplar == "" {
			continue
		}
		if fuzzySimilarity(lowerTitle, exemplar) >= f.cfg.FuzzyThreshold ||
			fuzzySimilarity(lowerSnippet, exemplar) >= f.cfg.FuzzyThreshold {
			return Verdict{Accepted: false, Reason: ReasonFuzzyMatchSpam}
		}
	}

	return Verdict{Accepted: true, Reason: ReasonNone}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// fuzzySimilarity returns a normalized similarity in [0,1] derived from
// Levenshtein edit distance: 1 - distance/maxLen.
func fuzzySimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
