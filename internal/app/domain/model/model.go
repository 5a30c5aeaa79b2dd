// Package model holds the persisted and transient data types shared across
// the Discovery Pipeline: SearchEngine, QueryRequest, GeneratedQueries,
// SearchResult, Domain, DiscoverySession, FundingCandidate, JudgeScore, and
// MetadataJudgment (spec.md §3).
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
)

// SearchEngine enumerates the search adapters the system knows. New engines
// are added here and wired into the Search Adapter Set; nothing else in the
// core branches on a specific value.
type SearchEngine string

const (
	EngineBrave      SearchEngine = "BRAVE"
	EngineSerper     SearchEngine = "SERPER"
	EngineSearxng    SearchEngine = "SEARXNG"
	EnginePerplexica SearchEngine = "PERPLEXICA"
)

// AllEngines lists every engine the system knows, used to validate engine
// sets at the API boundary.
func AllEngines() []SearchEngine {
	return []SearchEngine{EngineBrave, EngineSerper, EngineSearxng, EnginePerplexica}
}

// IsValid reports whether e is a recognized SearchEngine.
func (e SearchEngine) IsValid() bool {
	for _, known := range AllEngines() {
		if e == known {
			return true
		}
	}
	return false
}

// Category is a funding category tag (e.g. "EDUCATION", "RESEARCH").
type Category string

// Tag mirrors the spec's "TYPE:value" tag convention for the
// domains a QueryRequest cares about.
type Tag struct {
	Type  string
	Value string
}

func (t Tag) String() string {
	return t.Type + ":" + t.Value
}

// ParseTag parses a "TYPE:value" tag string. Returns the zero Tag if raw does
// not contain a colon.
func ParseTag(raw string) Tag {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return Tag{}
	}
	return Tag{Type: strings.ToUpper(strings.TrimSpace(parts[0])), Value: strings.TrimSpace(parts[1])}
}

// QueryRequest is the structured input to query generation (spec.md §3).
// Transient: created by the caller, consumed once.
type QueryRequest struct {
	Engine          SearchEngine
	Categories      []Category
	GeographicScope string
	RecipientTags   []string
	MechanismTags   []string
	BeneficiaryTags []string
	RequestedCount  int
	SessionID       uuid.UUID
}

// Validate enforces the QueryRequest invariants: target engine non-null,
// categories non-empty, count in [1,50].
func (q QueryRequest) Validate() error {
	if q.Engine == "" || !q.Engine.IsValid() {
		return ErrInvalidEngine
	}
	if len(q.Categories) == 0 {
		return ErrEmptyCategories
	}
	if q.RequestedCount < 1 || q.RequestedCount > 50 {
		return ErrCountOutOfRange
	}
	return nil
}

// CacheKey computes the QueryCacheKey fingerprint, ignoring session id and
// personalization tags.
func (q QueryRequest) CacheKey() QueryCacheKey {
	cats := make([]string, len(q.Categories))
	for i, c := range q.Categories {
		cats[i] = string(c)
	}
	return QueryCacheKey{
		Engine:          q.Engine,
		Categories:      sortedUnique(cats),
		GeographicScope: q.GeographicScope,
		RequestedCount:  q.RequestedCount,
	}.normalize()
}

// QueryCacheKey fingerprints a QueryRequest for cache lookup. Equal when all
// identity-bearing fields are equal.
type QueryCacheKey struct {
	Engine          SearchEngine
	Categories      []string
	GeographicScope string
	RequestedCount  int
}

func (k QueryCacheKey) normalize() QueryCacheKey {
	k.Categories = sortedUnique(k.Categories)
	return k
}

// String renders a stable, comparable representation suitable for use as a
// map key or LRU cache key.
func (k QueryCacheKey) String() string {
	var b strings.Builder
	b.WriteString(string(k.Engine))
	b.WriteByte('|')
	b.WriteString(strings.Join(k.Categories, ","))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(k.GeographicScope)))
	b.WriteByte('|')
	b.WriteString(itoa(k.RequestedCount))
	return b.String()
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	// simple insertion sort; category lists are tiny
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// GeneratedQueries is the list of query strings produced by Query Generation.
type GeneratedQueries struct {
	Engine      SearchEngine
	Queries     []string
	GeneratedAt time.Time
	FromCache   bool
}

// SearchResult is one raw result from an adapter.
type SearchResult struct {
	URL              string
	Title            string
	Snippet          string
	Engine           SearchEngine
	OriginatingQuery string
	RankPosition     int
	ObservedAt       time.Time
}

// DomainStatus enumerates the Domain entity's lifecycle states (spec.md §3).
type DomainStatus string

const (
	DomainDiscovered           DomainStatus = "DISCOVERED"
	DomainProcessing           DomainStatus = "PROCESSING"
	DomainProcessedHighQuality DomainStatus = "PROCESSED_HIGH_QUALITY"
	DomainProcessedLowQuality  DomainStatus = "PROCESSED_LOW_QUALITY"
	DomainNoFundsThisYear      DomainStatus = "NO_FUNDS_THIS_YEAR"
	DomainProcessingFailed     DomainStatus = "PROCESSING_FAILED"
	DomainBlacklisted          DomainStatus = "BLACKLISTED"
)

// Domain is the sole persisted record of a registrable web host.
type Domain struct {
	ID               uuid.UUID
	Name             string
	Status           DomainStatus
	DiscoveredAt     time.Time
	LastProcessedAt  *time.Time
	HighQualityCount int
	LowQualityCount  int
	BestConfidence   fixedpoint.Scale2
	BlacklistedBy    *string
	BlacklistedAt    *time.Time
	BlacklistReason  *string
	RetryAfter       *time.Time
}

// SessionType enumerates how a DiscoverySession was triggered.
type SessionType string

const (
	SessionScheduled SessionType = "SCHEDULED"
	SessionManual    SessionType = "MANUAL"
	SessionRetry     SessionType = "RETRY"
)

// SessionStatus enumerates DiscoverySession lifecycle states.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// DiscoverySession is one execution of the pipeline (spec.md §3).
type DiscoverySession struct {
	ID                     uuid.UUID
	SessionType            SessionType
	Status                 SessionStatus
	ExecutedAt             time.Time
	StartedAt              time.Time
	CompletedAt            *time.Time
	DurationMinutes        float64
	CandidatesFound        int
	DuplicatesDetected     int
	AverageConfidenceScore *fixedpoint.Scale2 // nil when no candidates
	SearchEnginesUsed      []SearchEngine
	SearchQueries          []string
	EngineCounters         map[SearchEngine]int
	EngineFailures         map[SearchEngine][]string
	QueryGenerationPrompt  string
	LanguageModel          string
}

// CandidateStatus enumerates FundingCandidate status values this core
// writes. Other values (PENDING_REVIEW, APPROVED, REJECTED, ...) belong to
// the external review workflow and are never written here.
type CandidateStatus string

const CandidatePendingCrawl CandidateStatus = "PENDING_CRAWL"

// FundingCandidate is a discovered funding opportunity awaiting Phase 2 crawl.
type FundingCandidate struct {
	ID                 uuid.UUID
	DiscoverySessionID uuid.UUID
	DomainID           uuid.UUID
	Status             CandidateStatus
	Confidence         fixedpoint.Scale2
	SourceURL          string
	DiscoveredAt       time.Time
	OrganizationName   string
	ProgramName        string
	Description        string
	Reasoning          string
	OriginatingQuery   string
}

// JudgeScore is one judge's contribution to a MetadataJudgment.
type JudgeScore struct {
	JudgeName   string
	Score       fixedpoint.Scale2
	Weight      fixedpoint.Scale2
	Explanation string
}

// MetadataJudgment is the Metadata Judge's verdict on a SearchResult.
type MetadataJudgment struct {
	Confidence       fixedpoint.Scale2
	ShouldCrawl      bool
	JudgeScores      []JudgeScore
	Reasoning        string
	OrganizationName string
	ProgramName      string
	DomainName       string
}
