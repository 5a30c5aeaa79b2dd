package search

import (
	"context"
	"time"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// UsageRecord is the per-call accounting row every adapter writes after a
// search attempt, successful or not. Rate-limit accounting reads these later.
type UsageRecord struct {
	Engine         model.SearchEngine
	Query          string
	ResultCount    int
	Success        bool
	ErrorKind      string
	ExecutedAt     time.Time
	ResponseTimeMS int64
}

// UsageRecorder persists UsageRecords. A write failure must not fail the
// search call that produced the record.
type UsageRecorder interface {
	InsertUsageRecord(ctx context.Context, rec UsageRecord) error
}

// EngineUsageSummary aggregates usage rows for one engine over a window,
// the read side of the rate-limit accounting.
type EngineUsageSummary struct {
	Engine       model.SearchEngine
	Calls        int
	Failures     int
	TotalResults int
}

// UsageReader reports per-engine call accounting for records executed at or
// after a point in time.
type UsageReader interface {
	UsageSince(ctx context.Context, since time.Time) ([]EngineUsageSummary, error)
}

func (a *WrappedAdapter) recordUsage(ctx context.Context, query string, resultCount int, duration time.Duration, callErr error) {
	if a.usage == nil {
		return
	}
	rec := UsageRecord{
		Engine:         a.engine,
		Query:          query,
		ResultCount:    resultCount,
		Success:        callErr == nil,
		ExecutedAt:     a.clock().Add(-duration),
		ResponseTimeMS: duration.Milliseconds(),
	}
	if callErr != nil {
		rec.ErrorKind = errorKind(callErr)
	}
	if err := a.usage.InsertUsageRecord(ctx, rec); err != nil && a.logger != nil {
		a.logger.WithError(err).Warn("api usage record write failed")
	}
}

// errorKind maps a classified adapter error onto the taxonomy name recorded
// for rate-limit accounting.
func errorKind(err error) string {
	se := errors.GetServiceError(err)
	if se == nil {
		return "Unknown"
	}
	switch se.Code {
	case errors.ErrCodeAdapterRateLimited:
		return "RateLimited"
	case errors.ErrCodeAdapterTimeout, errors.ErrCodeTimeout:
		return "Timeout"
	case errors.ErrCodeAdapterAuthFailed:
		return "AuthFailed"
	case errors.ErrCodeAdapterNetworkError:
		return "NetworkError"
	case errors.ErrCodeAdapterInvalidResponse:
		return "InvalidResponse"
	case errors.ErrCodeAdapterCircuitOpen:
		return "CircuitOpen"
	default:
		return "Unknown"
	}
}
