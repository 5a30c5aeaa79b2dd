// Package registry implements the Domain Registry (spec.md §4.1): the sole
// writer of the Domain table and sole authority on whether a URL should be
// processed. Grounded on the teacher's CRUD-interface convention
// (internal/app/storage) and its insert-then-reload pattern for resolving
// uniqueness races on concurrent first-time inserts.
package registry

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
	"github.com/kevinhagel/fundingdiscovery/infrastructure/logging"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/fixedpoint"
	"github.com/kevinhagel/fundingdiscovery/internal/app/domain/model"
)

// Store is the persistence seam the registry writes through. Implementations
// live in internal/app/storage/{postgres,memory}.
type Store interface {
	GetDomainByName(ctx context.Context, name string) (*model.Domain, error)
	GetDomainByID(ctx context.Context, id uuid.UUID) (*model.Domain, error)
	InsertDomain(ctx context.Context, d *model.Domain) error
	UpdateDomain(ctx context.Context, d *model.Domain) error
}

// Registry is the Domain Registry service.
type Registry struct {
	store  Store
	logger *logging.Logger
	clock  func() time.Time
}

// New constructs a Registry backed by store.
func New(store Store, logger *logging.Logger) *Registry {
	return &Registry{store: store, logger: logger, clock: time.Now}
}

// ExtractDomain lowercases the host, strips a leading "www.", and rejects IP
// literals and unresolvable schemes (spec.md §4.1).
func ExtractDomain(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", errors.InvalidInput("url", "could not be parsed")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.InvalidInput("url", "unsupported scheme")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.InvalidInput("url", "missing host")
	}
	if net.ParseIP(host) != nil {
		return "", errors.InvalidInput("url", "IP literal hosts are not registrable domains")
	}
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", errors.InvalidInput("url", "empty host after normalization")
	}
	return host, nil
}

// ShouldProcess reports whether url's domain warrants further processing
// (spec.md §4.1). An invalid URL is never processed.
func (r *Registry) ShouldProcess(ctx context.Context, rawURL string) (bool, error) {
	name, err := ExtractDomain(rawURL)
	if err != nil {
		return false, err
	}
	d, err := r.store.GetDomainByName(ctx, name)
	if err != nil {
		return false, err
	}
	if d == nil {
		return true, nil
	}
	switch d.Status {
	case model.DomainDiscovered, model.DomainNoFundsThisYear:
		return true, nil
	case model.DomainProcessingFailed:
		if d.RetryAfter == nil || !d.RetryAfter.After(r.clock()) {
			return true, nil
		}
		return false, nil
	default:
		// BLACKLISTED, PROCESSING, PROCESSED_LOW_QUALITY,
		// PROCESSED_HIGH_QUALITY all gate processing off.
		return false, nil
	}
}

// IsBlacklisted reports whether domainName is currently BLACKLISTED. Used by
// the Search Orchestrator's batch-level blacklist filter (spec.md §4.6 step
// 6), which is narrower than ShouldProcess: a batch should still surface
// domains that are merely already-processed, only blacklisted ones are
// dropped before candidate processing sees them.
func (r *Registry) IsBlacklisted(ctx context.Context, domainName string) (bool, error) {
	d, err := r.store.GetDomainByName(ctx, strings.ToLower(strings.TrimSpace(domainName)))
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	return d.Status == model.DomainBlacklisted, nil
}

// Register idempotently registers url's domain against sessionID. Returns the
// existing row if present; otherwise inserts a new one with status
// DISCOVERED. A uniqueness race on first insert is resolved by reloading the
// row that won the race (spec.md §4.1, §5).
func (r *Registry) Register(ctx context.Context, rawURL string, sessionID uuid.UUID) (*model.Domain, error) {
	name, err := ExtractDomain(rawURL)
	if err != nil {
		return nil, err
	}

	existing, err := r.store.GetDomainByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := r.clock()
	d := &model.Domain{
		ID:           uuid.New(),
		Name:         name,
		Status:       model.DomainDiscovered,
		DiscoveredAt: now,
	}
	if err := r.store.InsertDomain(ctx, d); err != nil {
		if errors.IsServiceError(err) && errors.GetServiceError(err).Code == errors.ErrCodeAlreadyExists {
			reloaded, reloadErr := r.store.GetDomainByName(ctx, name)
			if reloadErr != nil {
				return nil, reloadErr
			}
			if reloaded != nil {
				return reloaded, nil
			}
		}
		return nil, err
	}
	if r.logger != nil {
		r.logger.LogDomainTransition(ctx, name, "", string(model.DomainDiscovered))
	}
	return d, nil
}

// UpdateQuality records the outcome of judging a result against domainID:
// increments the matching counter, updates best-confidence if strictly
// greater, and transitions status (spec.md §4.1).
func (r *Registry) UpdateQuality(ctx context.Context, domainID uuid.UUID, confidence fixedpoint.Scale2, wasHighQuality bool) error {
	d, err := r.getByID(ctx, domainID)
	if err != nil {
		return err
	}
	if d == nil {
		return errors.NotFound("domain", domainID.String())
	}

	from := d.Status
	now := r.clock()
	d.LastProcessedAt = &now
	if confidence > d.BestConfidence {
		d.BestConfidence = confidence
	}
	if wasHighQuality {
		d.HighQualityCount++
		d.Status = model.DomainProcessedHighQuality
	} else {
		d.LowQualityCount++
		if d.HighQualityCount == 0 {
			d.Status = model.DomainProcessedLowQuality
		}
	}
	if err := r.store.UpdateDomain(ctx, d); err != nil {
		return err
	}
	if r.logger != nil && from != d.Status {
		r.logger.LogDomainTransition(ctx, d.Name, string(from), string(d.Status))
	}
	return nil
}

// Blacklist marks a domain BLACKLISTED. Subsequent ShouldProcess calls
// return false for it (spec.md §4.1).
func (r *Registry) Blacklist(ctx context.Context, domainName, actorID, reason string) error {
	d, err := r.store.GetDomainByName(ctx, strings.ToLower(strings.TrimSpace(domainName)))
	if err != nil {
		return err
	}
	if d == nil {
		return errors.NotFound("domain", domainName)
	}
	from := d.Status
	now := r.clock()
	d.Status = model.DomainBlacklisted
	d.BlacklistedBy = &actorID
	d.BlacklistedAt = &now
	d.BlacklistReason = &reason
	if err := r.store.UpdateDomain(ctx, d); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.LogDomainTransition(ctx, d.Name, string(from), string(d.Status))
	}
	return nil
}

// MarkFailed transitions a domain to PROCESSING_FAILED with a retry-after
// timestamp (spec.md §4.1).
func (r *Registry) MarkFailed(ctx context.Context, domainID uuid.UUID, retryAfter time.Time) error {
	d, err := r.getByID(ctx, domainID)
	if err != nil {
		return err
	}
	if d == nil {
		return errors.NotFound("domain", domainID.String())
	}
	from := d.Status
	d.Status = model.DomainProcessingFailed
	d.RetryAfter = &retryAfter
	if err := r.store.UpdateDomain(ctx, d); err != nil {
		return err
	}
	if r.logger != nil {
		r.logger.LogDomainTransition(ctx, d.Name, string(from), string(d.Status))
	}
	return nil
}

func (r *Registry) getByID(ctx context.Context, id uuid.UUID) (*model.Domain, error) {
	return r.store.GetDomainByID(ctx, id)
}
