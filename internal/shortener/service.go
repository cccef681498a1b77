package shortener

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/snipurl/snipurl/internal/errx"
	"github.com/snipurl/snipurl/keygen"
)

const (
	MaxURLLength = 2048

	// DefaultKeyMaxRetries bounds the generate-and-insert loop. With a 62^6
	// keyspace a single conflict is already rare; five exhausted attempts
	// mean something is wrong with the store, not with the dice.
	DefaultKeyMaxRetries = 5

	// RecentClicksLimit caps the event list in analytics responses.
	RecentClicksLimit = 50

	// DailyWindowDays bounds the day-bucketed click series.
	DailyWindowDays = 90
)

// CreateLinkRequest represents the parameters for creating a new link.
type CreateLinkRequest struct {
	OriginalURL string
	CustomKey   string // Optional: if empty, a key will be generated
	ExpiresAt   *time.Time
	OwnerID     *uuid.UUID // nil for anonymous creation
}

// Invalidator evicts a short key from the resolve cache. Updates and deletes
// call it so stale destinations do not outlive the freshness window.
type Invalidator interface {
	Invalidate(ctx context.Context, key string)
}

// Service defines the business logic operations for URL shortening.
type Service interface {
	Create(ctx context.Context, req CreateLinkRequest) (Link, error)
	Get(ctx context.Context, id, owner uuid.UUID) (Link, error)
	List(ctx context.Context, owner uuid.UUID) ([]Link, error)
	Update(ctx context.Context, id, owner uuid.UUID, patch LinkPatch) (Link, error)
	Delete(ctx context.Context, id, owner uuid.UUID) error
	LinkSummary(ctx context.Context, id, owner uuid.UUID) (Summary, error)
	OwnerSummary(ctx context.Context, owner uuid.UUID) (OwnerSummary, error)
}

// service implements the Service interface.
type service struct {
	repo          Repository
	keyGenerator  keygen.Generator
	keyLength     int
	keyMaxRetries int
	invalidator   Invalidator
	now           func() time.Time
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	KeyGenerator  keygen.Generator
	KeyLength     int
	KeyMaxRetries int // attempts when generating a unique key (default: 5)
	Invalidator   Invalidator
	Now           func() time.Time // override for tests
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	keyGen := config.KeyGenerator
	if keyGen == nil {
		keyGen = keygen.NewBase62()
	}

	keyLength := config.KeyLength
	if keyLength <= 0 || keyLength > keygen.MaxAliasLength {
		keyLength = keygen.DefaultKeyLength
	}

	retries := config.KeyMaxRetries
	if retries <= 0 {
		retries = DefaultKeyMaxRetries
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		repo:          repo,
		keyGenerator:  keyGen,
		keyLength:     keyLength,
		keyMaxRetries: retries,
		invalidator:   config.Invalidator,
		now:           now,
	}
}

// Create creates a new short link with optional custom key.
func (s *service) Create(ctx context.Context, req CreateLinkRequest) (Link, error) {
	const op = "shortener.service.Create"

	if err := validateURL(req.OriginalURL); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}
	if err := s.validateExpiry(req.ExpiresAt); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	// Custom key path: validate and create once. A taken key surfaces as a
	// conflict to the caller rather than triggering generation.
	if req.CustomKey != "" {
		if err := keygen.ValidateAlias(req.CustomKey); err != nil {
			return Link{}, errx.E(op, errx.Invalid, err)
		}

		created, err := s.repo.Create(ctx, Link{
			OwnerID:     req.OwnerID,
			OriginalURL: req.OriginalURL,
			ShortKey:    req.CustomKey,
			ExpiresAt:   req.ExpiresAt,
		})
		if err != nil {
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
		return created, nil
	}

	// Generated key path: retry on conflicts
	for range s.keyMaxRetries {
		key, err := s.keyGenerator.Generate(s.keyLength)
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}

		created, err := s.repo.Create(ctx, Link{
			OwnerID:     req.OwnerID,
			OriginalURL: req.OriginalURL,
			ShortKey:    key,
			ExpiresAt:   req.ExpiresAt,
		})
		if err == nil {
			return created, nil
		}

		// Retry on conflict, fail on other errors
		if errx.KindOf(err) != errx.Conflict {
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
	}

	return Link{}, errx.E(op, errx.Unavailable,
		errors.New("could not generate unique key after retries"))
}

func (s *service) Get(ctx context.Context, id, owner uuid.UUID) (Link, error) {
	const op = "shortener.service.Get"

	link, err := s.repo.GetOwned(ctx, id, owner)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

func (s *service) List(ctx context.Context, owner uuid.UUID) ([]Link, error) {
	const op = "shortener.service.List"

	links, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return links, nil
}

func (s *service) Update(ctx context.Context, id, owner uuid.UUID, patch LinkPatch) (Link, error) {
	const op = "shortener.service.Update"

	if patch.OriginalURL == nil && patch.ExpiresAt == nil && !patch.ClearExpiry {
		return Link{}, errx.E(op, errx.Invalid, errors.New("no fields to update"))
	}
	if patch.OriginalURL != nil {
		if err := validateURL(*patch.OriginalURL); err != nil {
			return Link{}, errx.E(op, errx.Invalid, err)
		}
	}
	if !patch.ClearExpiry {
		if err := s.validateExpiry(patch.ExpiresAt); err != nil {
			return Link{}, errx.E(op, errx.Invalid, err)
		}
	}

	updated, err := s.repo.UpdateOwned(ctx, id, owner, patch)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, updated.ShortKey)
	}
	return updated, nil
}

func (s *service) Delete(ctx context.Context, id, owner uuid.UUID) error {
	const op = "shortener.service.Delete"

	deleted, err := s.repo.DeleteOwned(ctx, id, owner)
	if err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, deleted.ShortKey)
	}
	return nil
}

// LinkSummary assembles the per-link analytics view. The counter, the recent
// events, and the daily series are read separately; under concurrent clicks
// they may disagree by the handful of events still in flight.
func (s *service) LinkSummary(ctx context.Context, id, owner uuid.UUID) (Summary, error) {
	const op = "shortener.service.LinkSummary"

	link, err := s.repo.GetOwned(ctx, id, owner)
	if err != nil {
		return Summary{}, errx.E(op, errx.KindOf(err), err)
	}

	recent, err := s.repo.RecentClicks(ctx, link.ShortKey, RecentClicksLimit)
	if err != nil {
		return Summary{}, errx.E(op, errx.KindOf(err), err)
	}

	since := s.now().UTC().AddDate(0, 0, -DailyWindowDays)
	daily, err := s.repo.DailyClickCounts(ctx, link.ShortKey, since)
	if err != nil {
		return Summary{}, errx.E(op, errx.KindOf(err), err)
	}

	return Summary{
		Link:         link,
		ClickCount:   link.ClickCount,
		RecentClicks: recent,
		Daily:        daily,
	}, nil
}

func (s *service) OwnerSummary(ctx context.Context, owner uuid.UUID) (OwnerSummary, error) {
	const op = "shortener.service.OwnerSummary"

	links, clicks, err := s.repo.OwnerTotals(ctx, owner)
	if err != nil {
		return OwnerSummary{}, errx.E(op, errx.KindOf(err), err)
	}

	recent, err := s.repo.RecentClicksByOwner(ctx, owner, RecentClicksLimit)
	if err != nil {
		return OwnerSummary{}, errx.E(op, errx.KindOf(err), err)
	}

	return OwnerSummary{
		TotalLinks:   links,
		TotalClicks:  clicks,
		RecentClicks: recent,
	}, nil
}

func (s *service) validateExpiry(expiresAt *time.Time) error {
	if expiresAt == nil {
		return nil
	}
	if !expiresAt.After(s.now()) {
		return errors.New("expires_at must be in the future")
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return errors.New("url too long (max 2048 characters)")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}
