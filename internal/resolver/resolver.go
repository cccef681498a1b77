// Package resolver implements the redirect read path: a cache fronting the
// link store, with expiry enforced on every hit regardless of staleness.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snipurl/snipurl/internal/errx"
	"github.com/snipurl/snipurl/internal/metrics"
	"github.com/snipurl/snipurl/internal/shortener"
)

// LinkSource is the authoritative store the cache fronts.
type LinkSource interface {
	GetByKey(ctx context.Context, key string) (shortener.Link, error)
}

// Resolver translates short keys into redirect targets. It never records
// clicks itself; callers hand the side effect to the click recorder so
// redirect latency stays independent of analytics writes.
type Resolver struct {
	source  LinkSource
	cache   Cache
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Config holds Resolver dependencies.
type Config struct {
	Source  LinkSource
	Cache   Cache
	Timeout time.Duration // hard ceiling on the cache+store read
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates a Resolver.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Resolver{
		source:  cfg.Source,
		cache:   cfg.Cache,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Resolve returns the destination URL for key. Errors carry errx kinds:
// NotFound for unknown keys, Gone for expired links, Unavailable when the
// store read times out.
func (r *Resolver) Resolve(ctx context.Context, key string) (string, error) {
	const op = "resolver.Resolve"

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entry, hit, err := r.cache.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to a store read; it never fails a redirect.
		r.logger.WarnContext(ctx, "cache read failed", "short_key", key, "error", err.Error())
	}
	if hit {
		r.metrics.CacheHits.Inc()
		if expired(entry.ExpiresAt, time.Now()) {
			return "", errx.E(op, errx.Gone, errors.New("link expired"))
		}
		return entry.OriginalURL, nil
	}
	r.metrics.CacheMisses.Inc()

	link, err := r.source.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", errx.E(op, errx.Unavailable, err)
		}
		return "", errx.E(op, errx.KindOf(err), err)
	}

	// Cache expired links too: repeat lookups of a dead key then short-circuit
	// at the cache instead of hammering the store.
	if setErr := r.cache.Set(ctx, key, Entry{
		OriginalURL: link.OriginalURL,
		ExpiresAt:   link.ExpiresAt,
	}); setErr != nil {
		r.logger.WarnContext(ctx, "cache write failed", "short_key", key, "error", setErr.Error())
	}

	if link.Expired(time.Now()) {
		return "", errx.E(op, errx.Gone, errors.New("link expired"))
	}

	return link.OriginalURL, nil
}

// Invalidate drops the cached entry for key. Called after updates and
// deletes so the local node stops serving the old destination immediately;
// other nodes converge within the freshness window.
func (r *Resolver) Invalidate(ctx context.Context, key string) {
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.WarnContext(ctx, "cache invalidation failed", "short_key", key, "error", err.Error())
	}
}

func expired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && !expiresAt.After(now)
}
