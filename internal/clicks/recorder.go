// Package clicks implements the asynchronous click recorder: a bounded
// in-process queue drained by background workers, so click persistence never
// delays a redirect response.
package clicks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snipurl/snipurl/internal/errx"
	"github.com/snipurl/snipurl/internal/idgen"
	"github.com/snipurl/snipurl/internal/metrics"
	"github.com/snipurl/snipurl/internal/shortener"
)

// Store persists click events. InsertClick must be idempotent on the event id.
type Store interface {
	InsertClick(ctx context.Context, event shortener.ClickEvent) (bool, error)
}

const persistTimeout = 5 * time.Second

// Recorder accepts click events from the redirect path and persists them in
// the background. Enqueueing never blocks: when the queue is saturated the
// incoming event is dropped (drop-new) and counted.
type Recorder struct {
	store       Store
	ids         idgen.Generator
	queue       chan shortener.ClickEvent
	workers     int
	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	stop    sync.Once
}

// Config holds Recorder dependencies and tuning.
type Config struct {
	Store        Store
	QueueSize    int
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// New creates a Recorder. Call Start to launch the workers.
func New(cfg Config) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	return &Recorder{
		store:       cfg.Store,
		ids:         idgen.NewV4(),
		queue:       make(chan shortener.ClickEvent, cfg.QueueSize),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// Start launches the worker pool.
func (r *Recorder) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for event := range r.queue {
				r.persist(event)
			}
		}()
	}
}

// Record enqueues a click event and returns immediately. Returns false when
// the event was dropped (queue full or recorder stopped). A missing id or
// timestamp is filled in here.
func (r *Recorder) Record(event shortener.ClickEvent) bool {
	// The read lock pairs with Stop: the queue can only close while the
	// write lock is held, so the send below can never hit a closed channel.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return false
	}

	if event.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			r.metrics.ClicksDropped.Inc()
			return false
		}
		event.ID = id
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	select {
	case r.queue <- event:
		r.metrics.ClicksEnqueued.Inc()
		return true
	default:
		r.metrics.ClicksDropped.Inc()
		r.logger.Warn("click queue full, dropping event",
			"short_key", event.ShortKey,
			"event_id", event.ID.String(),
		)
		return false
	}
}

// Stop drains the queue and waits for the workers, bounded by ctx. Record
// calls that race or follow Stop are dropped.
func (r *Recorder) Stop(ctx context.Context) error {
	r.stop.Do(func() {
		r.mu.Lock()
		r.stopped = true
		close(r.queue)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persist writes one event with bounded exponential backoff. A permanent
// failure (the link is gone) or exhausted retries drops the event; the
// visitor already got their redirect either way.
func (r *Recorder) persist(event shortener.ClickEvent) {
	delay := r.backoff

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		inserted, err := r.store.InsertClick(ctx, event)
		cancel()

		if err == nil {
			if inserted {
				r.metrics.ClicksPersisted.Inc()
			}
			return
		}

		if errx.KindOf(err) == errx.NotFound {
			// Link deleted between resolve and persist; nothing to count.
			r.logger.Debug("dropping click for deleted link",
				"short_key", event.ShortKey,
				"event_id", event.ID.String(),
			)
			return
		}

		if attempt == r.maxAttempts {
			break
		}

		r.metrics.ClickRetries.Inc()
		r.logger.Warn("click persist failed, retrying",
			"short_key", event.ShortKey,
			"event_id", event.ID.String(),
			"attempt", attempt,
			"error", err.Error(),
		)
		time.Sleep(delay)
		delay *= 2
	}

	r.metrics.ClicksDiscarded.Inc()
	r.logger.Error("click event discarded after retries",
		"short_key", event.ShortKey,
		"event_id", event.ID.String(),
		"attempts", r.maxAttempts,
	)
}
