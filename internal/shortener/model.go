package shortener

import (
	"time"

	"github.com/google/uuid"
)

// Link is a short key mapped to a destination URL. OwnerID is nil for
// anonymously created links.
type Link struct {
	ID          uuid.UUID
	OwnerID     *uuid.UUID
	OriginalURL string
	ShortKey    string
	ClickCount  int64
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Expired reports whether the link's expiry has passed at the given instant.
// Links without an expiry never expire.
func (l Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// ClickEvent records a single redirect traversal. Immutable once written.
// The ID doubles as the idempotency key for counter increments.
type ClickEvent struct {
	ID         uuid.UUID
	ShortKey   string
	OccurredAt time.Time
	IPAddress  string
	UserAgent  string
	Referrer   string
}

// LinkPatch describes a partial update to a link's mutable fields.
// ClearExpiry wins over ExpiresAt when both are set.
type LinkPatch struct {
	OriginalURL *string
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// DailyCount is one calendar-day bucket of click volume.
type DailyCount struct {
	Day   time.Time
	Count int64
}

// Summary is the per-link analytics view: the denormalized counter, the most
// recent events, and day-bucketed counts over a bounded window.
type Summary struct {
	Link         Link
	ClickCount   int64
	RecentClicks []ClickEvent
	Daily        []DailyCount
}

// OwnerSummary aggregates across all links belonging to one owner.
type OwnerSummary struct {
	TotalLinks   int64
	TotalClicks  int64
	RecentClicks []ClickEvent
}
