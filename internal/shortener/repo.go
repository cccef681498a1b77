package shortener

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence operations for links and click events.
// Short-key uniqueness is enforced here, at the storage layer, because
// concurrent creators race; application-level checks alone are not enough.
type Repository interface {
	Create(ctx context.Context, link Link) (Link, error)
	GetByKey(ctx context.Context, key string) (Link, error)
	GetOwned(ctx context.Context, id uuid.UUID, owner uuid.UUID) (Link, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]Link, error)
	UpdateOwned(ctx context.Context, id uuid.UUID, owner uuid.UUID, patch LinkPatch) (Link, error)
	DeleteOwned(ctx context.Context, id uuid.UUID, owner uuid.UUID) (Link, error)

	// InsertClick persists a click event and bumps the link's counter in
	// the same transaction. It is idempotent on the event id: replaying an
	// already-persisted event reports inserted=false and leaves the counter
	// untouched.
	InsertClick(ctx context.Context, event ClickEvent) (inserted bool, err error)

	RecentClicks(ctx context.Context, key string, limit int) ([]ClickEvent, error)
	DailyClickCounts(ctx context.Context, key string, since time.Time) ([]DailyCount, error)
	OwnerTotals(ctx context.Context, owner uuid.UUID) (links int64, clicks int64, err error)
	RecentClicksByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]ClickEvent, error)
}
