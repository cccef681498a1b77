package shortener

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/snipurl/snipurl/internal/errx"
	"github.com/snipurl/snipurl/internal/idgen"
)

// dbtx abstracts *pgxpool.Pool so tests can swap in a single connection or
// transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type repo struct {
	db  dbtx
	ids idgen.Generator
}

// RepositoryConfig holds configuration for the repository.
type RepositoryConfig struct {
	IDGenerator idgen.Generator
}

// NewRepository creates a Repository backed by PostgreSQL.
func NewRepository(db dbtx, config *RepositoryConfig) Repository {
	if config == nil {
		config = &RepositoryConfig{}
	}

	// Default: UUID v7 for index locality on the primary key.
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.NewV7(idgen.WithRetries(1))
	}

	return &repo{
		db:  db,
		ids: config.IDGenerator,
	}
}

const linkColumns = "id, owner_id, original_url, short_key, click_count, expires_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (Link, error) {
	var l Link
	err := row.Scan(
		&l.ID, &l.OwnerID, &l.OriginalURL, &l.ShortKey,
		&l.ClickCount, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, err)

	case isShortKeyUniqueViolation(err):
		return errx.E(op, errx.Conflict, err)

	case isForeignKeyViolation(err):
		return errx.E(op, errx.NotFound, err)

	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func (r *repo) Create(ctx context.Context, link Link) (Link, error) {
	const op = "shortener.repo.Create"

	if link.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}
		link.ID = id
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO links (id, owner_id, original_url, short_key, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+linkColumns,
		link.ID, link.OwnerID, link.OriginalURL, link.ShortKey, link.ExpiresAt,
	)

	created, err := scanLink(row)
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return created, nil
}

func (r *repo) GetByKey(ctx context.Context, key string) (Link, error) {
	const op = "shortener.repo.GetByKey"

	row := r.db.QueryRow(ctx,
		"SELECT "+linkColumns+" FROM links WHERE short_key = $1", key)

	link, err := scanLink(row)
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *repo) GetOwned(ctx context.Context, id uuid.UUID, owner uuid.UUID) (Link, error) {
	const op = "shortener.repo.GetOwned"

	row := r.db.QueryRow(ctx,
		"SELECT "+linkColumns+" FROM links WHERE id = $1 AND owner_id = $2", id, owner)

	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, r.classifyMissing(ctx, op, id, err)
		}
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

func (r *repo) ListByOwner(ctx context.Context, owner uuid.UUID) ([]Link, error) {
	const op = "shortener.repo.ListByOwner"

	rows, err := r.db.Query(ctx,
		"SELECT "+linkColumns+" FROM links WHERE owner_id = $1 ORDER BY created_at DESC", owner)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	links := make([]Link, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, mapRepoError(op, err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRepoError(op, err)
	}
	return links, nil
}

// UpdateOwned applies the patch only when the caller owns the link. The
// ownership predicate is part of the UPDATE itself, so there's no window
// between check and write.
func (r *repo) UpdateOwned(ctx context.Context, id uuid.UUID, owner uuid.UUID, patch LinkPatch) (Link, error) {
	const op = "shortener.repo.UpdateOwned"

	row := r.db.QueryRow(ctx, `
		UPDATE links SET
			original_url = COALESCE($3, original_url),
			expires_at = CASE
				WHEN $4 THEN NULL
				WHEN $5::timestamptz IS NOT NULL THEN $5
				ELSE expires_at
			END,
			updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+linkColumns,
		id, owner, patch.OriginalURL, patch.ClearExpiry, patch.ExpiresAt,
	)

	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, r.classifyMissing(ctx, op, id, err)
		}
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

// DeleteOwned removes the link and, via the foreign key cascade, its click
// events. Returns the deleted link so callers can invalidate cache entries.
func (r *repo) DeleteOwned(ctx context.Context, id uuid.UUID, owner uuid.UUID) (Link, error) {
	const op = "shortener.repo.DeleteOwned"

	row := r.db.QueryRow(ctx,
		"DELETE FROM links WHERE id = $1 AND owner_id = $2 RETURNING "+linkColumns, id, owner)

	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, r.classifyMissing(ctx, op, id, err)
		}
		return Link{}, mapRepoError(op, err)
	}
	return link, nil
}

// classifyMissing distinguishes Forbidden from NotFound after a conditional
// owned write matched nothing. The probe only picks the error kind; it is not
// part of the mutation.
func (r *repo) classifyMissing(ctx context.Context, op string, id uuid.UUID, cause error) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM links WHERE id = $1)", id).Scan(&exists); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if exists {
		return errx.E(op, errx.Forbidden, cause)
	}
	return errx.E(op, errx.NotFound, cause)
}

func (r *repo) InsertClick(ctx context.Context, event ClickEvent) (bool, error) {
	const op = "shortener.repo.InsertClick"

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, mapRepoError(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO click_events (id, short_key, occurred_at, ip_address, user_agent, referrer)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.ShortKey, event.OccurredAt,
		event.IPAddress, event.UserAgent, event.Referrer,
	)
	if err != nil {
		return false, mapRepoError(op, err)
	}

	// Replayed event: already persisted and counted.
	if tag.RowsAffected() == 0 {
		if err := tx.Commit(ctx); err != nil {
			return false, mapRepoError(op, err)
		}
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		"UPDATE links SET click_count = click_count + 1 WHERE short_key = $1",
		event.ShortKey); err != nil {
		return false, mapRepoError(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, mapRepoError(op, err)
	}
	return true, nil
}

func (r *repo) RecentClicks(ctx context.Context, key string, limit int) ([]ClickEvent, error) {
	const op = "shortener.repo.RecentClicks"

	rows, err := r.db.Query(ctx, `
		SELECT id, short_key, occurred_at, ip_address, user_agent, referrer
		FROM click_events
		WHERE short_key = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, key, limit)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	return collectClicks(op, rows)
}

func (r *repo) DailyClickCounts(ctx context.Context, key string, since time.Time) ([]DailyCount, error) {
	const op = "shortener.repo.DailyClickCounts"

	rows, err := r.db.Query(ctx, `
		SELECT date_trunc('day', occurred_at) AS day, count(*)::bigint
		FROM click_events
		WHERE short_key = $1 AND occurred_at >= $2
		GROUP BY day
		ORDER BY day`, key, since)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	counts := make([]DailyCount, 0)
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, mapRepoError(op, err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRepoError(op, err)
	}
	return counts, nil
}

func (r *repo) OwnerTotals(ctx context.Context, owner uuid.UUID) (int64, int64, error) {
	const op = "shortener.repo.OwnerTotals"

	var links, clicks int64
	err := r.db.QueryRow(ctx, `
		SELECT count(*)::bigint, COALESCE(sum(click_count), 0)::bigint
		FROM links WHERE owner_id = $1`, owner).Scan(&links, &clicks)
	if err != nil {
		return 0, 0, mapRepoError(op, err)
	}
	return links, clicks, nil
}

func (r *repo) RecentClicksByOwner(ctx context.Context, owner uuid.UUID, limit int) ([]ClickEvent, error) {
	const op = "shortener.repo.RecentClicksByOwner"

	rows, err := r.db.Query(ctx, `
		SELECT e.id, e.short_key, e.occurred_at, e.ip_address, e.user_agent, e.referrer
		FROM click_events e
		JOIN links l ON l.short_key = e.short_key
		WHERE l.owner_id = $1
		ORDER BY e.occurred_at DESC
		LIMIT $2`, owner, limit)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	return collectClicks(op, rows)
}

func collectClicks(op string, rows pgx.Rows) ([]ClickEvent, error) {
	events := make([]ClickEvent, 0)
	for rows.Next() {
		var e ClickEvent
		if err := rows.Scan(&e.ID, &e.ShortKey, &e.OccurredAt,
			&e.IPAddress, &e.UserAgent, &e.Referrer); err != nil {
			return nil, mapRepoError(op, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRepoError(op, err)
	}
	return events, nil
}
