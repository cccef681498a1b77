package shortener

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func isShortKeyUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" &&
		pgErr.ConstraintName == "links_short_key_unique"
}

// isForeignKeyViolation catches click-event inserts whose link was deleted
// between resolve and persist. Not retryable.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503"
}
