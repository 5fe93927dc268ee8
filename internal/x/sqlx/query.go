package sqlx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Get executes a single-row query on the given DB and scans the result into
// dest.
//
// It returns false if the query produced no rows.
func Get(
	ctx context.Context,
	db sqlx.ExtContext,
	dest any,
	query string,
	args ...any,
) bool {
	err := sqlx.GetContext(ctx, db, dest, db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}

	Must(err)

	return true
}

// Select executes a query on the given DB and scans each row into an element
// of the slice pointed to by dest.
func Select(
	ctx context.Context,
	db sqlx.ExtContext,
	dest any,
	query string,
	args ...any,
) {
	Must(sqlx.SelectContext(ctx, db, dest, db.Rebind(query), args...))
}
