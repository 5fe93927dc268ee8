package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Exec executes a statement on the given DB.
//
// The query is rebound to the placeholder style of db's driver.
func Exec(
	ctx context.Context,
	db sqlx.ExtContext,
	query string,
	args ...any,
) sql.Result {
	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	Must(err)
	return res
}

// TryExec executes a statement on the given DB and returns the number of rows
// that were affected.
func TryExec(
	ctx context.Context,
	db sqlx.ExtContext,
	query string,
	args ...any,
) int64 {
	res := Exec(ctx, db, query, args...)

	n, err := res.RowsAffected()
	Must(err)

	return n
}
