package sqlx

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Update executes fn within a read-write transaction.
//
// The transaction is committed if fn returns normally. Panics raised by the
// helpers in this package are converted back into errors, and cause the
// transaction to be rolled back.
func Update(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx)) (err error) {
	defer Recover(&err)

	tx, err := db.BeginTxx(ctx, nil)
	Must(err)
	defer tx.Rollback() // nolint:errcheck

	fn(tx)

	return tx.Commit()
}
