package sql

import (
	"context"
	"strconv"
	"sync"

	"github.com/dogmatiq/mergedeploy/internal/x/sqlx"
	"github.com/dogmatiq/mergedeploy/persistence"
	jsqlx "github.com/jmoiron/sqlx"
)

// DataStore is an implementation of persistence.DataStore that stores data in
// an SQL database.
//
// The database schema must be up to date, see Open() and Migrate().
type DataStore struct {
	// DB is the SQL database. It is not closed when the data-store is closed.
	DB *jsqlx.DB

	m      sync.RWMutex
	closed bool
}

var _ persistence.DataStore = (*DataStore)(nil)

// Persist commits a batch of operations atomically.
//
// If any one of the operations causes an optimistic concurrency conflict
// the entire batch is aborted and a ConflictError is returned.
func (ds *DataStore) Persist(
	ctx context.Context,
	b persistence.Batch,
) error {
	b.MustValidate()

	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.closed {
		return persistence.ErrDataStoreClosed
	}

	return sqlx.Update(
		ctx,
		ds.DB,
		func(tx *jsqlx.Tx) {
			c := &committer{tx: tx}
			sqlx.Must(b.AcceptVisitor(ctx, c))
		},
	)
}

// Close closes the data store.
//
// Closing a data-store causes any future calls to Persist() to return
// ErrDataStoreClosed.
func (ds *DataStore) Close() error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.closed {
		return persistence.ErrDataStoreClosed
	}

	ds.closed = true

	return nil
}

// view executes fn, converting panics raised by the sqlx helpers into errors.
func (ds *DataStore) view(fn func()) (err error) {
	defer sqlx.Recover(&err)
	fn()
	return nil
}

// committer is an implementation of persitence.OperationVisitor that
// applies operations to the database within a transaction.
type committer struct {
	tx *jsqlx.Tx
}

// limitClause returns a LIMIT clause for n, or an empty string if n is
// non-positive.
func limitClause(n int) string {
	if n <= 0 {
		return ""
	}

	return " LIMIT " + strconv.Itoa(n)
}
