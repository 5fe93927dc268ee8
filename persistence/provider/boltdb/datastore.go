// Package boltdb provides BoltDB-backed implementations of
// persistence.DataStore and ledger.Ledger.
package boltdb

import (
	"context"
	"sync"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	"github.com/dogmatiq/mergedeploy/persistence"
	"go.etcd.io/bbolt"
)

// DataStore is an implementation of persistence.DataStore that stores data in
// a BoltDB database.
type DataStore struct {
	// DB is the BoltDB database. It is not closed when the data-store is
	// closed.
	DB *bbolt.DB

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

	return bboltx.Update(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			c := &committer{tx: tx}
			bboltx.Must(b.AcceptVisitor(ctx, c))
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

// committer is an implementation of persitence.OperationVisitor that
// applies operations to the database.
//
// Any error returned by a visit method causes the transaction to be rolled
// back.
type committer struct {
	tx *bbolt.Tx
}
