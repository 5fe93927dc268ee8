// Package memory provides in-memory implementations of persistence.DataStore
// and ledger.Ledger.
//
// They are intended for testing and for single-process deployments that do not
// require durability.
package memory

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/syncx"
	"github.com/dogmatiq/mergedeploy/persistence"
)

// DataStore is an implementation of persistence.DataStore that stores data in
// memory.
//
// The zero-value is ready to use.
type DataStore struct {
	m      syncx.RWMutex
	closed bool

	deployment deploymentDatabase
	manifest   manifestDatabase
	stage      stageDatabase
}

var _ persistence.DataStore = (*DataStore)(nil)

// Persist commits a batch of operations atomically.
//
// If any one of the operations causes an optimistic concurrency conflict
// the entire batch is aborted and a ConflictError is returned.
func (ds *DataStore) Persist(ctx context.Context, b persistence.Batch) error {
	b.MustValidate()

	return ds.m.Do(ctx, func() error {
		if ds.closed {
			return persistence.ErrDataStoreClosed
		}

		v := &validator{ds: ds}
		if err := b.AcceptVisitor(ctx, v); err != nil {
			return err
		}

		c := &committer{ds: ds}
		return b.AcceptVisitor(ctx, c)
	})
}

// Close closes the data store.
//
// Closing a data-store causes any future calls to Persist() to return
// ErrDataStoreClosed. Data that has already been persisted remains readable.
func (ds *DataStore) Close() error {
	return ds.m.Do(context.Background(), func() error {
		if ds.closed {
			return persistence.ErrDataStoreClosed
		}

		ds.closed = true
		return nil
	})
}

// validator is an implementation of persistence.OperationVisitor that
// validates operations against the committed state of the data-store.
type validator struct {
	ds *DataStore

	// created is the set of deployments that are created earlier in the same
	// batch.
	created map[string]struct{}
}

// committer is an implementation of persistence.OperationVisitor that
// applies operations to the data-store.
//
// It is expected that the operations have already been validated using
// validator.
type committer struct {
	ds *DataStore
}
