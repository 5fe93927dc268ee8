package parameter

import (
	"context"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// DataStoreStore is a Store that keeps parameters in a persistence data store.
//
// It is transactional, so stage promotions commit the stage pointer and its
// parameter in a single batch.
type DataStoreStore struct {
	DataStore persistence.DataStore
}

var _ Transactional = (*DataStoreStore)(nil)

// Put sets the value of a parameter.
func (s *DataStoreStore) Put(ctx context.Context, name, value string) error {
	op, _ := s.PutOperation(s.DataStore, name, value)

	return s.DataStore.Persist(
		ctx,
		persistence.Batch{op},
	)
}

// Get returns the value of a parameter.
func (s *DataStoreStore) Get(ctx context.Context, name string) (string, bool, error) {
	return s.DataStore.LoadParameter(ctx, name)
}

// PutOperation returns an operation that sets the value of a parameter.
func (s *DataStoreStore) PutOperation(
	ds persistence.DataStore,
	name, value string,
) (persistence.Operation, bool) {
	op := persistence.SaveParameter{
		Parameter: persistence.Parameter{
			Name:  name,
			Value: value,
		},
	}

	return op, ds == s.DataStore
}
