// Package parameter defines the external parameter store that mirrors each
// stage pointer for consumption by systems outside of the engine.
package parameter

import (
	"context"
	"path"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// DefaultPrefix is the default prefix of parameter names.
const DefaultPrefix = "/mergedeploy"

// Store is a store of named string values.
type Store interface {
	// Put sets the value of a parameter, overwriting any existing value.
	Put(ctx context.Context, name, value string) error

	// Get returns the value of a parameter.
	//
	// ok is false if the parameter has never been set.
	Get(ctx context.Context, name string) (_ string, ok bool, _ error)
}

// Transactional is a Store that keeps its parameters in a persistence data
// store, such that parameter writes can be committed in the same batch as
// other operations.
type Transactional interface {
	Store

	// PutOperation returns an operation that sets the value of a parameter.
	//
	// ok is false if the store does not keep its parameters in ds, in which
	// case the operation must not be used.
	PutOperation(ds persistence.DataStore, name, value string) (_ persistence.Operation, ok bool)
}

// Name returns the name of the parameter that mirrors the stage pointer for
// the given group and stage.
//
// If prefix is empty, DefaultPrefix is used.
func Name(prefix, group, stage string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return path.Join(prefix, group, stage)
}
