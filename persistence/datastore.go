package persistence

import (
	"errors"
)

// ErrDataStoreClosed is returned when performing any persistence operation on a
// closed data-store.
var ErrDataStoreClosed = errors.New("data store is closed")

// DataStore is an interface used by the engine to persist and retrieve
// deployment state.
type DataStore interface {
	Persister
	DeploymentRepository
	ManifestRepository
	StageRepository
	ParameterRepository
	PromotionIntentRepository

	// Close closes the data store.
	//
	// Closing a data-store prevents any writes to the data-store. Specifically,
	// Persist() returns ErrDataStoreClosed once the data-store has been closed.
	//
	// The behavior of any other persistence operation on a closed data-store is
	// undefined.
	Close() error
}
