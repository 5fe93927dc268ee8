package persistence

import (
	"fmt"
)

// ConflictError is returned when an operation within a batch conflicts with
// the stored state, such as creating a record that already exists or
// updating a deployment whose status has already changed.
//
// The entire batch is rejected.
type ConflictError struct {
	// Cause is the operation that conflicted.
	Cause Operation
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"%T operation on %s conflicts with the stored state",
		e.Cause,
		e.Cause.entityKey(),
	)
}

// NotFoundError is returned when an operation within a batch modifies a
// record that does not exist.
//
// The entire batch is rejected.
type NotFoundError struct {
	// Cause is the operation that referred to the missing record.
	Cause Operation
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf(
		"%T operation on %s refers to a missing record",
		e.Cause,
		e.Cause.entityKey(),
	)
}
