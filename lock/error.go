package lock

import (
	"errors"
	"fmt"
	"strings"
)

// NotHeldError is returned when a lock is released by a deployment that does
// not hold it.
//
// It indicates a violation of the locking protocol. Ignoring it would corrupt
// the FIFO ordering of the group, so it must never be treated as success.
type NotHeldError struct {
	// ID is the ID of the deployment that attempted to release the lock.
	ID string

	// Group is the group of the lock.
	Group string

	// Found is the list of ticket keys that were found at the head of the
	// group's ledger partition.
	Found []string
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf(
		"deployment '%s' can not release the lock for group '%s' because it does not hold it (head of queue: [%s])",
		e.ID,
		e.Group,
		strings.Join(e.Found, ", "),
	)
}

// ErrNotEnqueued is returned by Service.Evict() when there is no ticket to
// evict.
var ErrNotEnqueued = errors.New("deployment is not waiting for or holding the lock")

// ErrTicketRemoved is returned by Service.Acquire() when the deployment's
// ticket is removed from the queue before the deployment is admitted.
//
// This happens when the ticket is evicted, or when another call that shares
// the same ticket releases the lock first.
var ErrTicketRemoved = errors.New("deployment's ticket was removed from the queue before it was admitted")
