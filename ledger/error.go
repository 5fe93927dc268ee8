package ledger

import "fmt"

// ConflictError is returned when a ticket operation is performed with a stale
// revision, or against a ticket that no longer exists.
type ConflictError struct {
	// Operation is the name of the operation that caused the conflict.
	Operation string

	// Ticket is the ticket as supplied to the operation.
	Ticket Ticket
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"optimistic concurrency conflict in %s operation on ticket '%s' in partition '%s'",
		e.Operation,
		e.Ticket.Key,
		e.Ticket.Partition,
	)
}
