// Package ledger defines an ordered, partitioned, deduplicating ticket channel
// that is used to implement FIFO locks.
package ledger

import (
	"context"
	"time"
)

// Ticket is a single waiter's entry in a partition of a ledger.
type Ticket struct {
	// Partition is the partition that the ticket belongs to.
	Partition string

	// Key is the deduplication key of the ticket. At most one live ticket
	// with a given key exists in each partition.
	Key string

	// Token identifies the waiter that enqueued the ticket. It is used to
	// signal the waiter when it should re-check its position.
	Token string

	// Sequence is the ticket's position in the ledger. It increases
	// monotonically within a partition.
	Sequence uint64

	// EnqueuedAt is the time at which the ticket was enqueued.
	EnqueuedAt time.Time

	// VisibleAt is the time at which the ticket becomes visible to Peek().
	VisibleAt time.Time

	// Revision is the ticket's revision. It is incremented each time the
	// ticket is held or revealed.
	Revision uint64
}

// Ledger is an ordered, partitioned, deduplicating ticket channel.
type Ledger interface {
	// Enqueue appends a ticket to the end of a partition.
	//
	// If a live ticket with the same key already exists in the partition it is
	// returned unchanged, including its original token.
	Enqueue(ctx context.Context, partition, key, token string) (Ticket, error)

	// Peek returns up to n of the oldest visible tickets in a partition, in
	// FIFO order, without removing them.
	//
	// Delivery is FIFO-blocking. If the oldest ticket in the partition is not
	// visible, no tickets are returned. No ticket that comes after an
	// invisible ticket is ever returned.
	//
	// If hold is positive, each of the returned tickets becomes invisible until
	// hold has elapsed, and its revision is incremented. The returned tickets
	// reflect the new revision.
	Peek(ctx context.Context, partition string, n int, hold time.Duration) ([]Ticket, error)

	// Complete removes a ticket from its partition.
	//
	// t.Revision must be the revision of the ticket as currently persisted,
	// otherwise a ConflictError is returned. Completing a ticket that does not
	// exist is also a conflict.
	Complete(ctx context.Context, t Ticket) error

	// Reveal makes a held ticket visible immediately.
	//
	// t.Revision must be the revision of the ticket as currently persisted,
	// otherwise a ConflictError is returned.
	Reveal(ctx context.Context, t Ticket) error

	// Find returns the live ticket with the given key in a partition.
	Find(ctx context.Context, partition, key string) (Ticket, bool, error)
}
