package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/mergedeploy/internal/mlog"
	"github.com/dogmatiq/mergedeploy/ledger"
	"go.uber.org/zap"
)

var (
	// DefaultConcurrency is the default number of deployments admitted to a
	// group at once.
	DefaultConcurrency = 1

	// DefaultEmptyRetries is the default number of times the head of a
	// partition is re-read when no tickets are visible.
	DefaultEmptyRetries = 1

	// DefaultEmptyRetryDelay is the default delay between re-reads of an empty
	// partition.
	DefaultEmptyRetryDelay = 500 * time.Millisecond

	// DefaultHold is the default duration for which the tickets read by a
	// release are hidden from other readers.
	DefaultHold = 10 * time.Second
)

// Worker decides whether a deployment holds a group's lock, and advances the
// group's queue when the lock is released.
type Worker struct {
	// Ledger is the ledger that contains the tickets.
	Ledger ledger.Ledger

	// Signaler is used to wake the waiters that are next in line. If it is
	// nil, waiters only discover their admission by polling.
	Signaler Signaler

	// Concurrency is the number of tickets at the head of the partition that
	// are admitted. If it is non-positive, DefaultConcurrency is used.
	Concurrency int

	// EmptyRetries is the number of times an empty read is retried before it
	// is accepted. If it is zero, DefaultEmptyRetries is used. If it is
	// negative, empty reads are never retried.
	EmptyRetries int

	// EmptyRetryDelay is the delay between retries of an empty read. If it is
	// non-positive, DefaultEmptyRetryDelay is used.
	EmptyRetryDelay time.Duration

	// Hold is the duration for which the tickets read by Release() are
	// hidden. If it is non-positive, DefaultHold is used.
	Hold time.Duration

	// Logger is the target for log messages. If it is nil, no logging is
	// performed.
	Logger *zap.Logger
}

// CheckHead returns true if the ticket for the deployment with the given ID
// is at the head of the group's queue.
//
// It returns ErrTicketRemoved if the deployment has no ticket at all.
func (w *Worker) CheckHead(ctx context.Context, id, group string) (bool, error) {
	tickets, err := w.peek(ctx, group, w.concurrency(), 0)
	if err != nil {
		return false, err
	}

	for _, t := range tickets {
		if t.Key == id {
			return true, nil
		}
	}

	// Held tickets are not visible to peek, so only Find can distinguish a
	// ticket that is further back from one that no longer exists.
	_, ok, err := w.Ledger.Find(ctx, group, id)
	if err != nil {
		return false, fmt.Errorf("unable to find ticket: %w", err)
	}

	if !ok {
		return false, ErrTicketRemoved
	}

	return false, nil
}

// Release removes the ticket for the deployment with the given ID, then wakes
// the waiters that are next in line.
//
// It returns a *NotHeldError if the deployment's ticket is not at the head of
// the group's queue.
func (w *Worker) Release(ctx context.Context, id, group string) error {
	tickets, err := w.peek(ctx, group, w.concurrency()+1, w.hold())
	if err != nil {
		return err
	}

	var (
		self   *ledger.Ticket
		others []ledger.Ticket
		found  []string
	)

	for i, t := range tickets {
		found = append(found, t.Key)

		if t.Key == id {
			self = &tickets[i]
		} else {
			others = append(others, t)
		}
	}

	if self == nil {
		w.wake(ctx, others)

		return &NotHeldError{
			ID:    id,
			Group: group,
			Found: found,
		}
	}

	if err := w.Ledger.Complete(ctx, *self); err != nil {
		w.wake(ctx, others)
		return fmt.Errorf("unable to remove ticket: %w", err)
	}

	w.wake(ctx, others)

	return nil
}

// peek reads the head of a partition, retrying if it is empty.
func (w *Worker) peek(
	ctx context.Context,
	group string,
	n int,
	hold time.Duration,
) ([]ledger.Ticket, error) {
	retries := w.EmptyRetries
	if retries == 0 {
		retries = DefaultEmptyRetries
	}

	for {
		tickets, err := w.Ledger.Peek(ctx, group, n, hold)
		if err != nil {
			return nil, fmt.Errorf("unable to read queue head: %w", err)
		}

		if len(tickets) > 0 || retries <= 0 {
			return tickets, nil
		}

		retries--

		if err := linger.Sleep(ctx, w.EmptyRetryDelay, DefaultEmptyRetryDelay); err != nil {
			return nil, err
		}
	}
}

// wake makes the given tickets visible and signals their waiters.
//
// Failures are logged but otherwise ignored, as the waiters eventually poll.
func (w *Worker) wake(ctx context.Context, tickets []ledger.Ticket) {
	for _, t := range tickets {
		if err := w.Ledger.Reveal(ctx, t); err != nil {
			w.logger().Warn(
				"unable to reveal ticket",
				mlog.DeploymentID(t.Key),
				mlog.Group(t.Partition),
				zap.Error(err),
			)
		}

		if w.Signaler == nil {
			continue
		}

		if err := w.Signaler.Signal(ctx, t.Token); err != nil {
			w.logger().Warn(
				"unable to signal waiter",
				mlog.DeploymentID(t.Key),
				mlog.Group(t.Partition),
				mlog.TicketToken(t.Token),
				zap.Error(err),
			)
		}
	}
}

func (w *Worker) concurrency() int {
	if w.Concurrency > 0 {
		return w.Concurrency
	}

	return DefaultConcurrency
}

func (w *Worker) hold() time.Duration {
	if w.Hold > 0 {
		return w.Hold
	}

	return DefaultHold
}

func (w *Worker) logger() *zap.Logger {
	if w.Logger != nil {
		return w.Logger
	}

	return zap.NewNop()
}
