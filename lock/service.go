// Package lock implements a FIFO mutual-exclusion lock per deployment group,
// built on a durable ledger of tickets plus a poll and notify protocol.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/mergedeploy/internal/mlog"
	"github.com/dogmatiq/mergedeploy/ledger"
	"github.com/dogmatiq/mergedeploy/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPollStrategy is the default strategy used to determine how long a
// waiter waits for a signal before it re-checks its position in the queue.
var DefaultPollStrategy backoff.Strategy = backoff.Constant(30 * time.Second)

// Service is a FIFO lock that admits one deployment at a time per group.
type Service struct {
	// Ledger is the ledger that contains the tickets.
	Ledger ledger.Ledger

	// Signaler is used to listen for "proceed" signals. If it is nil, waiters
	// only discover their admission by polling.
	Signaler Signaler

	// PollStrategy determines the delay between checks of the queue while
	// waiting for admission. If it is nil, DefaultPollStrategy is used.
	PollStrategy backoff.Strategy

	// Worker performs the queue operations. If it is nil, a worker that uses
	// Ledger, Signaler and Logger with default settings is used.
	Worker *Worker

	// Logger is the target for log messages. If it is nil, no logging is
	// performed.
	Logger *zap.Logger

	// Metrics records lock wait times. It may be nil.
	Metrics *metrics.Metrics

	once          sync.Once
	defaultWorker *Worker
}

// admissionState is a state within the admission state machine run by
// Acquire().
type admissionState int

const (
	stateEnqueue admissionState = iota
	stateCheckHead
	stateWaitingForAdmission
	stateAdmitted
)

// Acquire blocks until the deployment with the given ID holds the lock for
// group, or ctx is canceled.
//
// Acquiring the lock multiple times with the same ID is idempotent, each call
// shares the same ticket. A canceled call leaves its ticket in the queue, it
// must be removed with Release() or Evict().
//
// It returns ErrTicketRemoved if the ticket is removed while the caller is
// waiting, either by Evict() or by a Release() from another caller that
// shares the ticket.
func (s *Service) Acquire(ctx context.Context, id, group string) error {
	var (
		start    = time.Now()
		state    = stateEnqueue
		listener Listener
		polls    uint
	)

	defer func() {
		if listener != nil {
			listener.Close()
		}
	}()

	logger := s.logger().With(mlog.Deployment(id, group)...)

	for {
		switch state {
		case stateEnqueue:
			l, err := s.enqueue(ctx, logger, id, group)
			if err != nil {
				return err
			}

			listener = l
			state = stateCheckHead

		case stateCheckHead:
			ok, err := s.worker().CheckHead(ctx, id, group)
			if errors.Is(err, ErrTicketRemoved) {
				logger.Debug("ticket removed while waiting", zap.Uint("polls", polls))
			}
			if err != nil {
				return err
			}

			if ok {
				state = stateAdmitted
			} else {
				state = stateWaitingForAdmission
			}

		case stateWaitingForAdmission:
			if err := s.wait(ctx, listener, polls); err != nil {
				return err
			}

			polls++
			state = stateCheckHead

		case stateAdmitted:
			wait := time.Since(start)
			s.Metrics.ObserveLockWait(group, wait)

			logger.Debug(
				"lock acquired",
				zap.Duration("wait", wait),
				zap.Uint("polls", polls),
			)

			return nil
		}
	}
}

// Release releases the lock held by the deployment with the given ID, and
// wakes the next waiter.
//
// It returns a *NotHeldError if the deployment does not hold the lock.
func (s *Service) Release(ctx context.Context, id, group string) error {
	if err := s.worker().Release(ctx, id, group); err != nil {
		return err
	}

	s.logger().Debug("lock released", mlog.Deployment(id, group)...)

	return nil
}

// Evict removes the ticket for the deployment with the given ID, regardless
// of its position in the queue.
//
// It is an administrative operation used to recover a group that is starved
// by an abandoned deployment. It returns ErrNotEnqueued if there is no such
// ticket.
func (s *Service) Evict(ctx context.Context, id, group string) error {
	const attempts = 3

	for i := 0; ; i++ {
		t, ok, err := s.Ledger.Find(ctx, group, id)
		if err != nil {
			return fmt.Errorf("unable to find ticket: %w", err)
		}

		if !ok {
			return fmt.Errorf("unable to evict '%s' from group '%s': %w", id, group, ErrNotEnqueued)
		}

		err = s.Ledger.Complete(ctx, t)
		if err == nil {
			break
		}

		var conflict ledger.ConflictError
		if !errors.As(err, &conflict) || i == attempts-1 {
			return fmt.Errorf("unable to remove ticket: %w", err)
		}
	}

	s.logger().Info("ticket evicted", mlog.Deployment(id, group)...)

	return s.signalHead(ctx, group)
}

// enqueue adds the deployment's ticket to the queue and starts listening for
// signals.
func (s *Service) enqueue(
	ctx context.Context,
	logger *zap.Logger,
	id, group string,
) (Listener, error) {
	token := uuid.NewString()

	l, err := s.listen(ctx, token)
	if err != nil {
		return nil, err
	}

	t, err := s.Ledger.Enqueue(ctx, group, id, token)
	if err != nil {
		closeListener(l)
		return nil, fmt.Errorf("unable to enqueue ticket: %w", err)
	}

	if t.Token == token {
		logger.Debug(
			"ticket enqueued",
			mlog.TicketToken(token),
			zap.Uint64("sequence", t.Sequence),
		)

		return l, nil
	}

	// There is already a ticket for this ID, so signals are delivered to the
	// token of the original enqueue.
	closeListener(l)

	logger.Debug(
		"sharing existing ticket",
		mlog.TicketToken(t.Token),
		zap.Uint64("sequence", t.Sequence),
	)

	return s.listen(ctx, t.Token)
}

// wait blocks until a signal is received or the poll delay elapses.
func (s *Service) wait(ctx context.Context, l Listener, polls uint) error {
	strategy := s.PollStrategy
	if strategy == nil {
		strategy = DefaultPollStrategy
	}

	var signaled <-chan struct{}
	if l != nil {
		signaled = l.Signaled()
	}

	timer := time.NewTimer(strategy(nil, polls))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-signaled:
		return nil
	case <-timer.C:
		return nil
	}
}

// signalHead signals the waiters at the head of a group's queue.
func (s *Service) signalHead(ctx context.Context, group string) error {
	if s.Signaler == nil {
		return nil
	}

	tickets, err := s.Ledger.Peek(ctx, group, s.worker().concurrency(), 0)
	if err != nil {
		return fmt.Errorf("unable to read queue head: %w", err)
	}

	for _, t := range tickets {
		if err := s.Signaler.Signal(ctx, t.Token); err != nil {
			return fmt.Errorf("unable to signal waiter: %w", err)
		}
	}

	return nil
}

func (s *Service) listen(ctx context.Context, token string) (Listener, error) {
	if s.Signaler == nil {
		return nil, nil
	}

	l, err := s.Signaler.Listen(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("unable to listen for signals: %w", err)
	}

	return l, nil
}

func (s *Service) worker() *Worker {
	if s.Worker != nil {
		return s.Worker
	}

	s.once.Do(func() {
		s.defaultWorker = &Worker{
			Ledger:   s.Ledger,
			Signaler: s.Signaler,
			Logger:   s.Logger,
		}
	})

	return s.defaultWorker
}

func (s *Service) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}

	return zap.NewNop()
}

func closeListener(l Listener) {
	if l != nil {
		l.Close()
	}
}
