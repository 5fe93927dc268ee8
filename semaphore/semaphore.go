// Package semaphore bounds the number of deployment pipelines that execute
// at the same time within one process.
package semaphore

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore is a counting semaphore. The zero value imposes no limit.
type Semaphore struct {
	limit int
	w     *semaphore.Weighted
}

// New returns a semaphore that admits up to n holders at a time.
//
// If n is zero there is no limit. It panics if n is negative.
func New(n int) Semaphore {
	if n < 0 {
		panic("semaphore limit must not be negative")
	}

	if n == 0 {
		return Semaphore{}
	}

	return Semaphore{n, semaphore.NewWeighted(int64(n))}
}

// Limit returns the maximum number of holders, or 0 if there is no limit.
func (s *Semaphore) Limit() int {
	return s.limit
}

// Acquire blocks until a slot is free or ctx is canceled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.w == nil {
		return ctx.Err()
	}

	return s.w.Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (s *Semaphore) Release() {
	if s.w != nil {
		s.w.Release(1)
	}
}

// Do calls fn while holding a slot.
func (s *Semaphore) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()

	return fn(ctx)
}
