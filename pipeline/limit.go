package pipeline

import (
	"context"

	"github.com/dogmatiq/mergedeploy/semaphore"
)

// LimitConcurrency returns a stage that holds a slot of sem while the
// remaining stages run.
//
// A deployment waiting here is recorded as WAITING but has not yet joined its
// group's queue.
func LimitConcurrency(sem *semaphore.Semaphore) Stage {
	return func(ctx context.Context, sc *Scope, next Sink) error {
		return sem.Do(ctx, func(ctx context.Context) error {
			return next(ctx, sc)
		})
	}
}
