package pipeline_test

import (
	"context"
	"time"

	. "github.com/dogmatiq/mergedeploy/pipeline"
	"github.com/dogmatiq/mergedeploy/semaphore"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Sequence", func() {
	It("calls each stage in order", func() {
		var calls []int

		stage := func(i int) Stage {
			return func(ctx context.Context, sc *Scope, next Sink) error {
				calls = append(calls, i)
				return next(ctx, sc)
			}
		}

		err := Sequence{stage(1), stage(2), Terminate()}.Accept(context.Background(), &Scope{})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(calls).To(Equal([]int{1, 2}))
	})

	It("panics if the end of the sequence is traversed", func() {
		Expect(func() {
			Sequence{}.Accept(context.Background(), &Scope{})
		}).To(Panic())
	})
})

var _ = Describe("func LimitConcurrency()", func() {
	It("holds the semaphore while the remaining stages run", func() {
		sem := semaphore.New(1)

		err := Sequence{
			LimitConcurrency(&sem),
			func(ctx context.Context, sc *Scope, next Sink) error {
				blocked, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
				defer cancel()

				Expect(sem.Acquire(blocked)).To(MatchError(context.DeadlineExceeded))
				return next(ctx, sc)
			},
			Terminate(),
		}.Accept(context.Background(), &Scope{})
		Expect(err).ShouldNot(HaveOccurred())

		Expect(sem.Acquire(context.Background())).To(Succeed())
	})
})
