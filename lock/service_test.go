package lock_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/mergedeploy/ledger"
	. "github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/metrics"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Service", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		led    *memory.Ledger
		sig    *LocalSignaler
		svc    *Service
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		led = &memory.Ledger{}
		sig = &LocalSignaler{}
		svc = &Service{
			Ledger:       led,
			Signaler:     sig,
			PollStrategy: backoff.Constant(25 * time.Millisecond),
			Worker: &Worker{
				Ledger:          led,
				Signaler:        sig,
				EmptyRetryDelay: time.Millisecond,
			},
			Metrics: metrics.New(nil),
		}
	})

	AfterEach(func() {
		cancel()
	})

	// acquireAsync starts acquiring the lock in a separate goroutine, and
	// waits until the ticket has been enqueued so that the order of calls is
	// deterministic.
	acquireAsync := func(id string) <-chan error {
		result := make(chan error, 1)

		go func() {
			result <- svc.Acquire(ctx, id, "<group>")
		}()

		Eventually(func() (bool, error) {
			_, ok, err := led.Find(ctx, "<group>", id)
			return ok, err
		}).Should(BeTrue())

		return result
	}

	Describe("func Acquire()", func() {
		It("admits the first waiter immediately", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("blocks subsequent waiters until the lock is released", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			b := acquireAsync("<id-b>")
			Consistently(b, 100*time.Millisecond).ShouldNot(Receive())

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(b).Should(Receive(BeNil()))
		})

		It("admits waiters in the order that they arrive", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			b := acquireAsync("<id-b>")
			c := acquireAsync("<id-c>")

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(b).Should(Receive(BeNil()))
			Consistently(c, 100*time.Millisecond).ShouldNot(Receive())

			err = svc.Release(ctx, "<id-b>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(c).Should(Receive(BeNil()))
		})

		It("does not block waiters in other groups", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group-1>")
			Expect(err).ShouldNot(HaveOccurred())

			err = svc.Acquire(ctx, "<id-b>", "<group-2>")
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("wakes the next waiter with a signal rather than by polling", func() {
			svc.PollStrategy = backoff.Constant(time.Hour)

			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			b := acquireAsync("<id-b>")

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(b).Should(Receive(BeNil()))
		})

		It("admits the next waiter by polling when there is no signaler", func() {
			svc.Signaler = nil
			svc.Worker.Signaler = nil

			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			b := acquireAsync("<id-b>")

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(b).Should(Receive(BeNil()))
		})

		It("enqueues a single ticket when the same ID acquires the lock more than once", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			err = svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			tickets, err := led.Peek(ctx, "<group>", 10, 0)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tickets).To(HaveLen(1))
		})

		It("admits every caller that shares a waiting ticket", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			first := acquireAsync("<id-b>")

			second := make(chan error, 1)
			go func() {
				second <- svc.Acquire(ctx, "<id-b>", "<group>")
			}()

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(first).Should(Receive(BeNil()))
			Eventually(second).Should(Receive(BeNil()))
		})

		It("returns ErrTicketRemoved if a shared ticket is released before the caller checks its position", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			svc.Ledger = &enqueueHookLedger{
				Ledger: led,
				after: func() {
					err := svc.Release(ctx, "<id-a>", "<group>")
					Expect(err).ShouldNot(HaveOccurred())
				},
			}

			err = svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).To(MatchError(ErrTicketRemoved))
			Expect(ctx.Err()).ShouldNot(HaveOccurred())

			_, ok, err := led.Find(ctx, "<group>", "<id-a>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("returns an error and leaves the ticket in place if ctx is canceled", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			waitCtx, cancelWait := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancelWait()

			err = svc.Acquire(waitCtx, "<id-b>", "<group>")
			Expect(err).To(MatchError(context.DeadlineExceeded))

			_, ok, err := led.Find(ctx, "<group>", "<id-b>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("func Release()", func() {
		It("returns a *NotHeldError if the ID has no ticket", func() {
			err := svc.Release(ctx, "<id-a>", "<group>")

			var nh *NotHeldError
			Expect(errors.As(err, &nh)).To(BeTrue())
			Expect(nh.ID).To(Equal("<id-a>"))
			Expect(nh.Group).To(Equal("<group>"))
		})

		It("returns a *NotHeldError if the lock has already been released", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			err = svc.Release(ctx, "<id-a>", "<group>")

			var nh *NotHeldError
			Expect(errors.As(err, &nh)).To(BeTrue())

			var conflict ledger.ConflictError
			Expect(errors.As(err, &conflict)).To(BeFalse())
		})

		It("returns a *NotHeldError that lists the head of the queue if the ID is further back", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			acquireAsync("<id-b>")
			acquireAsync("<id-c>")

			err = svc.Release(ctx, "<id-c>", "<group>")

			var nh *NotHeldError
			Expect(errors.As(err, &nh)).To(BeTrue())
			Expect(nh.Found).To(Equal([]string{"<id-a>", "<id-b>"}))
		})

		It("leaves the queue intact if the lock is not held", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			acquireAsync("<id-b>")
			acquireAsync("<id-c>")

			svc.Release(ctx, "<id-c>", "<group>")

			tickets, err := led.Peek(ctx, "<group>", 10, 0)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tickets).To(HaveLen(3))
		})
	})

	Describe("func Evict()", func() {
		It("wakes the next waiter when the holder is evicted", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			b := acquireAsync("<id-b>")

			err = svc.Evict(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(b).Should(Receive(BeNil()))
		})

		It("removes tickets from the middle of the queue", func() {
			err := svc.Acquire(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			b := acquireAsync("<id-b>")
			c := acquireAsync("<id-c>")

			err = svc.Evict(ctx, "<id-b>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(b).Should(Receive(MatchError(ErrTicketRemoved)))

			err = svc.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(c).Should(Receive(BeNil()))
		})

		It("returns ErrNotEnqueued if there is no ticket", func() {
			err := svc.Evict(ctx, "<id-a>", "<group>")
			Expect(err).To(MatchError(ErrNotEnqueued))
		})
	})
})

// enqueueHookLedger is a ledger that calls a function after the first
// successful enqueue.
type enqueueHookLedger struct {
	ledger.Ledger
	after func()
}

func (l *enqueueHookLedger) Enqueue(
	ctx context.Context,
	part, key, token string,
) (ledger.Ticket, error) {
	t, err := l.Ledger.Enqueue(ctx, part, key, token)
	if err == nil && l.after != nil {
		fn := l.after
		l.after = nil
		fn()
	}

	return t, err
}
