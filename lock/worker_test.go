package lock_test

import (
	"context"
	"time"

	. "github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Worker", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		led    *memory.Ledger
		sig    *LocalSignaler
		worker *Worker
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		led = &memory.Ledger{}
		sig = &LocalSignaler{}
		worker = &Worker{
			Ledger:          led,
			Signaler:        sig,
			EmptyRetryDelay: time.Millisecond,
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func CheckHead()", func() {
		It("returns true only for the ticket at the head of the queue", func() {
			_, err := led.Enqueue(ctx, "<group>", "<id-a>", "<token-a>")
			Expect(err).ShouldNot(HaveOccurred())

			_, err = led.Enqueue(ctx, "<group>", "<id-b>", "<token-b>")
			Expect(err).ShouldNot(HaveOccurred())

			ok, err := worker.CheckHead(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = worker.CheckHead(ctx, "<id-b>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("retries before reporting false when no tickets are visible", func() {
			worker.EmptyRetryDelay = 50 * time.Millisecond

			_, err := led.Enqueue(ctx, "<group>", "<id-a>", "<token-a>")
			Expect(err).ShouldNot(HaveOccurred())

			_, err = led.Peek(ctx, "<group>", 1, time.Minute)
			Expect(err).ShouldNot(HaveOccurred())

			start := time.Now()
			ok, err := worker.CheckHead(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(time.Since(start)).To(BeNumerically(">=", 50*time.Millisecond))
		})

		It("does not retry if retries are disabled", func() {
			worker.EmptyRetries = -1
			worker.EmptyRetryDelay = time.Hour

			_, err := led.Enqueue(ctx, "<group>", "<id-a>", "<token-a>")
			Expect(err).ShouldNot(HaveOccurred())

			_, err = led.Peek(ctx, "<group>", 1, time.Minute)
			Expect(err).ShouldNot(HaveOccurred())

			ok, err := worker.CheckHead(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("returns ErrTicketRemoved if the deployment has no ticket", func() {
			_, err := led.Enqueue(ctx, "<group>", "<id-b>", "<token-b>")
			Expect(err).ShouldNot(HaveOccurred())

			ok, err := worker.CheckHead(ctx, "<id-a>", "<group>")
			Expect(err).To(MatchError(ErrTicketRemoved))
			Expect(ok).To(BeFalse())
		})

		It("returns ErrTicketRemoved if the ticket is removed by a release", func() {
			_, err := led.Enqueue(ctx, "<group>", "<id-a>", "<token-a>")
			Expect(err).ShouldNot(HaveOccurred())

			err = worker.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			_, err = worker.CheckHead(ctx, "<id-a>", "<group>")
			Expect(err).To(MatchError(ErrTicketRemoved))
		})

		It("does not hold the tickets that it reads", func() {
			t, err := led.Enqueue(ctx, "<group>", "<id-a>", "<token-a>")
			Expect(err).ShouldNot(HaveOccurred())

			_, err = worker.CheckHead(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			x, _, err := led.Find(ctx, "<group>", "<id-a>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(x.Revision).To(Equal(t.Revision))
		})
	})

	Describe("func Release()", func() {
		It("removes the ticket and reveals and signals the next ticket", func() {
			_, err := led.Enqueue(ctx, "<group>", "<id-a>", "<token-a>")
			Expect(err).ShouldNot(HaveOccurred())

			_, err = led.Enqueue(ctx, "<group>", "<id-b>", "<token-b>")
			Expect(err).ShouldNot(HaveOccurred())

			l, err := sig.Listen(ctx, "<token-b>")
			Expect(err).ShouldNot(HaveOccurred())
			defer l.Close()

			err = worker.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Eventually(l.Signaled()).Should(Receive())

			tickets, err := led.Peek(ctx, "<group>", 10, 0)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tickets).To(HaveLen(1))
			Expect(tickets[0].Key).To(Equal("<id-b>"))
		})

		It("does not signal tickets outside of the release window", func() {
			for _, id := range []string{"<id-a>", "<id-b>", "<id-c>"} {
				_, err := led.Enqueue(ctx, "<group>", id, "<token"+id+">")
				Expect(err).ShouldNot(HaveOccurred())
			}

			l, err := sig.Listen(ctx, "<token<id-c>>")
			Expect(err).ShouldNot(HaveOccurred())
			defer l.Close()

			err = worker.Release(ctx, "<id-a>", "<group>")
			Expect(err).ShouldNot(HaveOccurred())

			Consistently(l.Signaled(), 50*time.Millisecond).ShouldNot(Receive())
		})
	})
})
