// Package ledgertest contains a behavioral test suite that is run against
// every ledger.Ledger implementation.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/mergedeploy/ledger"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// Out is a container for values that are provided by the
// implementation-specific "before" function.
type Out struct {
	// NewLedger returns a new, empty ledger, and a function that releases any
	// resources it uses.
	NewLedger func() (ledger.Ledger, func())

	// TestTimeout is the maximum duration allowed for each test.
	TestTimeout time.Duration
}

// DefaultTestTimeout is the default test timeout.
const DefaultTestTimeout = 3 * time.Second

// Declare declares generic behavioral tests for a specific ledger
// implementation.
func Declare(
	before func(context.Context) Out,
	after func(),
) {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		led      ledger.Ledger
		tearDown func()
	)

	ginkgo.Context("standard ledger test suite", func() {
		ginkgo.BeforeEach(func() {
			setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelSetup()

			out := before(setupCtx)

			if out.TestTimeout <= 0 {
				out.TestTimeout = DefaultTestTimeout
			}

			ctx, cancel = context.WithTimeout(context.Background(), out.TestTimeout)
			led, tearDown = out.NewLedger()
		})

		ginkgo.AfterEach(func() {
			if tearDown != nil {
				tearDown()
			}

			if after != nil {
				after()
			}

			cancel()
		})

		enqueue := func(part, key, token string) ledger.Ticket {
			t, err := led.Enqueue(ctx, part, key, token)
			gomega.ExpectWithOffset(1, err).ShouldNot(gomega.HaveOccurred())
			return t
		}

		peek := func(part string, n int, hold time.Duration) []ledger.Ticket {
			tickets, err := led.Peek(ctx, part, n, hold)
			gomega.ExpectWithOffset(1, err).ShouldNot(gomega.HaveOccurred())
			return tickets
		}

		keys := func(tickets []ledger.Ticket) []string {
			var result []string
			for _, t := range tickets {
				result = append(result, t.Key)
			}
			return result
		}

		ginkgo.Describe("func Enqueue()", func() {
			ginkgo.It("returns the new ticket", func() {
				t := enqueue("<group>", "<id-0>", "<token-0>")

				gomega.Expect(t.Partition).To(gomega.Equal("<group>"))
				gomega.Expect(t.Key).To(gomega.Equal("<id-0>"))
				gomega.Expect(t.Token).To(gomega.Equal("<token-0>"))
				gomega.Expect(t.Revision).To(gomega.BeNumerically(">", 0))
				gomega.Expect(t.EnqueuedAt).To(gomega.BeTemporally("~", time.Now(), time.Second))
			})

			ginkgo.It("assigns increasing sequence numbers", func() {
				t0 := enqueue("<group>", "<id-0>", "<token-0>")
				t1 := enqueue("<group>", "<id-1>", "<token-1>")

				gomega.Expect(t1.Sequence).To(gomega.BeNumerically(">", t0.Sequence))
			})

			ginkgo.It("returns the existing ticket if the key is already enqueued", func() {
				t0 := enqueue("<group>", "<id-0>", "<token-0>")
				t1 := enqueue("<group>", "<id-0>", "<token-1>")

				gomega.Expect(t1.Token).To(gomega.Equal("<token-0>"))
				gomega.Expect(t1.Sequence).To(gomega.Equal(t0.Sequence))
				gomega.Expect(keys(peek("<group>", 10, 0))).To(gomega.Equal([]string{"<id-0>"}))
			})

			ginkgo.It("enqueues a new ticket if the previous ticket with the same key was completed", func() {
				enqueue("<group>", "<id-0>", "<token-0>")

				held := peek("<group>", 1, 0)
				err := led.Complete(ctx, held[0])
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				t := enqueue("<group>", "<id-0>", "<token-1>")
				gomega.Expect(t.Token).To(gomega.Equal("<token-1>"))
			})

			ginkgo.It("deduplicates keys independently in each partition", func() {
				enqueue("<group-a>", "<id-0>", "<token-0>")
				t := enqueue("<group-b>", "<id-0>", "<token-1>")

				gomega.Expect(t.Token).To(gomega.Equal("<token-1>"))
			})
		})

		ginkgo.Describe("func Peek()", func() {
			ginkgo.It("returns nothing for an empty partition", func() {
				gomega.Expect(peek("<group>", 10, 0)).To(gomega.BeEmpty())
			})

			ginkgo.It("returns tickets in FIFO order", func() {
				enqueue("<group>", "<id-0>", "<token-0>")
				enqueue("<group>", "<id-1>", "<token-1>")
				enqueue("<group>", "<id-2>", "<token-2>")
				enqueue("<other-group>", "<id-3>", "<token-3>")

				gomega.Expect(keys(peek("<group>", 10, 0))).To(gomega.Equal(
					[]string{"<id-0>", "<id-1>", "<id-2>"},
				))
			})

			ginkgo.It("limits the number of tickets returned", func() {
				enqueue("<group>", "<id-0>", "<token-0>")
				enqueue("<group>", "<id-1>", "<token-1>")

				gomega.Expect(keys(peek("<group>", 1, 0))).To(gomega.Equal(
					[]string{"<id-0>"},
				))
			})

			ginkgo.It("never exposes a ticket ahead of a head that has already been observed", func() {
				const n = 20

				var g sync.WaitGroup
				g.Add(n)

				errs := make(chan error, n)

				for i := 0; i < n; i++ {
					key := fmt.Sprintf("<id-%d>", i)

					go func() {
						defer g.Done()
						_, err := led.Enqueue(ctx, "<group>", key, "<token-"+key+">")
						errs <- err
					}()
				}

				done := make(chan struct{})
				go func() {
					g.Wait()
					close(done)
				}()

				var (
					head     uint64
					observed bool
					finished bool
				)

				for !finished {
					select {
					case <-done:
						finished = true
					default:
					}

					tickets := peek("<group>", 1, 0)
					if len(tickets) == 0 {
						continue
					}

					if observed {
						gomega.Expect(tickets[0].Sequence).To(
							gomega.Equal(head),
							"a ticket became visible ahead of the observed head of the queue",
						)
					}

					head, observed = tickets[0].Sequence, true
				}

				for i := 0; i < n; i++ {
					gomega.Expect(<-errs).ShouldNot(gomega.HaveOccurred())
				}

				tickets := peek("<group>", n, 0)
				gomega.Expect(tickets).To(gomega.HaveLen(n))
				gomega.Expect(tickets[0].Sequence).To(gomega.Equal(head))

				for i := 1; i < n; i++ {
					gomega.Expect(tickets[i].Sequence).To(
						gomega.BeNumerically(">", tickets[i-1].Sequence),
					)
				}
			})

			ginkgo.It("does not modify the tickets if there is no hold", func() {
				t := enqueue("<group>", "<id-0>", "<token-0>")

				tickets := peek("<group>", 1, 0)
				gomega.Expect(tickets[0].Revision).To(gomega.Equal(t.Revision))

				// The ticket is still visible.
				gomega.Expect(peek("<group>", 1, 0)).To(gomega.HaveLen(1))
			})

			ginkgo.When("there is a hold", func() {
				ginkgo.It("increments the revision of the returned tickets", func() {
					t := enqueue("<group>", "<id-0>", "<token-0>")

					tickets := peek("<group>", 1, 10*time.Second)
					gomega.Expect(tickets[0].Revision).To(gomega.BeNumerically(">", t.Revision))
				})

				ginkgo.It("hides the returned tickets", func() {
					enqueue("<group>", "<id-0>", "<token-0>")
					enqueue("<group>", "<id-1>", "<token-1>")

					peek("<group>", 2, 10*time.Second)

					gomega.Expect(peek("<group>", 10, 0)).To(gomega.BeEmpty())
				})

				ginkgo.It("blocks delivery of later tickets while the oldest ticket is held", func() {
					enqueue("<group>", "<id-0>", "<token-0>")
					enqueue("<group>", "<id-1>", "<token-1>")

					peek("<group>", 1, 10*time.Second)

					gomega.Expect(peek("<group>", 10, 0)).To(gomega.BeEmpty())
				})

				ginkgo.It("makes the tickets visible again once the hold elapses", func() {
					enqueue("<group>", "<id-0>", "<token-0>")

					peek("<group>", 1, 100*time.Millisecond)

					gomega.Eventually(func() []string {
						return keys(peek("<group>", 10, 0))
					}).Should(gomega.Equal([]string{"<id-0>"}))
				})
			})
		})

		ginkgo.Describe("func Complete()", func() {
			ginkgo.It("removes the ticket", func() {
				enqueue("<group>", "<id-0>", "<token-0>")
				enqueue("<group>", "<id-1>", "<token-1>")

				held := peek("<group>", 1, 10*time.Second)

				err := led.Complete(ctx, held[0])
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, ok, err := led.Find(ctx, "<group>", "<id-0>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())

				gomega.Expect(keys(peek("<group>", 10, 0))).To(gomega.Equal(
					[]string{"<id-1>"},
				))
			})

			ginkgo.It("returns a conflict error if the revision is stale", func() {
				t := enqueue("<group>", "<id-0>", "<token-0>")
				peek("<group>", 1, 10*time.Second)

				err := led.Complete(ctx, t)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(ledger.ConflictError{}))

				_, ok, err := led.Find(ctx, "<group>", "<id-0>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
			})

			ginkgo.It("returns a conflict error if the ticket does not exist", func() {
				t := enqueue("<group>", "<id-0>", "<token-0>")

				err := led.Complete(ctx, t)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = led.Complete(ctx, t)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(ledger.ConflictError{}))
			})
		})

		ginkgo.Describe("func Reveal()", func() {
			ginkgo.It("makes a held ticket visible immediately", func() {
				enqueue("<group>", "<id-0>", "<token-0>")
				enqueue("<group>", "<id-1>", "<token-1>")

				held := peek("<group>", 2, 10*time.Second)

				for _, t := range held {
					err := led.Reveal(ctx, t)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				}

				gomega.Expect(keys(peek("<group>", 10, 0))).To(gomega.Equal(
					[]string{"<id-0>", "<id-1>"},
				))
			})

			ginkgo.It("returns a conflict error if the revision is stale", func() {
				t := enqueue("<group>", "<id-0>", "<token-0>")
				peek("<group>", 1, 10*time.Second)

				err := led.Reveal(ctx, t)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(ledger.ConflictError{}))
				gomega.Expect(peek("<group>", 10, 0)).To(gomega.BeEmpty())
			})
		})

		ginkgo.Describe("func Find()", func() {
			ginkgo.It("returns the live ticket", func() {
				t := enqueue("<group>", "<id-0>", "<token-0>")

				x, ok, err := led.Find(ctx, "<group>", "<id-0>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(x.Token).To(gomega.Equal(t.Token))
				gomega.Expect(x.Revision).To(gomega.Equal(t.Revision))
				gomega.Expect(x.Sequence).To(gomega.Equal(t.Sequence))
			})

			ginkgo.It("returns false if there is no such ticket", func() {
				_, ok, err := led.Find(ctx, "<group>", "<id-0>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})
	})
}
