package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/parameter"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	. "github.com/dogmatiq/mergedeploy/pipeline"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Pipeline", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		ds       *memory.DataStore
		led      *memory.Ledger
		params   *parameter.Memory
		repo     *persistence.Repository
		pipeline *Pipeline
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		ds = &memory.DataStore{}
		led = &memory.Ledger{}
		params = &parameter.Memory{}
		repo = &persistence.Repository{DataStore: ds}

		sig := &lock.LocalSignaler{}

		pipeline = &Pipeline{
			Repository: repo,
			Lock: &lock.Service{
				Ledger:       led,
				Signaler:     sig,
				PollStrategy: backoff.Constant(20 * time.Millisecond),
				Worker: &lock.Worker{
					Ledger:          led,
					Signaler:        sig,
					EmptyRetryDelay: time.Millisecond,
				},
			},
			Promoter: &Promoter{
				Repository: repo,
				Params:     params,
			},
			Functions: function.Set{
				Merge: function.MergerFunc(appendMerge),
			},
		}
	})

	AfterEach(func() {
		cancel()
	})

	run := func(id string) (persistence.Deployment, error) {
		return pipeline.Run(ctx, Request{
			ID:    id,
			Input: input(id),
		})
	}

	mustRun := func(id string) persistence.Deployment {
		d, err := run(id)
		Expect(err).ShouldNot(HaveOccurred())
		return d
	}

	// runAsync starts a run in a separate goroutine, and waits until the
	// deployment has joined the queue so that the order of runs is
	// deterministic.
	runAsync := func(id string) <-chan error {
		result := make(chan error, 1)

		go func() {
			defer GinkgoRecover()
			_, err := run(id)
			result <- err
		}()

		Eventually(func() (bool, error) {
			_, ok, err := led.Find(ctx, persistence.DefaultGroup, id)
			return ok, err
		}).Should(BeTrue())

		return result
	}

	finalPointer := func() (string, bool) {
		s, ok, err := repo.GetStagePointer(ctx, persistence.DefaultGroup, persistence.FinalStage)
		Expect(err).ShouldNot(HaveOccurred())
		return s.ManifestID, ok
	}

	loadManifest := func(id string) persistence.Manifest {
		m, ok, err := repo.GetManifest(ctx, id)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeTrue(), "manifest %s does not exist", id)
		return m
	}

	expectQueueEmpty := func() {
		tickets, err := led.Peek(ctx, persistence.DefaultGroup, 10, 0)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(tickets).To(BeEmpty())
	}

	When("the group is empty", func() {
		It("merges into the default manifest and promotes the result", func() {
			d := mustRun("<r1>")

			Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))
			Expect(d.Group).To(Equal(persistence.DefaultGroup))
			Expect(d.ParentManifestID).To(BeEmpty())

			m := loadManifest("<r1>")
			Expect(m.ParentID).To(BeEmpty())
			Expect(m.Group).To(Equal(persistence.DefaultGroup))
			Expect(m.Manifest).To(MatchJSON(`{"ids":["<r1>"]}`))

			id, ok := finalPointer()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal("<r1>"))

			v, ok, err := params.Get(ctx, "/mergedeploy/DEFAULT/FINAL")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("<r1>"))

			expectQueueEmpty()
		})

		It("uses the configured default manifest", func() {
			pipeline.DefaultManifest = []byte(`{"ids":["<seed>"]}`)

			mustRun("<r1>")

			m := loadManifest("<r1>")
			Expect(m.Manifest).To(MatchJSON(`{"ids":["<seed>","<r1>"]}`))
		})
	})

	When("a deployment is submitted while another is in progress", func() {
		It("waits for the first deployment and merges into its manifest", func() {
			entered := make(chan struct{})
			gate := make(chan struct{})

			pipeline.Functions.Merge = function.MergerFunc(
				func(ctx context.Context, req function.MergeRequest) (function.MergeResponse, error) {
					if requestID(req) == "<r1>" {
						close(entered)
						<-gate
					}
					return appendMerge(ctx, req)
				},
			)

			r1 := make(chan error, 1)
			go func() {
				_, err := run("<r1>")
				r1 <- err
			}()

			Eventually(entered).Should(BeClosed())

			r2 := runAsync("<r2>")

			Consistently(func() persistence.DeploymentStatus {
				d, _, _ := repo.GetDeployment(ctx, "<r2>")
				return d.Status
			}, 100*time.Millisecond).Should(Equal(persistence.DeploymentWaiting))

			close(gate)

			Eventually(r1).Should(Receive(BeNil()))
			Eventually(r2).Should(Receive(BeNil()))

			d, _, err := repo.GetDeployment(ctx, "<r2>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(d.ParentManifestID).To(Equal("<r1>"))

			m := loadManifest("<r2>")
			Expect(m.ParentID).To(Equal("<r1>"))
			Expect(m.Manifest).To(MatchJSON(`{"ids":["<r1>","<r2>"]}`))

			id, _ := finalPointer()
			Expect(id).To(Equal("<r2>"))
		})
	})

	When("many deployments are submitted concurrently", func() {
		It("processes them one at a time, in arrival order, with an unbroken parentage chain", func() {
			var (
				m      sync.Mutex
				order  []string
				active int32
				peak   int32
			)

			gate := make(chan struct{})

			pipeline.Functions.Merge = function.MergerFunc(
				func(ctx context.Context, req function.MergeRequest) (function.MergeResponse, error) {
					<-gate

					n := atomic.AddInt32(&active, 1)
					defer atomic.AddInt32(&active, -1)

					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}

					deployments, err := repo.ListDeployments(ctx, persistence.DefaultGroup, 0)
					if err != nil {
						return function.MergeResponse{}, err
					}

					inProgress := 0
					for _, d := range deployments {
						if d.Status == persistence.DeploymentInProgress {
							inProgress++
						}
					}
					if inProgress != 1 {
						return function.MergeResponse{}, errors.New("more than one deployment is in progress")
					}

					m.Lock()
					order = append(order, requestID(req))
					m.Unlock()

					return appendMerge(ctx, req)
				},
			)

			var (
				ids     []string
				results []<-chan error
			)

			for _, id := range []string{"<r0>", "<r1>", "<r2>", "<r3>", "<r4>", "<r5>"} {
				ids = append(ids, id)
				results = append(results, runAsync(id))
			}

			close(gate)

			for _, r := range results {
				Eventually(r).Should(Receive(BeNil()))
			}

			Expect(order).To(Equal(ids))
			Expect(atomic.LoadInt32(&peak)).To(BeEquivalentTo(1))

			for i, id := range ids {
				m := loadManifest(id)

				if i == 0 {
					Expect(m.ParentID).To(BeEmpty())
				} else {
					Expect(m.ParentID).To(Equal(ids[i-1]))
				}
			}

			expected, err := json.Marshal(history{IDs: ids})
			Expect(err).ShouldNot(HaveOccurred())

			id, _ := finalPointer()
			Expect(id).To(Equal(ids[len(ids)-1]))
			Expect(loadManifest(id).Manifest).To(MatchJSON(expected))

			expectQueueEmpty()
		})
	})

	It("only ever advances the stage pointers to newer manifests", func() {
		pipeline.Stages = []function.StageDefinition{{Name: "beta"}}

		var previous time.Time

		for _, id := range []string{"<r1>", "<r2>", "<r3>"} {
			mustRun(id)

			for _, stage := range []string{"beta", persistence.FinalStage} {
				s, ok, err := repo.GetStagePointer(ctx, persistence.DefaultGroup, stage)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(s.ManifestID).To(Equal(id))
			}

			created := loadManifest(id).Created
			Expect(created).To(BeTemporally(">=", previous))
			previous = created
		}
	})

	When("the validator rejects the merged manifest", func() {
		BeforeEach(func() {
			pipeline.Functions.Validate = function.ManifestValidatorFunc(
				func(_ context.Context, req function.ValidateManifestRequest) (function.ValidateResponse, error) {
					var h history
					json.Unmarshal(req.Updated, &h)

					if h.IDs[len(h.IDs)-1] == "<r1>" {
						return function.ValidateResponse{Valid: false, Errors: []string{"<invalid>"}}, nil
					}

					return function.ValidateResponse{Valid: true}, nil
				},
			)
		})

		It("fails the deployment without persisting a manifest, and releases the lock", func() {
			d, err := run("<r1>")

			var verr *ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(verr.Errors).To(Equal([]string{"<invalid>"}))

			Expect(d.Status).To(Equal(persistence.DeploymentFailed))
			Expect(d.Error).To(ContainSubstring("<invalid>"))

			_, ok, err := repo.GetManifest(ctx, "<r1>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, ok = finalPointer()
			Expect(ok).To(BeFalse())

			expectQueueEmpty()

			d = mustRun("<r2>")
			Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))
			Expect(d.ParentManifestID).To(BeEmpty())
		})
	})

	When("there are stages", func() {
		var calls []string

		BeforeEach(func() {
			calls = nil

			record := func(kind string) function.StageFunction {
				return function.StageFunc(func(_ context.Context, req function.StageRequest) error {
					calls = append(calls, kind+" "+req.Group+" "+req.Stage+" "+req.ManifestID)
					return nil
				})
			}

			pipeline.Stages = []function.StageDefinition{
				{Name: "alpha"},
				{Name: "beta", Prepare: record("prepare"), Test: record("test")},
			}
		})

		It("promotes the manifest through each stage, mirroring each pointer", func() {
			mustRun("<r1>")

			for _, stage := range []string{"alpha", "beta", persistence.FinalStage} {
				s, ok, err := repo.GetStagePointer(ctx, persistence.DefaultGroup, stage)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(s.ManifestID).To(Equal("<r1>"))

				v, ok, err := params.Get(ctx, parameter.Name("", persistence.DefaultGroup, stage))
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(v).To(Equal("<r1>"))
			}

			Expect(calls).To(Equal([]string{
				"prepare DEFAULT beta <r1>",
				"test DEFAULT beta <r1>",
			}))
		})

		It("retains partial progress and releases the lock if a stage function fails", func() {
			pipeline.Stages[1].Test = function.StageFunc(func(context.Context, function.StageRequest) error {
				return errors.New("<test failed>")
			})

			d, err := run("<r1>")
			Expect(err).To(MatchError(ContainSubstring("<test failed>")))
			Expect(d.Status).To(Equal(persistence.DeploymentFailed))

			s, ok, err := repo.GetStagePointer(ctx, persistence.DefaultGroup, "beta")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.ManifestID).To(Equal("<r1>"))

			loadManifest("<r1>")

			_, ok = finalPointer()
			Expect(ok).To(BeFalse())

			expectQueueEmpty()
		})
	})

	It("fails the deployment if the merge does not produce a manifest", func() {
		pipeline.Functions.Merge = function.MergerFunc(
			func(context.Context, function.MergeRequest) (function.MergeResponse, error) {
				return function.MergeResponse{Errors: []string{"<merge error>"}}, nil
			},
		)

		d, err := run("<r1>")

		var merr *MergeError
		Expect(errors.As(err, &merr)).To(BeTrue())
		Expect(merr.Errors).To(Equal([]string{"<merge error>"}))
		Expect(d.Status).To(Equal(persistence.DeploymentFailed))

		expectQueueEmpty()
	})

	It("fails the deployment if the merge function returns an error", func() {
		pipeline.Functions.Merge = function.MergerFunc(
			func(context.Context, function.MergeRequest) (function.MergeResponse, error) {
				return function.MergeResponse{}, errors.New("<unreachable>")
			},
		)

		d, err := run("<r1>")
		Expect(err).To(MatchError(ContainSubstring("<unreachable>")))
		Expect(d.Status).To(Equal(persistence.DeploymentFailed))
		Expect(d.Error).To(ContainSubstring("<unreachable>"))
	})

	It("does not fail the deployment if the hook fails", func() {
		var req function.ManifestHookRequest

		pipeline.Functions.Hook = function.ManifestHookFunc(
			func(_ context.Context, r function.ManifestHookRequest) error {
				req = r
				return errors.New("<hook failed>")
			},
		)

		d := mustRun("<r1>")
		Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))
		Expect(req.ManifestID).To(Equal("<r1>"))
		Expect(req.Manifest).To(MatchJSON(`{"ids":["<r1>"]}`))
	})

	It("returns an error if no merge function is configured", func() {
		pipeline.Functions.Merge = nil

		_, err := run("<r1>")
		Expect(err).To(MatchError("no merge function is configured"))
	})

	When("a deployment is resubmitted", func() {
		It("returns the existing deployment without running it again", func() {
			var count int32

			pipeline.Functions.Merge = function.MergerFunc(
				func(ctx context.Context, req function.MergeRequest) (function.MergeResponse, error) {
					atomic.AddInt32(&count, 1)
					return appendMerge(ctx, req)
				},
			)

			first := mustRun("<r1>")
			second := mustRun("<r1>")

			Expect(second).To(Equal(first))
			Expect(atomic.LoadInt32(&count)).To(BeEquivalentTo(1))
		})

		It("returns a *DuplicateExecutionError and retains the lock if another execution is in progress", func() {
			_, err := repo.CreateDeployment(ctx, persistence.Deployment{
				ID:     "<r1>",
				Group:  persistence.DefaultGroup,
				Input:  input("<r1>"),
				Status: persistence.DeploymentInProgress,
			})
			Expect(err).ShouldNot(HaveOccurred())

			d, err := run("<r1>")

			var dup *DuplicateExecutionError
			Expect(errors.As(err, &dup)).To(BeTrue())
			Expect(dup.Expected).To(Equal(persistence.DeploymentWaiting))
			Expect(dup.Actual).To(Equal(persistence.DeploymentInProgress))
			Expect(d.Status).To(Equal(persistence.DeploymentInProgress))

			_, ok, err := led.Find(ctx, persistence.DefaultGroup, "<r1>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("returns an error if the deployment belongs to another group", func() {
			mustRun("<r1>")

			_, err := pipeline.Run(ctx, Request{
				ID:    "<r1>",
				Group: "<other>",
				Input: input("<r1>"),
			})
			Expect(err).To(MatchError(ContainSubstring("already exists in group 'DEFAULT'")))
		})
	})

	When("the deployment is abandoned while waiting for admission", func() {
		It("fails the deployment and removes its ticket so that later deployments are admitted", func() {
			var once sync.Once
			gate := make(chan struct{})
			openGate := func() { once.Do(func() { close(gate) }) }
			defer openGate()

			pipeline.Functions.Merge = function.MergerFunc(
				func(ctx context.Context, req function.MergeRequest) (function.MergeResponse, error) {
					if requestID(req) == "<r1>" {
						<-gate
					}
					return appendMerge(ctx, req)
				},
			)

			r1 := runAsync("<r1>")

			waitCtx, cancelWait := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancelWait()

			d, err := pipeline.Run(waitCtx, Request{ID: "<r2>", Input: input("<r2>")})
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(d.Status).To(Equal(persistence.DeploymentFailed))

			_, ok, err := led.Find(ctx, persistence.DefaultGroup, "<r2>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			d = mustRun("<r2>")
			Expect(d.Status).To(Equal(persistence.DeploymentFailed))

			openGate()
			Eventually(r1).Should(Receive(BeNil()))

			d = mustRun("<r3>")
			Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))
			Expect(d.ParentManifestID).To(Equal("<r1>"))

			expectQueueEmpty()
		})

		It("returns the deployment as-is if another execution completed it", func() {
			pipeline.Lock = &removedTicketLock{
				Locker: pipeline.Lock,
				before: func(id string) {
					ok, err := repo.CompareAndSwapStatus(
						ctx,
						id,
						persistence.DeploymentSuccessful,
						persistence.DeploymentWaiting,
						"",
					)
					Expect(err).ShouldNot(HaveOccurred())
					Expect(ok).To(BeTrue())
				},
			}

			d, err := run("<r1>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))

			_, ok := finalPointer()
			Expect(ok).To(BeFalse())
		})

		It("fails the deployment if its ticket is evicted", func() {
			pipeline.Lock = &removedTicketLock{Locker: pipeline.Lock}

			d, err := run("<r1>")
			Expect(err).To(MatchError(lock.ErrTicketRemoved))
			Expect(d.Status).To(Equal(persistence.DeploymentFailed))
		})
	})

	It("combines lock release errors with the result", func() {
		pipeline.Lock = &unreleasableLock{Locker: pipeline.Lock}

		d, err := run("<r1>")

		var nh *lock.NotHeldError
		Expect(errors.As(err, &nh)).To(BeTrue())
		Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))
	})

	It("uses the pipeline's group when the request does not specify one", func() {
		pipeline.Group = "<group>"

		d := mustRun("<r1>")
		Expect(d.Group).To(Equal("<group>"))

		s, ok, err := repo.GetStagePointer(ctx, "<group>", persistence.FinalStage)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(s.ManifestID).To(Equal("<r1>"))
	})
})

// unreleasableLock is a lock that always fails to release.
type unreleasableLock struct {
	Locker
}

func (l *unreleasableLock) Release(_ context.Context, id, group string) error {
	return &lock.NotHeldError{ID: id, Group: group}
}

// removedTicketLock is a lock that reports that the deployment's ticket was
// removed while it waited for admission.
type removedTicketLock struct {
	Locker
	before func(id string)
}

func (l *removedTicketLock) Acquire(_ context.Context, id, _ string) error {
	if l.before != nil {
		l.before(id)
	}

	return lock.ErrTicketRemoved
}
