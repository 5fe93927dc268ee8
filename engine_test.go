package mergedeploy_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/dogmatiq/linger/backoff"
	. "github.com/dogmatiq/mergedeploy"
	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/parameter"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
)

// counter is the manifest produced by countMerge.
type counter struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// countMerge is a merge function that counts the deployments merged into the
// manifest, and records the ID in each deployment's input.
func countMerge(_ context.Context, req function.MergeRequest) (function.MergeResponse, error) {
	var c counter
	if err := json.Unmarshal(req.Manifest, &c); err != nil {
		return function.MergeResponse{}, err
	}

	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Request, &in); err != nil {
		return function.MergeResponse{}, err
	}

	c.Count++
	c.IDs = append(c.IDs, in.ID)

	data, err := json.Marshal(c)
	return function.MergeResponse{Manifest: data}, err
}

var _ = Describe("type Engine", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		ds     *memory.DataStore
		engine *Engine
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		ds = &memory.DataStore{}

		engine = New(
			WithPersistence(ds),
			WithMerger(function.MergerFunc(countMerge)),
			WithStage(function.StageDefinition{Name: "<stage>"}),
			WithGroup("<group>"),
			WithGroup("<other>"),
			WithPollStrategy(backoff.Constant(25*time.Millisecond)),
			WithMetrics(prometheus.NewRegistry()),
		)
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Submit()", func() {
		It("runs the deployment to completion in the first group", func() {
			d, err := engine.Submit(ctx, []byte(`{"id": "<input>"}`))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(d.ID).NotTo(BeEmpty())
			Expect(d.Group).To(Equal("<group>"))
			Expect(d.Status).To(Equal(persistence.DeploymentSuccessful))

			m, ok, err := engine.Repository().GetManifest(ctx, d.ID)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(m.Manifest).To(MatchJSON(`{"count": 1, "ids": ["<input>"]}`))
		})

		It("promotes the manifest through every stage and mirrors the pointers", func() {
			d, err := engine.Submit(ctx, []byte(`{"id": "<input>"}`))
			Expect(err).ShouldNot(HaveOccurred())

			for _, name := range engine.Stages() {
				s, ok, err := engine.Repository().GetStagePointer(ctx, "<group>", name)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(s.ManifestID).To(Equal(d.ID))

				v, ok, err := ds.LoadParameter(
					ctx,
					parameter.Name(DefaultParameterPrefix, "<group>", name),
				)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(v).To(Equal(d.ID))
			}
		})

		It("applies concurrent submissions one at a time", func() {
			const n = 10

			var g sync.WaitGroup
			g.Add(n)

			for i := 0; i < n; i++ {
				go func() {
					defer GinkgoRecover()
					defer g.Done()

					_, err := engine.Submit(ctx, []byte(`{}`))
					Expect(err).ShouldNot(HaveOccurred())
				}()
			}

			g.Wait()

			final, ok, err := engine.Repository().GetStagePointer(ctx, "<group>", persistence.FinalStage)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			m, _, err := engine.Repository().GetManifest(ctx, final.ManifestID)
			Expect(err).ShouldNot(HaveOccurred())

			var c counter
			Expect(json.Unmarshal(m.Manifest, &c)).To(Succeed())
			Expect(c.Count).To(Equal(n))

			// Walk the parentage chain back to the first manifest.
			depth := 1
			for m.ParentID != "" {
				m, ok, err = engine.Repository().GetManifest(ctx, m.ParentID)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(ok).To(BeTrue())
				depth++
			}
			Expect(depth).To(Equal(n))
		})
	})

	Describe("func SubmitRequest()", func() {
		It("uses the ID and group of the request", func() {
			d, err := engine.SubmitRequest(ctx, Request{
				ID:    "<id>",
				Group: "<other>",
				Input: []byte(`{}`),
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(d.ID).To(Equal("<id>"))
			Expect(d.Group).To(Equal("<other>"))
		})

		It("keeps groups independent", func() {
			_, err := engine.SubmitRequest(ctx, Request{ID: "<id-1>", Group: "<group>", Input: []byte(`{}`)})
			Expect(err).ShouldNot(HaveOccurred())

			_, err = engine.SubmitRequest(ctx, Request{ID: "<id-2>", Group: "<other>", Input: []byte(`{}`)})
			Expect(err).ShouldNot(HaveOccurred())

			m, _, err := engine.Repository().GetManifest(ctx, "<id-2>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(m.ParentID).To(BeEmpty())
			Expect(m.Manifest).To(MatchJSON(`{"count": 1, "ids": [""]}`))
		})

		It("does not run a deployment twice", func() {
			req := Request{ID: "<id>", Input: []byte(`{}`)}

			first, err := engine.SubmitRequest(ctx, req)
			Expect(err).ShouldNot(HaveOccurred())

			second, err := engine.SubmitRequest(ctx, req)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(second).To(Equal(first))

			manifests, err := engine.Repository().ListManifests(ctx, "<group>", 10)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(manifests).To(HaveLen(1))
		})
	})

	Describe("func Recover()", func() {
		It("completes interrupted promotions", func() {
			params := &parameter.Memory{}

			engine = New(
				WithPersistence(ds),
				WithParameterStore(params),
				WithMerger(function.MergerFunc(countMerge)),
				WithMetrics(prometheus.NewRegistry()),
			)

			name := parameter.Name(DefaultParameterPrefix, persistence.DefaultGroup, persistence.FinalStage)

			err := ds.Persist(ctx, persistence.Batch{
				persistence.SavePromotionIntent{
					Intent: persistence.PromotionIntent{
						Group:      persistence.DefaultGroup,
						Stage:      persistence.FinalStage,
						ManifestID: "<manifest>",
						Parameter:  name,
						Created:    time.Now(),
					},
				},
			})
			Expect(err).ShouldNot(HaveOccurred())

			err = engine.Recover(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			s, ok, err := engine.Repository().GetStagePointer(ctx, persistence.DefaultGroup, persistence.FinalStage)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.ManifestID).To(Equal("<manifest>"))

			v, ok, err := params.Get(ctx, name)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal("<manifest>"))

			intents, err := ds.LoadPromotionIntents(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(intents).To(BeEmpty())
		})
	})

	Describe("func Evict()", func() {
		It("returns an error if the deployment has no ticket", func() {
			err := engine.Evict(ctx, "<id>", "<group>")
			Expect(err).To(MatchError(lock.ErrNotEnqueued))
		})
	})

	Describe("func Groups()", func() {
		It("returns the configured groups", func() {
			Expect(engine.Groups()).To(Equal([]string{"<group>", "<other>"}))
		})
	})

	Describe("func Stages()", func() {
		It("returns the configured stages followed by the final stage", func() {
			Expect(engine.Stages()).To(Equal([]string{"<stage>", persistence.FinalStage}))
		})
	})

	Describe("func Handler()", func() {
		It("serves the engine's API", func() {
			srv := httptest.NewServer(engine.Handler())
			defer srv.Close()

			res, err := http.Post(
				srv.URL+"/deployments?id=abc",
				"application/json",
				strings.NewReader(`{"id": "abc"}`),
			)
			Expect(err).ShouldNot(HaveOccurred())
			defer res.Body.Close()

			Expect(res.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(res.Body)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"status":"SUCCESSFUL"`))
		})
	})

	Describe("func Run()", func() {
		It("serves until the context is canceled", func() {
			runCtx, stop := context.WithCancel(ctx)

			result := make(chan error, 1)
			go func() {
				result <- engine.Run(runCtx, "127.0.0.1:0")
			}()

			time.Sleep(50 * time.Millisecond)
			stop()

			Eventually(result).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
