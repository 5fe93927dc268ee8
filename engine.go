// Package mergedeploy applies concurrent deployment requests to a shared,
// versioned manifest one at a time, in arrival order, per group.
package mergedeploy

import (
	"context"
	"net/http"

	"github.com/dogmatiq/mergedeploy/api"
	"github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/metrics"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/pipeline"
	"github.com/dogmatiq/mergedeploy/semaphore"
	"github.com/google/uuid"
)

// Deployment is a single submitted request to merge into a group's manifest.
type Deployment = persistence.Deployment

// Request is a request to run a deployment with an explicit ID and group.
type Request = pipeline.Request

// Engine runs deployments.
type Engine struct {
	opts     *engineOptions
	repo     *persistence.Repository
	lock     *lock.Service
	promoter *pipeline.Promoter
	pipeline *pipeline.Pipeline
}

// New returns a new engine.
//
// WithMerger() is the only required option.
func New(options ...EngineOption) *Engine {
	opts := resolveEngineOptions(options...)
	m := metrics.New(opts.MetricsRegisterer)

	repo := &persistence.Repository{
		DataStore: opts.DataStore,
	}

	svc := &lock.Service{
		Ledger:       opts.Ledger,
		Signaler:     opts.Signaler,
		PollStrategy: opts.PollStrategy,
		Logger:       opts.Logger,
		Metrics:      m,
	}

	promoter := &pipeline.Promoter{
		Repository: repo,
		Params:     opts.ParameterStore,
		Prefix:     opts.ParameterPrefix,
		Logger:     opts.Logger,
	}

	return &Engine{
		opts:     opts,
		repo:     repo,
		lock:     svc,
		promoter: promoter,
		pipeline: &pipeline.Pipeline{
			Repository:      repo,
			Lock:            svc,
			Promoter:        promoter,
			Functions:       opts.Functions,
			Stages:          opts.Stages,
			Group:           opts.Groups[0],
			DefaultManifest: opts.DefaultManifest,
			Semaphore:       semaphore.New(int(opts.ConcurrencyLimit)),
			Logger:          opts.Logger,
			Metrics:         m,
		},
	}
}

// Submit runs a new deployment of the given input in the engine's first
// group.
//
// It blocks until the deployment reaches a terminal status. The returned
// deployment reflects the latest persisted state, even if err is non-nil.
func (e *Engine) Submit(ctx context.Context, input []byte) (Deployment, error) {
	return e.SubmitRequest(ctx, Request{
		ID:    uuid.NewString(),
		Input: input,
	})
}

// SubmitRequest runs a deployment with an explicit ID and group.
//
// Submitting a request with the ID of an existing deployment resumes or
// returns that deployment instead of creating a new one. If req.Group is
// empty the engine's first group is used.
func (e *Engine) SubmitRequest(ctx context.Context, req Request) (Deployment, error) {
	return e.pipeline.Run(ctx, req)
}

// Recover completes any stage promotions that were interrupted before their
// parameter was mirrored.
func (e *Engine) Recover(ctx context.Context) error {
	return e.promoter.Recover(ctx)
}

// Evict removes a deployment's ticket from its group's lock, regardless of
// whether it is waiting for or holding the lock.
//
// It is used to unblock a group whose lock holder has crashed. It returns an
// error wrapping lock.ErrNotEnqueued if the deployment has no ticket.
func (e *Engine) Evict(ctx context.Context, id, group string) error {
	return e.lock.Evict(ctx, id, group)
}

// Groups returns the groups configured with WithGroup().
func (e *Engine) Groups() []string {
	return append([]string(nil), e.opts.Groups...)
}

// Stages returns the names of the stages that each manifest is promoted
// through, in order, ending with the final stage.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.opts.Stages)+1)

	for _, s := range e.opts.Stages {
		names = append(names, s.Name)
	}

	return append(names, persistence.FinalStage)
}

// Repository returns the repository that contains the engine's deployments,
// manifests and stage pointers.
func (e *Engine) Repository() *persistence.Repository {
	return e.repo
}

// Handler returns the HTTP handler that serves the engine's API.
func (e *Engine) Handler() http.Handler {
	h := &api.Handler{
		Backend:  e,
		Gatherer: e.opts.MetricsGatherer,
		Logger:   e.opts.Logger,
	}

	return h.Routes()
}

// Run recovers any interrupted promotions, then serves the engine's API on
// addr until ctx is canceled or an error occurs.
func (e *Engine) Run(ctx context.Context, addr string) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}

	return serveAPI(ctx, addr, e.Handler(), e.opts.Logger)
}
