// Package pipeline implements the deployment orchestrator, which merges each
// deployment into its group's manifest and promotes the result through the
// group's stages while holding the group's lock.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/internal/mlog"
	"github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/metrics"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/semaphore"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultManifest is the manifest that the first deployment in a group is
// merged into, if no other default is configured.
var DefaultManifest = []byte(`{}`)

// Locker is a FIFO lock per group.
type Locker interface {
	Acquire(ctx context.Context, id, group string) error
	Release(ctx context.Context, id, group string) error
	Evict(ctx context.Context, id, group string) error
}

// Pipeline runs deployments to completion.
type Pipeline struct {
	// Repository is the repository that contains the deployments, manifests
	// and stage pointers.
	Repository *persistence.Repository

	// Lock is the lock that serializes deployments within each group.
	Lock Locker

	// Promoter points stages at manifests.
	Promoter *Promoter

	// Functions is the set of user-supplied functions. Functions.Merge is
	// required.
	Functions function.Set

	// Stages is the ordered list of stages that each manifest is promoted
	// through before it reaches the final stage.
	Stages []function.StageDefinition

	// Group is the group used for requests that do not specify one. If it is
	// empty, persistence.DefaultGroup is used.
	Group string

	// DefaultManifest is the manifest that the first deployment in a group is
	// merged into. If it is empty, the package-level DefaultManifest is used.
	DefaultManifest []byte

	// Semaphore limits the number of concurrent runs. The zero-value imposes
	// no limit.
	Semaphore semaphore.Semaphore

	// Logger is the target for log messages. If it is nil, no logging is
	// performed.
	Logger *zap.Logger

	// Metrics records step durations and outcomes. It may be nil.
	Metrics *metrics.Metrics
}

// Run processes a deployment until it reaches a terminal status.
//
// Running a deployment that already exists does not create a new one. If
// the existing deployment is already terminal it is returned as-is.
//
// The returned deployment reflects the latest persisted state, even if err is
// non-nil.
func (p *Pipeline) Run(ctx context.Context, req Request) (persistence.Deployment, error) {
	if p.Functions.Merge == nil {
		return persistence.Deployment{}, errors.New("no merge function is configured")
	}

	if req.Group == "" {
		req.Group = p.group()
	}

	sc := &Scope{
		Logger: p.logger().With(mlog.Deployment(req.ID, req.Group)...),
	}

	if err := p.observe(sc, StepSubmitted, func() error {
		return p.submit(ctx, sc, req)
	}); err != nil {
		return sc.Deployment, err
	}

	if sc.Deployment.Status.IsTerminal() {
		sc.Logger.Debug(
			"deployment has already been processed",
			zap.String("status", string(sc.Deployment.Status)),
		)

		return sc.Deployment, nil
	}

	err := Sequence{
		LimitConcurrency(&p.Semaphore),
		p.admission,
		p.markFailed,
		p.step(StepStarted, p.start),
		p.step(StepLoadCurrent, p.loadCurrent),
		p.step(StepMerge, p.merge),
		p.step(StepValidate, p.validate),
		p.step(StepPersist, p.persist),
		p.step(StepNotifyHook, p.notifyHook),
		p.promoteStages,
		p.step(StepFinalPromotion, p.promoteFinal),
		p.step(StepCompleted, p.complete),
		Terminate(),
	}.Accept(ctx, sc)

	d, ok, loadErr := p.Repository.GetDeployment(context.WithoutCancel(ctx), req.ID)
	if loadErr != nil {
		return sc.Deployment, multierr.Append(err, loadErr)
	}
	if ok {
		sc.Deployment = d
	}

	if sc.Deployment.Status.IsTerminal() {
		p.Metrics.IncDeployments(req.Group, string(sc.Deployment.Status))
	}

	if err != nil {
		sc.Logger.Warn(
			"deployment failed",
			zap.String("status", string(sc.Deployment.Status)),
			zap.Error(err),
		)
	} else {
		sc.Logger.Info(
			"deployment succeeded",
			mlog.ManifestID(req.ID),
		)
	}

	return sc.Deployment, err
}

// submit records the deployment in the WAITING status, or loads the existing
// deployment with the same ID.
func (p *Pipeline) submit(ctx context.Context, sc *Scope, req Request) error {
	d, err := p.Repository.CreateDeployment(ctx, persistence.Deployment{
		ID:     req.ID,
		Group:  req.Group,
		Input:  req.Input,
		Status: persistence.DeploymentWaiting,
	})

	if errors.As(err, &persistence.ConflictError{}) {
		existing, ok, err := p.Repository.GetDeployment(ctx, req.ID)
		if err != nil {
			return err
		}

		if !ok {
			return fmt.Errorf("deployment '%s' conflicts with a record that no longer exists", req.ID)
		}

		if existing.Group != req.Group {
			return fmt.Errorf(
				"deployment '%s' already exists in group '%s'",
				req.ID,
				existing.Group,
			)
		}

		sc.Logger.Debug("resuming existing deployment")
		sc.Deployment = existing

		return nil
	}

	sc.Deployment = d

	return err
}

// admission acquires the group's lock before continuing, and releases it
// afterwards.
func (p *Pipeline) admission(ctx context.Context, sc *Scope, next Sink) (err error) {
	id, group := sc.Deployment.ID, sc.Deployment.Group

	if err := p.observe(sc, StepAdmission, func() error {
		return p.Lock.Acquire(ctx, id, group)
	}); err != nil {
		return p.abandonAdmission(ctx, sc, err)
	}

	defer func() {
		if sc.retainLock {
			sc.Logger.Debug("lock is retained by a concurrent execution")
			return
		}

		// The lock is released even if ctx has been canceled, otherwise the
		// group would be blocked indefinitely.
		err = multierr.Append(
			err,
			p.observe(sc, StepReleaseLock, func() error {
				return p.Lock.Release(context.WithoutCancel(ctx), id, group)
			}),
		)
	}()

	return next(ctx, sc)
}

// abandonAdmission handles a failure to acquire the group's lock.
//
// The deployment's ticket is removed once the deployment is FAILED, otherwise
// it would block the group when it reaches the head of the queue. If the
// ticket was already removed because another execution of the same
// deployment finished first, that execution's outcome stands.
func (p *Pipeline) abandonAdmission(ctx context.Context, sc *Scope, cause error) error {
	id, group := sc.Deployment.ID, sc.Deployment.Group
	ctx = context.WithoutCancel(ctx)

	if errors.Is(cause, lock.ErrTicketRemoved) {
		d, ok, err := p.Repository.GetDeployment(ctx, id)
		if err != nil {
			return multierr.Append(cause, err)
		}

		if ok && d.Status.IsTerminal() {
			sc.Logger.Debug(
				"deployment was completed by another execution while waiting for admission",
				zap.String("status", string(d.Status)),
			)

			sc.Deployment = d

			return nil
		}
	}

	p.fail(ctx, sc, cause)

	if sc.Deployment.Status != persistence.DeploymentFailed {
		return cause
	}

	// No execution can start the deployment now that it is FAILED, so the
	// ticket is not held by anything that will release it.
	if err := p.Lock.Evict(ctx, id, group); err != nil && !errors.Is(err, lock.ErrNotEnqueued) {
		sc.Logger.Warn(
			"unable to remove ticket of abandoned deployment",
			zap.Error(err),
		)
	}

	return cause
}

// markFailed transitions the deployment to the FAILED status if any
// subsequent stage fails.
func (p *Pipeline) markFailed(ctx context.Context, sc *Scope, next Sink) error {
	err := next(ctx, sc)
	if err != nil {
		p.fail(ctx, sc, err)
	}

	return err
}

// fail transitions the deployment from its last known status to FAILED.
//
// It is best-effort, partial progress is retained and failures are logged.
func (p *Pipeline) fail(ctx context.Context, sc *Scope, cause error) {
	from := sc.Deployment.Status

	if from.IsTerminal() || errors.As(cause, new(*DuplicateExecutionError)) {
		return
	}

	// An IN_PROGRESS status that this run did not set belongs to some other
	// execution.
	if from == persistence.DeploymentInProgress && !sc.started {
		return
	}

	ok, err := p.Repository.CompareAndSwapStatus(
		context.WithoutCancel(ctx),
		sc.Deployment.ID,
		persistence.DeploymentFailed,
		from,
		cause.Error(),
	)

	if err != nil {
		sc.Logger.Error("unable to record deployment failure", zap.Error(err))
		return
	}

	if !ok {
		sc.Logger.Warn(
			"unable to record deployment failure, status was changed by another execution",
			zap.String("expected_status", string(from)),
		)
		return
	}

	sc.Deployment.Status = persistence.DeploymentFailed
	sc.Deployment.Error = cause.Error()
}

// start transitions the deployment from WAITING to IN_PROGRESS.
func (p *Pipeline) start(ctx context.Context, sc *Scope) error {
	if err := p.transition(
		ctx,
		sc,
		persistence.DeploymentWaiting,
		persistence.DeploymentInProgress,
	); err != nil {
		var dup *DuplicateExecutionError
		if errors.As(err, &dup) && dup.Actual == persistence.DeploymentInProgress {
			// Another execution of this deployment was admitted with the same
			// ticket and is still running, so the lock is now its to release.
			sc.retainLock = true
		}

		return err
	}

	sc.started = true

	return nil
}

// loadCurrent loads the manifest that the final stage points to.
func (p *Pipeline) loadCurrent(ctx context.Context, sc *Scope) error {
	group := sc.Deployment.Group

	ptr, ok, err := p.Repository.GetStagePointer(ctx, group, persistence.FinalStage)
	if err != nil {
		return err
	}

	if !ok {
		sc.Current = persistence.Manifest{
			Group:    group,
			Manifest: p.defaultManifest(),
		}

		return nil
	}

	m, ok, err := p.Repository.GetManifest(ctx, ptr.ManifestID)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf(
			"the %s stage of group '%s' refers to manifest '%s', which does not exist",
			persistence.FinalStage,
			group,
			ptr.ManifestID,
		)
	}

	if err := p.Repository.SetDeploymentParent(ctx, sc.Deployment.ID, m.ID); err != nil {
		return err
	}

	sc.Current = m
	sc.Deployment.ParentManifestID = m.ID

	return nil
}

// merge invokes the merge function.
func (p *Pipeline) merge(ctx context.Context, sc *Scope) error {
	res, err := p.Functions.Merge.Merge(ctx, function.MergeRequest{
		Request:  sc.Deployment.Input,
		Manifest: sc.Current.Manifest,
	})
	if err != nil {
		return fmt.Errorf("merge function failed: %w", err)
	}

	if isEmptyDocument(res.Manifest) {
		return &MergeError{Errors: res.Errors}
	}

	sc.Updated = res.Manifest

	return nil
}

// validate invokes the manifest validator, if there is one.
func (p *Pipeline) validate(ctx context.Context, sc *Scope) error {
	if p.Functions.Validate == nil {
		return nil
	}

	res, err := p.Functions.Validate.ValidateManifest(ctx, function.ValidateManifestRequest{
		Current: sc.Current.Manifest,
		Updated: sc.Updated,
	})
	if err != nil {
		return fmt.Errorf("validation function failed: %w", err)
	}

	if !res.Valid {
		return &ValidationError{Errors: res.Errors}
	}

	return nil
}

// persist saves the merged manifest.
func (p *Pipeline) persist(ctx context.Context, sc *Scope) error {
	_, err := p.Repository.CreateManifest(ctx, persistence.Manifest{
		ID:       sc.Deployment.ID,
		Group:    sc.Deployment.Group,
		Manifest: sc.Updated,
		ParentID: sc.Current.ID,
	})

	return err
}

// notifyHook invokes the post-merge hook, if there is one. Its failure does
// not fail the pipeline.
func (p *Pipeline) notifyHook(ctx context.Context, sc *Scope) error {
	if p.Functions.Hook == nil {
		return nil
	}

	if err := p.Functions.Hook.UpdatedManifestHook(ctx, function.ManifestHookRequest{
		ManifestID: sc.Deployment.ID,
		Manifest:   sc.Updated,
	}); err != nil {
		sc.Logger.Warn("post-merge hook failed", zap.Error(err))
	}

	return nil
}

// promoteStages promotes the manifest through each of the configured stages,
// in order.
func (p *Pipeline) promoteStages(ctx context.Context, sc *Scope, next Sink) error {
	for _, def := range p.Stages {
		if err := p.observe(
			sc,
			StepStagePromotion,
			func() error {
				return p.promoteStage(ctx, sc, def)
			},
			mlog.Stage(def.Name),
		); err != nil {
			return err
		}
	}

	return next(ctx, sc)
}

func (p *Pipeline) promoteStage(
	ctx context.Context,
	sc *Scope,
	def function.StageDefinition,
) error {
	req := function.StageRequest{
		Group:      sc.Deployment.Group,
		Stage:      def.Name,
		ManifestID: sc.Deployment.ID,
	}

	if err := p.Promoter.Promote(ctx, req.Group, req.Stage, req.ManifestID); err != nil {
		return err
	}

	if def.Prepare != nil {
		if err := def.Prepare.RunStage(ctx, req); err != nil {
			return fmt.Errorf("prepare function for the '%s' stage failed: %w", def.Name, err)
		}
	}

	if def.Test != nil {
		if err := def.Test.RunStage(ctx, req); err != nil {
			return fmt.Errorf("test function for the '%s' stage failed: %w", def.Name, err)
		}
	}

	return nil
}

// promoteFinal promotes the manifest to the final stage.
func (p *Pipeline) promoteFinal(ctx context.Context, sc *Scope) error {
	return p.Promoter.Promote(
		ctx,
		sc.Deployment.Group,
		persistence.FinalStage,
		sc.Deployment.ID,
	)
}

// complete transitions the deployment from IN_PROGRESS to SUCCESSFUL.
func (p *Pipeline) complete(ctx context.Context, sc *Scope) error {
	return p.transition(
		ctx,
		sc,
		persistence.DeploymentInProgress,
		persistence.DeploymentSuccessful,
	)
}

// transition changes the deployment's status if it is currently from.
//
// It returns a *DuplicateExecutionError if the status has been changed by
// some other execution.
func (p *Pipeline) transition(
	ctx context.Context,
	sc *Scope,
	from, to persistence.DeploymentStatus,
) error {
	ok, err := p.Repository.CompareAndSwapStatus(ctx, sc.Deployment.ID, to, from, "")
	if err != nil {
		return err
	}

	if ok {
		sc.Deployment.Status = to
		return nil
	}

	dup := &DuplicateExecutionError{
		ID:       sc.Deployment.ID,
		Expected: from,
	}

	if d, ok, err := p.Repository.GetDeployment(ctx, sc.Deployment.ID); err == nil && ok {
		dup.Actual = d.Status
	}

	return dup
}

func (p *Pipeline) group() string {
	if p.Group != "" {
		return p.Group
	}

	return persistence.DefaultGroup
}

func (p *Pipeline) defaultManifest() []byte {
	if len(p.DefaultManifest) != 0 {
		return p.DefaultManifest
	}

	return DefaultManifest
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}

	return zap.NewNop()
}

// isEmptyDocument returns true if doc does not contain a JSON value.
func isEmptyDocument(doc json.RawMessage) bool {
	return len(doc) == 0 || string(doc) == "null"
}
