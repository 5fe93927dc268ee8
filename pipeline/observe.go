package pipeline

import (
	"context"
	"time"

	"github.com/dogmatiq/mergedeploy/internal/mlog"
	"go.uber.org/zap"
)

// Step is the name of a step in the pipeline.
type Step string

const (
	StepSubmitted      Step = "Submitted"
	StepAdmission      Step = "Admission"
	StepStarted        Step = "Started"
	StepLoadCurrent    Step = "LoadCurrent"
	StepMerge          Step = "Merge"
	StepValidate       Step = "Validate"
	StepPersist        Step = "Persist"
	StepNotifyHook     Step = "NotifyHook"
	StepStagePromotion Step = "StagePromotion"
	StepFinalPromotion Step = "FinalPromotion"
	StepCompleted      Step = "Completed"
	StepReleaseLock    Step = "ReleaseLock"
)

// observe calls fn, logging and measuring it as the given step.
func (p *Pipeline) observe(
	sc *Scope,
	step Step,
	fn func() error,
	fields ...zap.Field,
) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	p.Metrics.ObserveStep(string(step), elapsed, err)

	fields = append(
		fields,
		mlog.Step(string(step)),
		zap.Duration("elapsed", elapsed),
	)

	if err != nil {
		sc.Logger.Warn("step failed", append(fields, zap.Error(err))...)
	} else {
		sc.Logger.Debug("step completed", fields...)
	}

	return err
}

// step returns a pipeline stage that performs fn as the given step, then
// continues with the next stage if it succeeds.
func (p *Pipeline) step(
	s Step,
	fn func(context.Context, *Scope) error,
) Stage {
	return func(ctx context.Context, sc *Scope, next Sink) error {
		if err := p.observe(sc, s, func() error {
			return fn(ctx, sc)
		}); err != nil {
			return err
		}

		return next(ctx, sc)
	}
}
