package pipeline

import (
	"context"
	"fmt"

	"github.com/dogmatiq/mergedeploy/internal/mlog"
	"github.com/dogmatiq/mergedeploy/parameter"
	"github.com/dogmatiq/mergedeploy/persistence"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Promoter points a stage at a manifest, and mirrors the pointer to the
// parameter store as a single unit of work.
//
// If the parameter store is transactional with the repository's data store,
// both writes are committed in one batch. Otherwise a promotion intent is
// persisted before the writes are applied, and removed once both succeed.
// Outstanding intents are replayed by Recover().
type Promoter struct {
	// Repository is the repository that contains the stage pointers.
	Repository *persistence.Repository

	// Params is the store that mirrors the stage pointers. If it is nil,
	// pointers are not mirrored.
	Params parameter.Store

	// Prefix is the prefix of parameter names. If it is empty,
	// parameter.DefaultPrefix is used.
	Prefix string

	// Logger is the target for log messages. If it is nil, no logging is
	// performed.
	Logger *zap.Logger
}

// Promote points a group's stage at the manifest with the given ID.
//
// It returns a *PromotionError if the promotion fails.
func (p *Promoter) Promote(ctx context.Context, group, stage, manifestID string) error {
	if err := p.promote(ctx, group, stage, manifestID); err != nil {
		return &PromotionError{
			Stage: stage,
			Cause: err,
		}
	}

	return nil
}

func (p *Promoter) promote(ctx context.Context, group, stage, manifestID string) error {
	ds := p.Repository.DataStore
	pointer := p.Repository.StagePointerOperation(group, stage, manifestID)

	if p.Params == nil {
		return ds.Persist(ctx, persistence.Batch{pointer})
	}

	name := parameter.Name(p.Prefix, group, stage)

	if ts, ok := p.Params.(parameter.Transactional); ok {
		if op, ok := ts.PutOperation(ds, name, manifestID); ok {
			return ds.Persist(ctx, persistence.Batch{pointer, op})
		}
	}

	intent := persistence.PromotionIntent{
		Group:      group,
		Stage:      stage,
		ManifestID: manifestID,
		Parameter:  name,
		Created:    pointer.Stage.Updated,
	}

	if err := ds.Persist(ctx, persistence.Batch{
		persistence.SavePromotionIntent{Intent: intent},
	}); err != nil {
		return fmt.Errorf("unable to record promotion intent: %w", err)
	}

	return p.apply(ctx, intent)
}

// Recover replays all outstanding promotion intents.
//
// It must be called before any pipeline is started, typically when the engine
// starts.
func (p *Promoter) Recover(ctx context.Context) error {
	intents, err := p.Repository.DataStore.LoadPromotionIntents(ctx)
	if err != nil {
		return fmt.Errorf("unable to load promotion intents: %w", err)
	}

	for _, in := range intents {
		p.logger().Info(
			"replaying promotion intent",
			mlog.Group(in.Group),
			mlog.Stage(in.Stage),
			mlog.ManifestID(in.ManifestID),
		)

		if err := p.apply(ctx, in); err != nil {
			return &PromotionError{
				Stage: in.Stage,
				Cause: err,
			}
		}
	}

	return nil
}

// apply performs both writes described by an intent concurrently, then
// removes the intent.
//
// Both writes are idempotent, so an intent may be applied any number of
// times.
func (p *Promoter) apply(ctx context.Context, in persistence.PromotionIntent) error {
	ds := p.Repository.DataStore
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ds.Persist(gctx, persistence.Batch{
			p.Repository.StagePointerOperation(in.Group, in.Stage, in.ManifestID),
		})
	})

	g.Go(func() error {
		return p.Params.Put(gctx, in.Parameter, in.ManifestID)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if err := ds.Persist(ctx, persistence.Batch{
		persistence.RemovePromotionIntent{
			Group: in.Group,
			Stage: in.Stage,
		},
	}); err != nil {
		// Both writes have been applied, so the intent is merely replayed
		// again by the next recovery.
		p.logger().Warn(
			"unable to remove promotion intent",
			mlog.Group(in.Group),
			mlog.Stage(in.Stage),
			zap.Error(err),
		)
	}

	return nil
}

func (p *Promoter) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}

	return zap.NewNop()
}
