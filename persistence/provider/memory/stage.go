package memory

import (
	"context"
	"sort"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// LoadStage loads the pointer for a specific stage of a group.
func (ds *DataStore) LoadStage(
	ctx context.Context,
	group, name string,
) (s persistence.Stage, ok bool, err error) {
	err = ds.m.View(ctx, func() error {
		s, ok = ds.stage.stages[stageKey{group, name}]
		return nil
	})

	return s, ok, err
}

// LoadStages loads all of a group's stage pointers, ordered by name.
func (ds *DataStore) LoadStages(
	ctx context.Context,
	group string,
) (result []persistence.Stage, err error) {
	err = ds.m.View(ctx, func() error {
		for k, s := range ds.stage.stages {
			if k.group == group {
				result = append(result, s)
			}
		}
		return nil
	})

	sort.Slice(
		result,
		func(i, j int) bool {
			return result[i].Name < result[j].Name
		},
	)

	return result, err
}

// LoadParameter loads the value of a parameter.
func (ds *DataStore) LoadParameter(
	ctx context.Context,
	name string,
) (v string, ok bool, err error) {
	err = ds.m.View(ctx, func() error {
		v, ok = ds.stage.parameters[name]
		return nil
	})

	return v, ok, err
}

// LoadPromotionIntents loads all outstanding promotion intents, ordered by
// creation time.
func (ds *DataStore) LoadPromotionIntents(
	ctx context.Context,
) (result []persistence.PromotionIntent, err error) {
	err = ds.m.View(ctx, func() error {
		for _, in := range ds.stage.intents {
			result = append(result, in)
		}
		return nil
	})

	sort.SliceStable(
		result,
		func(i, j int) bool {
			return result[i].Created.Before(result[j].Created)
		},
	)

	return result, err
}

// VisitSaveStage returns an error if a "SaveStage" operation can not be
// applied to the database.
func (v *validator) VisitSaveStage(context.Context, persistence.SaveStage) error {
	return nil
}

// VisitSaveParameter returns an error if a "SaveParameter" operation can not
// be applied to the database.
func (v *validator) VisitSaveParameter(context.Context, persistence.SaveParameter) error {
	return nil
}

// VisitSavePromotionIntent returns an error if a "SavePromotionIntent"
// operation can not be applied to the database.
func (v *validator) VisitSavePromotionIntent(context.Context, persistence.SavePromotionIntent) error {
	return nil
}

// VisitRemovePromotionIntent returns an error if a "RemovePromotionIntent"
// operation can not be applied to the database.
func (v *validator) VisitRemovePromotionIntent(context.Context, persistence.RemovePromotionIntent) error {
	return nil
}

// VisitSaveStage applies the changes in a "SaveStage" operation to the
// database.
func (c *committer) VisitSaveStage(
	_ context.Context,
	op persistence.SaveStage,
) error {
	db := &c.ds.stage
	if db.stages == nil {
		db.stages = map[stageKey]persistence.Stage{}
	}

	db.stages[stageKey{op.Stage.Group, op.Stage.Name}] = op.Stage

	return nil
}

// VisitSaveParameter applies the changes in a "SaveParameter" operation to
// the database.
func (c *committer) VisitSaveParameter(
	_ context.Context,
	op persistence.SaveParameter,
) error {
	db := &c.ds.stage
	if db.parameters == nil {
		db.parameters = map[string]string{}
	}

	db.parameters[op.Parameter.Name] = op.Parameter.Value

	return nil
}

// VisitSavePromotionIntent applies the changes in a "SavePromotionIntent"
// operation to the database.
func (c *committer) VisitSavePromotionIntent(
	_ context.Context,
	op persistence.SavePromotionIntent,
) error {
	db := &c.ds.stage
	if db.intents == nil {
		db.intents = map[stageKey]persistence.PromotionIntent{}
	}

	db.intents[stageKey{op.Intent.Group, op.Intent.Stage}] = op.Intent

	return nil
}

// VisitRemovePromotionIntent applies the changes in a "RemovePromotionIntent"
// operation to the database.
func (c *committer) VisitRemovePromotionIntent(
	_ context.Context,
	op persistence.RemovePromotionIntent,
) error {
	delete(c.ds.stage.intents, stageKey{op.Group, op.Stage})
	return nil
}

// stageDatabase contains stage pointers, and the data used to mirror them to
// external systems.
type stageDatabase struct {
	stages     map[stageKey]persistence.Stage
	parameters map[string]string
	intents    map[stageKey]persistence.PromotionIntent
}

type stageKey struct {
	group string
	name  string
}
