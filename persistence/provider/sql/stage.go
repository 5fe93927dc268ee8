package sql

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/sqlx"
	"github.com/dogmatiq/mergedeploy/persistence"
)

// stageRow is the database representation of a persistence.Stage.
type stageRow struct {
	Group      string `db:"grp"`
	Name       string `db:"name"`
	ManifestID string `db:"manifest_id"`
	Updated    int64  `db:"updated"`
}

func (r stageRow) unmarshal() persistence.Stage {
	return persistence.Stage{
		Group:      r.Group,
		Name:       r.Name,
		ManifestID: r.ManifestID,
		Updated:    sqlx.UnmarshalTime(r.Updated),
	}
}

// promotionIntentRow is the database representation of a
// persistence.PromotionIntent.
type promotionIntentRow struct {
	Group      string `db:"grp"`
	Stage      string `db:"stage"`
	ManifestID string `db:"manifest_id"`
	Parameter  string `db:"parameter"`
	Created    int64  `db:"created"`
}

func (r promotionIntentRow) unmarshal() persistence.PromotionIntent {
	return persistence.PromotionIntent{
		Group:      r.Group,
		Stage:      r.Stage,
		ManifestID: r.ManifestID,
		Parameter:  r.Parameter,
		Created:    sqlx.UnmarshalTime(r.Created),
	}
}

// LoadStage loads the pointer for a specific stage of a group.
func (ds *DataStore) LoadStage(
	ctx context.Context,
	group, name string,
) (s persistence.Stage, ok bool, err error) {
	err = ds.view(func() {
		var row stageRow

		if sqlx.Get(
			ctx,
			ds.DB,
			&row,
			`SELECT grp, name, manifest_id, updated FROM stage WHERE grp = ? AND name = ?`,
			group,
			name,
		) {
			s, ok = row.unmarshal(), true
		}
	})

	return s, ok, err
}

// LoadStages loads all of a group's stage pointers, ordered by name.
func (ds *DataStore) LoadStages(
	ctx context.Context,
	group string,
) (result []persistence.Stage, err error) {
	d := dialectOf(ds.DB)

	err = ds.view(func() {
		var rows []stageRow

		sqlx.Select(
			ctx,
			ds.DB,
			&rows,
			`SELECT grp, name, manifest_id, updated FROM stage WHERE grp = ? ORDER BY name`+d.orderNamesWith,
			group,
		)

		for _, r := range rows {
			result = append(result, r.unmarshal())
		}
	})

	return result, err
}

// LoadParameter loads the value of a parameter.
func (ds *DataStore) LoadParameter(
	ctx context.Context,
	name string,
) (v string, ok bool, err error) {
	err = ds.view(func() {
		ok = sqlx.Get(ctx, ds.DB, &v, `SELECT value FROM parameter WHERE name = ?`, name)
	})

	return v, ok, err
}

// LoadPromotionIntents loads all outstanding promotion intents, ordered by
// creation time.
func (ds *DataStore) LoadPromotionIntents(
	ctx context.Context,
) (result []persistence.PromotionIntent, err error) {
	err = ds.view(func() {
		var rows []promotionIntentRow

		sqlx.Select(
			ctx,
			ds.DB,
			&rows,
			`SELECT grp, stage, manifest_id, parameter, created FROM promotion_intent ORDER BY created`,
		)

		for _, r := range rows {
			result = append(result, r.unmarshal())
		}
	})

	return result, err
}

// VisitSaveStage applies the changes in a "SaveStage" operation to the
// database.
func (c *committer) VisitSaveStage(
	ctx context.Context,
	op persistence.SaveStage,
) error {
	sqlx.Exec(
		ctx,
		c.tx,
		`INSERT INTO stage (grp, name, manifest_id, updated) VALUES (?, ?, ?, ?)
		ON CONFLICT (grp, name) DO UPDATE SET
			manifest_id = excluded.manifest_id,
			updated = excluded.updated`,
		op.Stage.Group,
		op.Stage.Name,
		op.Stage.ManifestID,
		sqlx.MarshalTime(op.Stage.Updated),
	)

	return nil
}

// VisitSaveParameter applies the changes in a "SaveParameter" operation to
// the database.
func (c *committer) VisitSaveParameter(
	ctx context.Context,
	op persistence.SaveParameter,
) error {
	sqlx.Exec(
		ctx,
		c.tx,
		`INSERT INTO parameter (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET
			value = excluded.value`,
		op.Parameter.Name,
		op.Parameter.Value,
	)

	return nil
}

// VisitSavePromotionIntent applies the changes in a "SavePromotionIntent"
// operation to the database.
func (c *committer) VisitSavePromotionIntent(
	ctx context.Context,
	op persistence.SavePromotionIntent,
) error {
	in := op.Intent

	sqlx.Exec(
		ctx,
		c.tx,
		`INSERT INTO promotion_intent (grp, stage, manifest_id, parameter, created) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (grp, stage) DO UPDATE SET
			manifest_id = excluded.manifest_id,
			parameter = excluded.parameter,
			created = excluded.created`,
		in.Group,
		in.Stage,
		in.ManifestID,
		in.Parameter,
		sqlx.MarshalTime(in.Created),
	)

	return nil
}

// VisitRemovePromotionIntent applies the changes in a
// "RemovePromotionIntent" operation to the database.
func (c *committer) VisitRemovePromotionIntent(
	ctx context.Context,
	op persistence.RemovePromotionIntent,
) error {
	sqlx.Exec(
		ctx,
		c.tx,
		`DELETE FROM promotion_intent WHERE grp = ? AND stage = ?`,
		op.Group,
		op.Stage,
	)

	return nil
}
