package sql

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/sqlx"
	"github.com/dogmatiq/mergedeploy/persistence"
)

// manifestRow is the database representation of a persistence.Manifest.
type manifestRow struct {
	ID       string `db:"id"`
	Group    string `db:"grp"`
	Manifest []byte `db:"manifest"`
	Created  int64  `db:"created"`
	ParentID string `db:"parent_id"`
}

func (r manifestRow) unmarshal() persistence.Manifest {
	return persistence.Manifest{
		ID:       r.ID,
		Group:    r.Group,
		Manifest: r.Manifest,
		Created:  sqlx.UnmarshalTime(r.Created),
		ParentID: r.ParentID,
	}
}

const selectManifest = `SELECT
	id,
	grp,
	manifest,
	created,
	parent_id
FROM manifest`

// LoadManifest loads the manifest with the given ID.
func (ds *DataStore) LoadManifest(
	ctx context.Context,
	id string,
) (m persistence.Manifest, ok bool, err error) {
	err = ds.view(func() {
		var row manifestRow

		if sqlx.Get(ctx, ds.DB, &row, selectManifest+` WHERE id = ?`, id) {
			m, ok = row.unmarshal(), true
		}
	})

	return m, ok, err
}

// LoadManifestsByGroup loads up to n of the most recently created manifests
// in a group, newest first.
func (ds *DataStore) LoadManifestsByGroup(
	ctx context.Context,
	group string,
	n int,
) (result []persistence.Manifest, err error) {
	err = ds.view(func() {
		var rows []manifestRow

		sqlx.Select(
			ctx,
			ds.DB,
			&rows,
			selectManifest+` WHERE grp = ? ORDER BY created DESC, id DESC`+limitClause(n),
			group,
		)

		for _, r := range rows {
			result = append(result, r.unmarshal())
		}
	})

	return result, err
}

// VisitSaveManifest applies the changes in a "SaveManifest" operation to the
// database.
func (c *committer) VisitSaveManifest(
	ctx context.Context,
	op persistence.SaveManifest,
) error {
	m := op.Manifest

	if sqlx.TryExec(
		ctx,
		c.tx,
		`INSERT INTO manifest (
			id,
			grp,
			manifest,
			created,
			parent_id
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		m.ID,
		m.Group,
		m.Manifest,
		sqlx.MarshalTime(m.Created),
		m.ParentID,
	) == 0 {
		return persistence.ConflictError{Cause: op}
	}

	return nil
}
