package sql

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/sqlx"
	"github.com/dogmatiq/mergedeploy/persistence"
)

// deploymentRow is the database representation of a persistence.Deployment.
type deploymentRow struct {
	ID               string `db:"id"`
	Group            string `db:"grp"`
	Input            []byte `db:"input"`
	Status           string `db:"status"`
	Created          int64  `db:"created"`
	Updated          int64  `db:"updated"`
	ParentManifestID string `db:"parent_manifest_id"`
	Error            string `db:"error"`
}

func (r deploymentRow) unmarshal() persistence.Deployment {
	return persistence.Deployment{
		ID:               r.ID,
		Group:            r.Group,
		Input:            r.Input,
		Status:           persistence.DeploymentStatus(r.Status),
		Created:          sqlx.UnmarshalTime(r.Created),
		Updated:          sqlx.UnmarshalTime(r.Updated),
		ParentManifestID: r.ParentManifestID,
		Error:            r.Error,
	}
}

const selectDeployment = `SELECT
	id,
	grp,
	input,
	status,
	created,
	updated,
	parent_manifest_id,
	error
FROM deployment`

// LoadDeployment loads the deployment with the given ID.
func (ds *DataStore) LoadDeployment(
	ctx context.Context,
	id string,
) (d persistence.Deployment, ok bool, err error) {
	err = ds.view(func() {
		var row deploymentRow

		if sqlx.Get(ctx, ds.DB, &row, selectDeployment+` WHERE id = ?`, id) {
			d, ok = row.unmarshal(), true
		}
	})

	return d, ok, err
}

// LoadDeploymentsByGroup loads up to n of the most recently created
// deployments in a group, newest first.
func (ds *DataStore) LoadDeploymentsByGroup(
	ctx context.Context,
	group string,
	n int,
) (result []persistence.Deployment, err error) {
	err = ds.view(func() {
		var rows []deploymentRow

		sqlx.Select(
			ctx,
			ds.DB,
			&rows,
			selectDeployment+` WHERE grp = ? ORDER BY created DESC, id DESC`+limitClause(n),
			group,
		)

		for _, r := range rows {
			result = append(result, r.unmarshal())
		}
	})

	return result, err
}

// VisitSaveDeployment applies the changes in a "SaveDeployment" operation to
// the database.
func (c *committer) VisitSaveDeployment(
	ctx context.Context,
	op persistence.SaveDeployment,
) error {
	d := op.Deployment

	if sqlx.TryExec(
		ctx,
		c.tx,
		`INSERT INTO deployment (
			id,
			grp,
			input,
			status,
			created,
			updated,
			parent_manifest_id,
			error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		d.ID,
		d.Group,
		d.Input,
		string(d.Status),
		sqlx.MarshalTime(d.Created),
		sqlx.MarshalTime(d.Updated),
		d.ParentManifestID,
		d.Error,
	) == 0 {
		return persistence.ConflictError{Cause: op}
	}

	return nil
}

// VisitUpdateDeploymentStatus applies the changes in an
// "UpdateDeploymentStatus" operation to the database.
func (c *committer) VisitUpdateDeploymentStatus(
	ctx context.Context,
	op persistence.UpdateDeploymentStatus,
) error {
	query := `UPDATE deployment SET status = ?, updated = ? WHERE id = ? AND status = ?`
	args := []any{string(op.To), sqlx.MarshalTime(op.Updated), op.ID, string(op.From)}

	if op.To == persistence.DeploymentFailed {
		query = `UPDATE deployment SET status = ?, updated = ?, error = ? WHERE id = ? AND status = ?`
		args = []any{string(op.To), sqlx.MarshalTime(op.Updated), op.Error, op.ID, string(op.From)}
	}

	if sqlx.TryExec(ctx, c.tx, query, args...) == 1 {
		return nil
	}

	// Determine whether the update failed because the deployment does not
	// exist, or because its status did not match.
	var id string
	if sqlx.Get(ctx, c.tx, &id, `SELECT id FROM deployment WHERE id = ?`, op.ID) {
		return persistence.ConflictError{Cause: op}
	}

	return persistence.NotFoundError{Cause: op}
}

// VisitUpdateDeploymentParent applies the changes in an
// "UpdateDeploymentParent" operation to the database.
func (c *committer) VisitUpdateDeploymentParent(
	ctx context.Context,
	op persistence.UpdateDeploymentParent,
) error {
	if sqlx.TryExec(
		ctx,
		c.tx,
		`UPDATE deployment SET parent_manifest_id = ? WHERE id = ?`,
		op.ParentManifestID,
		op.ID,
	) == 0 {
		return persistence.NotFoundError{Cause: op}
	}

	return nil
}
