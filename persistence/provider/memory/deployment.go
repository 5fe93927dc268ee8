package memory

import (
	"context"
	"sort"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// LoadDeployment loads the deployment with the given ID.
func (ds *DataStore) LoadDeployment(
	ctx context.Context,
	id string,
) (d persistence.Deployment, ok bool, err error) {
	err = ds.m.View(ctx, func() error {
		var p *persistence.Deployment
		p, ok = ds.deployment.byID[id]
		if ok {
			d = cloneDeployment(*p)
		}
		return nil
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
	err = ds.m.View(ctx, func() error {
		order := ds.deployment.byGroup[group]

		for i := len(order) - 1; i >= 0; i-- {
			if n > 0 && len(result) == n {
				break
			}

			result = append(result, cloneDeployment(*order[i]))
		}

		return nil
	})

	return result, err
}

// VisitSaveDeployment returns an error if a "SaveDeployment" operation can not
// be applied to the database.
func (v *validator) VisitSaveDeployment(
	_ context.Context,
	op persistence.SaveDeployment,
) error {
	if _, ok := v.ds.deployment.byID[op.Deployment.ID]; ok {
		return persistence.ConflictError{Cause: op}
	}

	if v.created == nil {
		v.created = map[string]struct{}{}
	}
	v.created[op.Deployment.ID] = struct{}{}

	return nil
}

// VisitUpdateDeploymentStatus returns an error if an "UpdateDeploymentStatus"
// operation can not be applied to the database.
func (v *validator) VisitUpdateDeploymentStatus(
	_ context.Context,
	op persistence.UpdateDeploymentStatus,
) error {
	d, ok := v.ds.deployment.byID[op.ID]
	if !ok {
		return persistence.NotFoundError{Cause: op}
	}

	if d.Status != op.From {
		return persistence.ConflictError{Cause: op}
	}

	return nil
}

// VisitUpdateDeploymentParent returns an error if an "UpdateDeploymentParent"
// operation can not be applied to the database.
func (v *validator) VisitUpdateDeploymentParent(
	_ context.Context,
	op persistence.UpdateDeploymentParent,
) error {
	if _, ok := v.ds.deployment.byID[op.ID]; ok {
		return nil
	}

	if _, ok := v.created[op.ID]; ok {
		return nil
	}

	return persistence.NotFoundError{Cause: op}
}

// VisitSaveDeployment applies the changes in a "SaveDeployment" operation to
// the database.
func (c *committer) VisitSaveDeployment(
	_ context.Context,
	op persistence.SaveDeployment,
) error {
	c.ds.deployment.insert(cloneDeployment(op.Deployment))
	return nil
}

// VisitUpdateDeploymentStatus applies the changes in an
// "UpdateDeploymentStatus" operation to the database.
func (c *committer) VisitUpdateDeploymentStatus(
	_ context.Context,
	op persistence.UpdateDeploymentStatus,
) error {
	d := c.ds.deployment.byID[op.ID]
	d.Status = op.To
	d.Updated = op.Updated

	if op.To == persistence.DeploymentFailed {
		d.Error = op.Error
	}

	return nil
}

// VisitUpdateDeploymentParent applies the changes in an
// "UpdateDeploymentParent" operation to the database.
func (c *committer) VisitUpdateDeploymentParent(
	_ context.Context,
	op persistence.UpdateDeploymentParent,
) error {
	d := c.ds.deployment.byID[op.ID]
	d.ParentManifestID = op.ParentManifestID
	return nil
}

// deploymentDatabase contains deployment related data.
type deploymentDatabase struct {
	byID map[string]*persistence.Deployment

	// byGroup contains each group's deployments, oldest first.
	byGroup map[string][]*persistence.Deployment
}

// insert adds a new deployment to the database, keeping the group index sorted
// by creation time.
func (db *deploymentDatabase) insert(d persistence.Deployment) {
	if db.byID == nil {
		db.byID = map[string]*persistence.Deployment{}
		db.byGroup = map[string][]*persistence.Deployment{}
	}

	p := &d
	db.byID[d.ID] = p

	order := db.byGroup[d.Group]

	// Find the index of the first deployment that was created after this one.
	index := sort.Search(
		len(order),
		func(i int) bool {
			return d.Created.Before(order[i].Created)
		},
	)

	order = append(order, nil)
	copy(order[index+1:], order[index:])
	order[index] = p

	db.byGroup[d.Group] = order
}

func cloneDeployment(d persistence.Deployment) persistence.Deployment {
	d.Input = append([]byte(nil), d.Input...)
	return d
}
