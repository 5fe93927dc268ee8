package boltdb

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	"github.com/dogmatiq/mergedeploy/persistence"
	"go.etcd.io/bbolt"
)

var (
	// deploymentsBucketKey is the key for the bucket that contains each
	// deployment.
	//
	// The keys are the deployment IDs. The values are JSON-encoded
	// persistence.Deployment values.
	deploymentsBucketKey = []byte("deployments")

	// deploymentsByGroupBucketKey is the key for a bucket that indexes
	// deployments by their group and creation time.
	//
	// It contains a child bucket for each group. Within the group bucket the
	// keys are produced by marshalIndexKey() and the values are always nil.
	deploymentsByGroupBucketKey = []byte("deployments_by_group")
)

// LoadDeployment loads the deployment with the given ID.
func (ds *DataStore) LoadDeployment(
	ctx context.Context,
	id string,
) (d persistence.Deployment, ok bool, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			d, ok = loadDeployment(tx, id)
		},
	)

	return d, ok, err
}

// LoadDeploymentsByGroup loads up to n of the most recently created
// deployments in a group, newest first.
func (ds *DataStore) LoadDeploymentsByGroup(
	ctx context.Context,
	group string,
	n int,
) (result []persistence.Deployment, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			index := bboltx.Bucket(tx, deploymentsByGroupBucketKey, []byte(group))
			if index == nil {
				return
			}

			cur := index.Cursor()
			for k, _ := cur.Last(); k != nil; k, _ = cur.Prev() {
				if n > 0 && len(result) == n {
					return
				}

				d, _ := loadDeployment(tx, unmarshalIndexKey(k))
				result = append(result, d)
			}
		},
	)

	return result, err
}

// VisitSaveDeployment applies the changes in a "SaveDeployment" operation to
// the database.
func (c *committer) VisitSaveDeployment(
	_ context.Context,
	op persistence.SaveDeployment,
) error {
	if _, ok := loadDeployment(c.tx, op.Deployment.ID); ok {
		return persistence.ConflictError{Cause: op}
	}

	saveDeployment(c.tx, op.Deployment)

	bboltx.Put(
		bboltx.CreateBucketIfNotExists(
			c.tx,
			deploymentsByGroupBucketKey,
			[]byte(op.Deployment.Group),
		),
		marshalIndexKey(op.Deployment.Created, op.Deployment.ID),
		nil,
	)

	return nil
}

// VisitUpdateDeploymentStatus applies the changes in an
// "UpdateDeploymentStatus" operation to the database.
func (c *committer) VisitUpdateDeploymentStatus(
	_ context.Context,
	op persistence.UpdateDeploymentStatus,
) error {
	d, ok := loadDeployment(c.tx, op.ID)
	if !ok {
		return persistence.NotFoundError{Cause: op}
	}

	if d.Status != op.From {
		return persistence.ConflictError{Cause: op}
	}

	d.Status = op.To
	d.Updated = op.Updated

	if op.To == persistence.DeploymentFailed {
		d.Error = op.Error
	}

	saveDeployment(c.tx, d)

	return nil
}

// VisitUpdateDeploymentParent applies the changes in an
// "UpdateDeploymentParent" operation to the database.
func (c *committer) VisitUpdateDeploymentParent(
	_ context.Context,
	op persistence.UpdateDeploymentParent,
) error {
	d, ok := loadDeployment(c.tx, op.ID)
	if !ok {
		return persistence.NotFoundError{Cause: op}
	}

	d.ParentManifestID = op.ParentManifestID
	saveDeployment(c.tx, d)

	return nil
}

// loadDeployment loads a deployment by its ID.
func loadDeployment(tx *bbolt.Tx, id string) (persistence.Deployment, bool) {
	var d persistence.Deployment

	b := tx.Bucket(deploymentsBucketKey)
	if b == nil {
		return d, false
	}

	data := b.Get([]byte(id))
	if data == nil {
		return d, false
	}

	unmarshalRecord(data, &d)

	return d, true
}

// saveDeployment writes a deployment to the database.
func saveDeployment(tx *bbolt.Tx, d persistence.Deployment) {
	bboltx.Put(
		bboltx.CreateBucketIfNotExists(tx, deploymentsBucketKey),
		[]byte(d.ID),
		marshalRecord(d),
	)
}
