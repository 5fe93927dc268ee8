package boltdb

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	"github.com/dogmatiq/mergedeploy/persistence"
	"go.etcd.io/bbolt"
)

var (
	// manifestsBucketKey is the key for the bucket that contains each
	// manifest.
	//
	// The keys are the manifest IDs. The values are JSON-encoded
	// persistence.Manifest values.
	manifestsBucketKey = []byte("manifests")

	// manifestsByGroupBucketKey is the key for a bucket that indexes manifests
	// by their group and creation time, in the same manner as
	// deploymentsByGroupBucketKey.
	manifestsByGroupBucketKey = []byte("manifests_by_group")
)

// LoadManifest loads the manifest with the given ID.
func (ds *DataStore) LoadManifest(
	ctx context.Context,
	id string,
) (m persistence.Manifest, ok bool, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			m, ok = loadManifest(tx, id)
		},
	)

	return m, ok, err
}

// LoadManifestsByGroup loads up to n of the most recently created manifests
// in a group, newest first.
func (ds *DataStore) LoadManifestsByGroup(
	ctx context.Context,
	group string,
	n int,
) (result []persistence.Manifest, err error) {
	err = bboltx.View(
		ctx,
		ds.DB,
		func(tx *bbolt.Tx) {
			index := bboltx.Bucket(tx, manifestsByGroupBucketKey, []byte(group))
			if index == nil {
				return
			}

			cur := index.Cursor()
			for k, _ := cur.Last(); k != nil; k, _ = cur.Prev() {
				if n > 0 && len(result) == n {
					return
				}

				m, _ := loadManifest(tx, unmarshalIndexKey(k))
				result = append(result, m)
			}
		},
	)

	return result, err
}

// VisitSaveManifest applies the changes in a "SaveManifest" operation to the
// database.
func (c *committer) VisitSaveManifest(
	_ context.Context,
	op persistence.SaveManifest,
) error {
	if _, ok := loadManifest(c.tx, op.Manifest.ID); ok {
		return persistence.ConflictError{Cause: op}
	}

	bboltx.Put(
		bboltx.CreateBucketIfNotExists(c.tx, manifestsBucketKey),
		[]byte(op.Manifest.ID),
		marshalRecord(op.Manifest),
	)

	bboltx.Put(
		bboltx.CreateBucketIfNotExists(
			c.tx,
			manifestsByGroupBucketKey,
			[]byte(op.Manifest.Group),
		),
		marshalIndexKey(op.Manifest.Created, op.Manifest.ID),
		nil,
	)

	return nil
}

// loadManifest loads a manifest by its ID.
func loadManifest(tx *bbolt.Tx, id string) (persistence.Manifest, bool) {
	var m persistence.Manifest

	b := tx.Bucket(manifestsBucketKey)
	if b == nil {
		return m, false
	}

	data := b.Get([]byte(id))
	if data == nil {
		return m, false
	}

	unmarshalRecord(data, &m)

	return m, true
}
