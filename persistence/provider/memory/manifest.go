package memory

import (
	"context"
	"sort"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// LoadManifest loads the manifest with the given ID.
func (ds *DataStore) LoadManifest(
	ctx context.Context,
	id string,
) (m persistence.Manifest, ok bool, err error) {
	err = ds.m.View(ctx, func() error {
		var p *persistence.Manifest
		p, ok = ds.manifest.byID[id]
		if ok {
			m = cloneManifest(*p)
		}
		return nil
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
	err = ds.m.View(ctx, func() error {
		order := ds.manifest.byGroup[group]

		for i := len(order) - 1; i >= 0; i-- {
			if n > 0 && len(result) == n {
				break
			}

			result = append(result, cloneManifest(*order[i]))
		}

		return nil
	})

	return result, err
}

// VisitSaveManifest returns an error if a "SaveManifest" operation can not be
// applied to the database.
func (v *validator) VisitSaveManifest(
	_ context.Context,
	op persistence.SaveManifest,
) error {
	if _, ok := v.ds.manifest.byID[op.Manifest.ID]; ok {
		return persistence.ConflictError{Cause: op}
	}

	return nil
}

// VisitSaveManifest applies the changes in a "SaveManifest" operation to the
// database.
func (c *committer) VisitSaveManifest(
	_ context.Context,
	op persistence.SaveManifest,
) error {
	c.ds.manifest.insert(cloneManifest(op.Manifest))
	return nil
}

// manifestDatabase contains manifest related data.
type manifestDatabase struct {
	byID map[string]*persistence.Manifest

	// byGroup contains each group's manifests, oldest first.
	byGroup map[string][]*persistence.Manifest
}

// insert adds a new manifest to the database, keeping the group index sorted
// by creation time.
func (db *manifestDatabase) insert(m persistence.Manifest) {
	if db.byID == nil {
		db.byID = map[string]*persistence.Manifest{}
		db.byGroup = map[string][]*persistence.Manifest{}
	}

	p := &m
	db.byID[m.ID] = p

	order := db.byGroup[m.Group]

	index := sort.Search(
		len(order),
		func(i int) bool {
			return m.Created.Before(order[i].Created)
		},
	)

	order = append(order, nil)
	copy(order[index+1:], order[index:])
	order[index] = p

	db.byGroup[m.Group] = order
}

func cloneManifest(m persistence.Manifest) persistence.Manifest {
	m.Manifest = append([]byte(nil), m.Manifest...)
	return m
}
