package persistence

import (
	"context"
	"errors"
	"time"
)

// Repository is the data-access layer used by the deployment pipeline.
//
// All deployment status transitions are conditional writes. Manifest and stage
// writes are unconditional creates or overwrites.
type Repository struct {
	// DataStore is the underlying data-store.
	DataStore DataStore

	// Now returns the current time. If it is nil, time.Now() is used.
	Now func() time.Time
}

// CreateDeployment persists a new deployment.
//
// It returns a ConflictError if a deployment with the same ID already exists.
func (r *Repository) CreateDeployment(ctx context.Context, d Deployment) (Deployment, error) {
	now := r.now()

	if d.Created.IsZero() {
		d.Created = now
	}

	if d.Updated.IsZero() {
		d.Updated = d.Created
	}

	err := r.DataStore.Persist(ctx, Batch{
		SaveDeployment{Deployment: d},
	})

	return d, err
}

// CompareAndSwapStatus transitions a deployment to a new status only if its
// current status is expectedFrom.
//
// ok is false if the deployment's status was not expectedFrom. A false result
// means the deployment was transitioned by some other execution, it is never
// ordinary contention and must not be retried.
//
// errMsg is recorded against the deployment when to is DeploymentFailed.
func (r *Repository) CompareAndSwapStatus(
	ctx context.Context,
	id string,
	to, expectedFrom DeploymentStatus,
	errMsg string,
) (ok bool, _ error) {
	err := r.DataStore.Persist(ctx, Batch{
		UpdateDeploymentStatus{
			ID:      id,
			From:    expectedFrom,
			To:      to,
			Updated: r.now(),
			Error:   errMsg,
		},
	})

	if errors.As(err, &ConflictError{}) {
		return false, nil
	}

	return err == nil, err
}

// SetDeploymentParent records the ID of the manifest that a deployment was
// merged into.
func (r *Repository) SetDeploymentParent(ctx context.Context, id, manifestID string) error {
	return r.DataStore.Persist(ctx, Batch{
		UpdateDeploymentParent{
			ID:               id,
			ParentManifestID: manifestID,
		},
	})
}

// GetDeployment loads a deployment by its ID.
func (r *Repository) GetDeployment(ctx context.Context, id string) (Deployment, bool, error) {
	return r.DataStore.LoadDeployment(ctx, id)
}

// ListDeployments lists up to limit of a group's deployments, newest first.
func (r *Repository) ListDeployments(ctx context.Context, group string, limit int) ([]Deployment, error) {
	return r.DataStore.LoadDeploymentsByGroup(ctx, group, limit)
}

// CreateManifest persists a new manifest.
//
// It returns a ConflictError if a manifest with the same ID already exists.
func (r *Repository) CreateManifest(ctx context.Context, m Manifest) (Manifest, error) {
	if m.Created.IsZero() {
		m.Created = r.now()
	}

	err := r.DataStore.Persist(ctx, Batch{
		SaveManifest{Manifest: m},
	})

	return m, err
}

// GetManifest loads a manifest by its ID.
func (r *Repository) GetManifest(ctx context.Context, id string) (Manifest, bool, error) {
	return r.DataStore.LoadManifest(ctx, id)
}

// ListManifests lists up to limit of a group's manifests, newest first.
func (r *Repository) ListManifests(ctx context.Context, group string, limit int) ([]Manifest, error) {
	return r.DataStore.LoadManifestsByGroup(ctx, group, limit)
}

// GetStagePointer loads the pointer for a specific stage of a group.
func (r *Repository) GetStagePointer(ctx context.Context, group, stage string) (Stage, bool, error) {
	return r.DataStore.LoadStage(ctx, group, stage)
}

// SetStagePointer points a stage of a group at a manifest.
func (r *Repository) SetStagePointer(ctx context.Context, group, stage, manifestID string) error {
	return r.DataStore.Persist(ctx, Batch{
		r.StagePointerOperation(group, stage, manifestID),
	})
}

// StagePointerOperation returns the operation that points a stage of a group
// at a manifest, for inclusion in a larger batch.
func (r *Repository) StagePointerOperation(group, stage, manifestID string) SaveStage {
	return SaveStage{
		Stage: Stage{
			Group:      group,
			Name:       stage,
			ManifestID: manifestID,
			Updated:    r.now(),
		},
	}
}

// ListStages lists all of a group's stage pointers, ordered by name.
func (r *Repository) ListStages(ctx context.Context, group string) ([]Stage, error) {
	return r.DataStore.LoadStages(ctx, group)
}

func (r *Repository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}
