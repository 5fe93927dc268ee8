package persistence

import (
	"context"
	"time"
)

// DefaultGroup is the group used for deployments that do not specify one.
const DefaultGroup = "DEFAULT"

// DeploymentStatus is the state of a deployment within its lifecycle.
type DeploymentStatus string

const (
	// DeploymentWaiting is the status of a deployment that has been submitted
	// but has not yet been admitted by its group's lock.
	DeploymentWaiting DeploymentStatus = "WAITING"

	// DeploymentInProgress is the status of the deployment that currently holds
	// its group's lock.
	DeploymentInProgress DeploymentStatus = "IN_PROGRESS"

	// DeploymentSuccessful is the status of a deployment whose manifest was
	// promoted to the final stage.
	DeploymentSuccessful DeploymentStatus = "SUCCESSFUL"

	// DeploymentFailed is the status of a deployment that was aborted.
	DeploymentFailed DeploymentStatus = "FAILED"
)

// IsTerminal returns true if s is a status that is never transitioned away
// from.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentSuccessful || s == DeploymentFailed
}

// Deployment is a single submitted request to merge into a group's manifest.
type Deployment struct {
	// ID is the unique identifier of the deployment. It doubles as the
	// idempotency key for the group's lock and as the ID of the manifest it
	// produces.
	ID string

	// Group is the isolation partition that the deployment belongs to.
	Group string

	// Input is the opaque serialized request payload.
	Input []byte

	// Status is the current status of the deployment.
	Status DeploymentStatus

	// Created is the time at which the deployment was submitted.
	Created time.Time

	// Updated is the time of the most recent status transition.
	Updated time.Time

	// ParentManifestID is the ID of the manifest that was current when the
	// deployment began processing. It is empty until that manifest is known,
	// and remains empty for the first deployment in a group.
	ParentManifestID string

	// Error is a description of the failure that caused the deployment to
	// become FAILED, if any.
	Error string
}

// DeploymentRepository is an interface for reading persisted deployments.
type DeploymentRepository interface {
	// LoadDeployment loads the deployment with the given ID.
	//
	// ok is false if the deployment does not exist.
	LoadDeployment(ctx context.Context, id string) (_ Deployment, ok bool, _ error)

	// LoadDeploymentsByGroup loads up to n of the most recently created
	// deployments in a group, newest first.
	//
	// If n is non-positive all deployments in the group are loaded.
	LoadDeploymentsByGroup(ctx context.Context, group string, n int) ([]Deployment, error)
}

// SaveDeployment is a persistence operation that creates a new deployment.
//
// An optimistic concurrency conflict occurs if a deployment with the same ID
// already exists.
type SaveDeployment struct {
	Deployment Deployment
}

// UpdateDeploymentStatus is a persistence operation that transitions a
// deployment from one status to another.
type UpdateDeploymentStatus struct {
	// ID is the ID of the deployment to update.
	ID string

	// From is the status that the deployment is expected to have. If the
	// deployment's current status is anything else an optimistic concurrency
	// conflict occurs and the entire batch of operations is rejected.
	From DeploymentStatus

	// To is the deployment's new status.
	To DeploymentStatus

	// Updated is the time of the transition.
	Updated time.Time

	// Error is the failure description to record. It is ignored unless To is
	// DeploymentFailed.
	Error string
}

// UpdateDeploymentParent is a persistence operation that records the ID of the
// manifest that a deployment was merged into.
type UpdateDeploymentParent struct {
	ID               string
	ParentManifestID string
}
