package persistence

import (
	"context"
	"fmt"
)

// Operation is a persistence operation that can be performed as part of an
// atomic batch.
type Operation interface {
	// AcceptVisitor calls the appropriate visit method on the given visitor.
	AcceptVisitor(context.Context, OperationVisitor) error

	// entityKey returns the key of the entity that the operation affects.
	entityKey() entityKey
}

// OperationVisitor visits persistence operations.
type OperationVisitor interface {
	VisitSaveDeployment(context.Context, SaveDeployment) error
	VisitUpdateDeploymentStatus(context.Context, UpdateDeploymentStatus) error
	VisitUpdateDeploymentParent(context.Context, UpdateDeploymentParent) error
	VisitSaveManifest(context.Context, SaveManifest) error
	VisitSaveStage(context.Context, SaveStage) error
	VisitSaveParameter(context.Context, SaveParameter) error
	VisitSavePromotionIntent(context.Context, SavePromotionIntent) error
	VisitRemovePromotionIntent(context.Context, RemovePromotionIntent) error
}

// AcceptVisitor calls v.VisitSaveDeployment().
func (op SaveDeployment) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveDeployment(ctx, op)
}

// AcceptVisitor calls v.VisitUpdateDeploymentStatus().
func (op UpdateDeploymentStatus) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitUpdateDeploymentStatus(ctx, op)
}

// AcceptVisitor calls v.VisitUpdateDeploymentParent().
func (op UpdateDeploymentParent) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitUpdateDeploymentParent(ctx, op)
}

// AcceptVisitor calls v.VisitSaveManifest().
func (op SaveManifest) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveManifest(ctx, op)
}

// AcceptVisitor calls v.VisitSaveStage().
func (op SaveStage) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveStage(ctx, op)
}

// AcceptVisitor calls v.VisitSaveParameter().
func (op SaveParameter) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSaveParameter(ctx, op)
}

// AcceptVisitor calls v.VisitSavePromotionIntent().
func (op SavePromotionIntent) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitSavePromotionIntent(ctx, op)
}

// AcceptVisitor calls v.VisitRemovePromotionIntent().
func (op RemovePromotionIntent) AcceptVisitor(ctx context.Context, v OperationVisitor) error {
	return v.VisitRemovePromotionIntent(ctx, op)
}

// entityKey identifies the entity affected by an operation.
//
// Status and parent updates to the same deployment are considered distinct
// entities, so both may appear in one batch.
type entityKey struct {
	kind string
	id   string
}

func (k entityKey) String() string {
	return fmt.Sprintf("%s %s", k.kind, k.id)
}

func (op SaveDeployment) entityKey() entityKey {
	return entityKey{"deployment", op.Deployment.ID}
}

func (op UpdateDeploymentStatus) entityKey() entityKey {
	return entityKey{"deployment", op.ID}
}

func (op UpdateDeploymentParent) entityKey() entityKey {
	return entityKey{"deployment-parent", op.ID}
}

func (op SaveManifest) entityKey() entityKey {
	return entityKey{"manifest", op.Manifest.ID}
}

func (op SaveStage) entityKey() entityKey {
	return entityKey{"stage", op.Stage.Group + "/" + op.Stage.Name}
}

func (op SaveParameter) entityKey() entityKey {
	return entityKey{"parameter", op.Parameter.Name}
}

func (op SavePromotionIntent) entityKey() entityKey {
	return entityKey{"promotion-intent", op.Intent.Group + "/" + op.Intent.Stage}
}

func (op RemovePromotionIntent) entityKey() entityKey {
	return entityKey{"promotion-intent", op.Group + "/" + op.Stage}
}
