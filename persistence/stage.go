package persistence

import (
	"context"
	"time"
)

// FinalStage is the name of the reserved stage that points to a group's
// current manifest.
const FinalStage = "FINAL"

// EmptyManifestParameterValue is the value of a mirrored stage parameter
// before any manifest has been promoted to that stage.
const EmptyManifestParameterValue = "__EMPTY"

// Stage is a pointer from a named rollout stage to a manifest.
type Stage struct {
	Group      string
	Name       string
	ManifestID string
	Updated    time.Time
}

// StageRepository is an interface for reading stage pointers.
type StageRepository interface {
	// LoadStage loads the pointer for a specific stage of a group.
	//
	// ok is false if no manifest has been promoted to that stage.
	LoadStage(ctx context.Context, group, name string) (_ Stage, ok bool, _ error)

	// LoadStages loads all of a group's stage pointers, ordered by name.
	LoadStages(ctx context.Context, group string) ([]Stage, error)
}

// SaveStage is a persistence operation that creates or overwrites a stage
// pointer.
type SaveStage struct {
	Stage Stage
}

// Parameter is an externally visible named value.
type Parameter struct {
	Name  string
	Value string
}

// ParameterRepository is an interface for reading parameters.
type ParameterRepository interface {
	// LoadParameter loads the value of a parameter.
	//
	// ok is false if the parameter has never been saved.
	LoadParameter(ctx context.Context, name string) (_ string, ok bool, _ error)
}

// SaveParameter is a persistence operation that creates or overwrites a
// parameter.
type SaveParameter struct {
	Parameter Parameter
}

// PromotionIntent is a write-ahead record of a stage promotion that spans the
// data-store and an external system.
//
// It is kept until both halves of the promotion have been applied.
type PromotionIntent struct {
	Group      string
	Stage      string
	ManifestID string
	Parameter  string
	Created    time.Time
}

// PromotionIntentRepository is an interface for reading promotion intents.
type PromotionIntentRepository interface {
	// LoadPromotionIntents loads all outstanding promotion intents, ordered by
	// creation time.
	LoadPromotionIntents(ctx context.Context) ([]PromotionIntent, error)
}

// SavePromotionIntent is a persistence operation that records a promotion
// intent. It overwrites any existing intent for the same group and stage.
type SavePromotionIntent struct {
	Intent PromotionIntent
}

// RemovePromotionIntent is a persistence operation that removes the promotion
// intent for a stage, if there is one.
type RemovePromotionIntent struct {
	Group string
	Stage string
}
