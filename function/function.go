package function

import "context"

// Merger merges a deployment's input into the current manifest.
type Merger interface {
	Merge(ctx context.Context, req MergeRequest) (MergeResponse, error)
}

// ManifestValidator decides whether a merged manifest may be persisted.
type ManifestValidator interface {
	ValidateManifest(ctx context.Context, req ValidateManifestRequest) (ValidateResponse, error)
}

// ManifestHook is notified when a new manifest has been persisted.
type ManifestHook interface {
	UpdatedManifestHook(ctx context.Context, req ManifestHookRequest) error
}

// StageFunction prepares or tests a stage to which a manifest has been
// promoted.
type StageFunction interface {
	RunStage(ctx context.Context, req StageRequest) error
}

// MergerFunc is an adaptor that allows a function to be used as a Merger.
type MergerFunc func(context.Context, MergeRequest) (MergeResponse, error)

// Merge calls fn(ctx, req).
func (fn MergerFunc) Merge(ctx context.Context, req MergeRequest) (MergeResponse, error) {
	return fn(ctx, req)
}

// ManifestValidatorFunc is an adaptor that allows a function to be used as a
// ManifestValidator.
type ManifestValidatorFunc func(context.Context, ValidateManifestRequest) (ValidateResponse, error)

// ValidateManifest calls fn(ctx, req).
func (fn ManifestValidatorFunc) ValidateManifest(ctx context.Context, req ValidateManifestRequest) (ValidateResponse, error) {
	return fn(ctx, req)
}

// ManifestHookFunc is an adaptor that allows a function to be used as a
// ManifestHook.
type ManifestHookFunc func(context.Context, ManifestHookRequest) error

// UpdatedManifestHook calls fn(ctx, req).
func (fn ManifestHookFunc) UpdatedManifestHook(ctx context.Context, req ManifestHookRequest) error {
	return fn(ctx, req)
}

// StageFunc is an adaptor that allows a function to be used as a
// StageFunction.
type StageFunc func(context.Context, StageRequest) error

// RunStage calls fn(ctx, req).
func (fn StageFunc) RunStage(ctx context.Context, req StageRequest) error {
	return fn(ctx, req)
}

// Set is the set of functions used by a pipeline.
type Set struct {
	// Merge is the merge function. It is required.
	Merge Merger

	// Validate is the manifest validator. It is optional.
	Validate ManifestValidator

	// Hook is the post-merge hook. It is optional.
	Hook ManifestHook
}

// StageDefinition describes a rollout stage.
type StageDefinition struct {
	// Name is the name of the stage.
	Name string

	// Prepare is invoked after the manifest is promoted to the stage. It is
	// optional.
	Prepare StageFunction

	// Test is invoked after Prepare. It is optional.
	Test StageFunction
}
