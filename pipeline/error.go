package pipeline

import (
	"fmt"
	"strings"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// DuplicateExecutionError is returned when a deployment's status was changed
// by some other execution of the same deployment.
type DuplicateExecutionError struct {
	// ID is the deployment ID.
	ID string

	// Expected is the status that the deployment was expected to have.
	Expected persistence.DeploymentStatus

	// Actual is the status that the deployment actually had, if known.
	Actual persistence.DeploymentStatus
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf(
		"deployment '%s' has already been processed by another execution (expected status %s, found %s)",
		e.ID,
		e.Expected,
		e.Actual,
	)
}

// MergeError is returned when the merge function does not produce a manifest.
type MergeError struct {
	Errors []string
}

func (e *MergeError) Error() string {
	if len(e.Errors) == 0 {
		return "merge function did not produce a manifest"
	}

	return "merge failed: " + strings.Join(e.Errors, "; ")
}

// ValidationError is returned when the validator rejects a merged manifest.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "manifest is invalid"
	}

	return "manifest is invalid: " + strings.Join(e.Errors, "; ")
}

// PromotionError is returned when the stage pointer and its parameter could
// not both be written.
type PromotionError struct {
	// Stage is the name of the stage that was being promoted.
	Stage string

	// Cause is the underlying error.
	Cause error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("unable to promote the '%s' stage: %s", e.Stage, e.Cause)
}

func (e *PromotionError) Unwrap() error {
	return e.Cause
}
