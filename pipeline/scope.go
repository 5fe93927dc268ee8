package pipeline

import (
	"encoding/json"

	"github.com/dogmatiq/mergedeploy/persistence"
	"go.uber.org/zap"
)

// Scope holds the state of a single pipeline run.
type Scope struct {
	// Deployment is the deployment being processed. Its status is the last
	// status known to have been persisted by this run.
	Deployment persistence.Deployment

	// Current is the manifest that the deployment is merged into. Its ID is
	// empty if the group has no manifest yet.
	Current persistence.Manifest

	// Updated is the manifest produced by the merge.
	Updated json.RawMessage

	// Logger is the logger to use for messages about this run.
	Logger *zap.Logger

	// retainLock is set when a concurrent execution of the same deployment
	// shares this run's ticket, in which case the lock belongs to that
	// execution and must not be released.
	retainLock bool

	// started is true once this run has moved the deployment to IN_PROGRESS.
	started bool
}
