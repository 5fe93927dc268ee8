package pipeline

// Request is a request to run a deployment.
type Request struct {
	// ID is the unique ID of the deployment. It is the idempotency key of the
	// request.
	ID string

	// Group is the group to deploy to. If it is empty, the pipeline's group is
	// used.
	Group string

	// Input is the opaque JSON input that is merged into the manifest.
	Input []byte
}
