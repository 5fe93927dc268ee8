package api

import (
	"encoding/json"
	"time"

	"github.com/dogmatiq/mergedeploy/persistence"
)

// GroupsResponse is the response to GET /.
type GroupsResponse struct {
	Groups []string `json:"groups"`
}

// SubmitResponse is the response to an asynchronous submission.
type SubmitResponse struct {
	ID    string `json:"id"`
	Group string `json:"group"`
}

// DeploymentResponse is the representation of a deployment.
type DeploymentResponse struct {
	ID               string          `json:"id"`
	Group            string          `json:"group"`
	Status           string          `json:"status"`
	Input            json.RawMessage `json:"input"`
	Created          time.Time       `json:"created"`
	Updated          time.Time       `json:"updated"`
	ParentManifestID string          `json:"parentManifestId,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ManifestResponse is the representation of a manifest.
type ManifestResponse struct {
	ID       string          `json:"id"`
	Group    string          `json:"group"`
	Manifest json.RawMessage `json:"manifest"`
	Created  time.Time       `json:"created"`
	ParentID string          `json:"parentId,omitempty"`
}

// StageResponse is the representation of a stage pointer.
type StageResponse struct {
	Name       string    `json:"name"`
	ManifestID string    `json:"manifestId"`
	Updated    time.Time `json:"updated"`
}

// ErrorResponse is the body of every unsuccessful response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func deploymentToResponse(d persistence.Deployment) DeploymentResponse {
	return DeploymentResponse{
		ID:               d.ID,
		Group:            d.Group,
		Status:           string(d.Status),
		Input:            rawJSON(d.Input),
		Created:          d.Created,
		Updated:          d.Updated,
		ParentManifestID: d.ParentManifestID,
		Error:            d.Error,
	}
}

func manifestToResponse(m persistence.Manifest) ManifestResponse {
	return ManifestResponse{
		ID:       m.ID,
		Group:    m.Group,
		Manifest: rawJSON(m.Manifest),
		Created:  m.Created,
		ParentID: m.ParentID,
	}
}

// rawJSON returns data as a raw JSON value, or as a JSON string if it is not
// valid JSON.
func rawJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return json.RawMessage("null")
	}

	if json.Valid(data) {
		return data
	}

	s, _ := json.Marshal(string(data))
	return s
}
