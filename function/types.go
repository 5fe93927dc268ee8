// Package function defines the interfaces of the user-supplied functions that
// are invoked by the deployment pipeline.
//
// Requests and responses are JSON-serializable. Manifests and deployment
// inputs are opaque JSON documents.
package function

import (
	"encoding/json"
)

// MergeRequest is the request sent to a Merger.
type MergeRequest struct {
	// Request is the input of the deployment being merged.
	Request json.RawMessage `json:"request"`

	// Manifest is the group's current manifest.
	Manifest json.RawMessage `json:"manifest"`
}

// MergeResponse is the response returned by a Merger.
type MergeResponse struct {
	// Manifest is the updated manifest. It is empty if the merge failed.
	Manifest json.RawMessage `json:"manifest,omitempty"`

	// Errors is a list of reasons that the merge failed.
	Errors []string `json:"errors,omitempty"`
}

// ValidateManifestRequest is the request sent to a ManifestValidator.
type ValidateManifestRequest struct {
	// Current is the group's current manifest.
	Current json.RawMessage `json:"current"`

	// Updated is the manifest produced by the merge.
	Updated json.RawMessage `json:"updated"`
}

// ValidateResponse is the response returned by a ManifestValidator.
type ValidateResponse struct {
	// Valid is true if the updated manifest may be persisted.
	Valid bool `json:"valid"`

	// Errors is a list of reasons that the manifest is invalid.
	Errors []string `json:"errors,omitempty"`
}

// ManifestHookRequest is the request sent to a ManifestHook.
type ManifestHookRequest struct {
	// ManifestID is the ID of the new manifest.
	ManifestID string `json:"manifestId"`

	// Manifest is the content of the new manifest.
	Manifest json.RawMessage `json:"manifest"`
}

// StageRequest is the request sent to a stage's prepare and test functions.
//
// It identifies the manifest being promoted, but does not contain it.
type StageRequest struct {
	Group      string `json:"group"`
	Stage      string `json:"stage"`
	ManifestID string `json:"manifestId"`
}
