package persistence

import (
	"context"
	"time"
)

// Manifest is an immutable version of a group's shared document.
type Manifest struct {
	// ID is the unique identifier of the manifest. It is always the ID of the
	// deployment that produced it.
	ID string

	// Group is the isolation partition that the manifest belongs to.
	Group string

	// Manifest is the opaque serialized document.
	Manifest []byte

	// Created is the time at which the manifest was persisted.
	Created time.Time

	// ParentID is the ID of the manifest that this manifest was derived from.
	// It is empty for the first manifest in a group.
	ParentID string
}

// ManifestRepository is an interface for reading persisted manifests.
type ManifestRepository interface {
	// LoadManifest loads the manifest with the given ID.
	//
	// ok is false if the manifest does not exist.
	LoadManifest(ctx context.Context, id string) (_ Manifest, ok bool, _ error)

	// LoadManifestsByGroup loads up to n of the most recently created manifests
	// in a group, newest first.
	//
	// If n is non-positive all manifests in the group are loaded.
	LoadManifestsByGroup(ctx context.Context, group string, n int) ([]Manifest, error)
}

// SaveManifest is a persistence operation that creates a new manifest.
//
// Manifests are never modified, an optimistic concurrency conflict occurs if
// a manifest with the same ID already exists.
type SaveManifest struct {
	Manifest Manifest
}
