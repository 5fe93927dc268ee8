package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dogmatiq/mergedeploy/function"
	"go.uber.org/zap"
)

// tenantRequest is the deployment input understood by mergeTenant().
type tenantRequest struct {
	TenantID string   `json:"tenantId"`
	Values   []string `json:"values"`
	Command  string   `json:"command,omitempty"`
}

const (
	mergeCommand = "MERGE"
	clearCommand = "CLEAR"
)

// tenantManifestVersion is the version of tenantManifest. Manifests without a
// version are maps of tenant ID to values.
const tenantManifestVersion = "1"

// tenantManifest is the manifest produced by mergeTenant().
type tenantManifest struct {
	Version string                  `json:"version"`
	Count   int                     `json:"count"`
	Tenants map[string]tenantRecord `json:"tenants"`
}

type tenantRecord struct {
	RecentValues []string `json:"recentValues"`
	UniqueValues []string `json:"uniqueValues"`
	Count        int      `json:"count"`
}

// mergeTenant records the values in the request against its tenant.
//
// The CLEAR command removes every other tenant and resets the count.
func mergeTenant(_ context.Context, req function.MergeRequest) (function.MergeResponse, error) {
	var in tenantRequest
	if err := json.Unmarshal(req.Request, &in); err != nil {
		return function.MergeResponse{
			Errors: []string{fmt.Sprintf("request is malformed: %s", err)},
		}, nil
	}

	if in.TenantID == "" {
		return function.MergeResponse{
			Errors: []string{"tenantId is required"},
		}, nil
	}

	if in.Command != "" && in.Command != mergeCommand && in.Command != clearCommand {
		return function.MergeResponse{
			Errors: []string{fmt.Sprintf("unrecognized command: %s", in.Command)},
		}, nil
	}

	m, err := upgradeManifest(req.Manifest)
	if err != nil {
		return function.MergeResponse{}, err
	}

	rec := m.Tenants[in.TenantID]

	if in.Command == clearCommand {
		m.Count = 0
		m.Tenants = map[string]tenantRecord{}
	}

	m.Count++
	m.Tenants[in.TenantID] = tenantRecord{
		RecentValues: nonNil(in.Values),
		UniqueValues: union(in.Values, rec.UniqueValues),
		Count:        rec.Count + 1,
	}

	data, err := json.Marshal(m)
	if err != nil {
		return function.MergeResponse{}, err
	}

	return function.MergeResponse{Manifest: data}, nil
}

// upgradeManifest parses a manifest, converting unversioned manifests to the
// current version.
func upgradeManifest(data []byte) (tenantManifest, error) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return tenantManifest{}, fmt.Errorf("unable to parse manifest: %w", err)
	}

	if probe.Version == tenantManifestVersion {
		var m tenantManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return tenantManifest{}, fmt.Errorf("unable to parse manifest: %w", err)
		}

		if m.Tenants == nil {
			m.Tenants = map[string]tenantRecord{}
		}

		return m, nil
	}

	var v0 map[string][]string
	if err := json.Unmarshal(data, &v0); err != nil {
		return tenantManifest{}, fmt.Errorf("unable to parse unversioned manifest: %w", err)
	}

	m := tenantManifest{
		Version: tenantManifestVersion,
		Count:   1,
		Tenants: map[string]tenantRecord{},
	}

	for id, values := range v0 {
		m.Tenants[id] = tenantRecord{
			RecentValues: nonNil(values),
			UniqueValues: union(values, nil),
			Count:        1,
		}
	}

	return m, nil
}

// union returns the distinct values of a followed by those of b, in order of
// first occurrence.
func union(a, b []string) []string {
	seen := map[string]struct{}{}
	result := []string{}

	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				result = append(result, v)
			}
		}
	}

	return result
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}

// validateTenant accepts every manifest.
func validateTenant(context.Context, function.ValidateManifestRequest) (function.ValidateResponse, error) {
	return function.ValidateResponse{Valid: true}, nil
}

// logHook returns a hook that logs each new manifest.
func logHook(logger *zap.Logger) function.ManifestHookFunc {
	return func(_ context.Context, req function.ManifestHookRequest) error {
		logger.Info(
			"manifest updated",
			zap.String("manifest_id", req.ManifestID),
			zap.Int("size", len(req.Manifest)),
		)

		return nil
	}
}
