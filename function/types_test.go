package function_test

import (
	"encoding/json"

	. "github.com/dogmatiq/mergedeploy/function"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("request and response types", func() {
	DescribeTable(
		"they use the field names of the function protocol",
		func(v any, expect string) {
			data, err := json.Marshal(v)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(data).To(MatchJSON(expect))
		},
		Entry(
			"MergeRequest",
			MergeRequest{
				Request:  json.RawMessage(`{"tenantId":"t1"}`),
				Manifest: json.RawMessage(`{}`),
			},
			`{"request":{"tenantId":"t1"},"manifest":{}}`,
		),
		Entry(
			"MergeResponse (success)",
			MergeResponse{Manifest: json.RawMessage(`{"v":1}`)},
			`{"manifest":{"v":1}}`,
		),
		Entry(
			"MergeResponse (failure)",
			MergeResponse{Errors: []string{"<error>"}},
			`{"errors":["<error>"]}`,
		),
		Entry(
			"ValidateManifestRequest",
			ValidateManifestRequest{
				Current: json.RawMessage(`{}`),
				Updated: json.RawMessage(`{"v":1}`),
			},
			`{"current":{},"updated":{"v":1}}`,
		),
		Entry(
			"ValidateResponse",
			ValidateResponse{Valid: false, Errors: []string{"<error>"}},
			`{"valid":false,"errors":["<error>"]}`,
		),
		Entry(
			"ManifestHookRequest",
			ManifestHookRequest{ManifestID: "<id>", Manifest: json.RawMessage(`{}`)},
			`{"manifestId":"<id>","manifest":{}}`,
		),
		Entry(
			"StageRequest",
			StageRequest{Group: "<group>", Stage: "beta", ManifestID: "<id>"},
			`{"group":"<group>","stage":"beta","manifestId":"<id>"}`,
		),
	)
})
