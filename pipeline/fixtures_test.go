package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
)

// history is the manifest produced by appendMerge.
type history struct {
	IDs []string `json:"ids"`
}

// input returns the deployment input used by the tests.
func input(id string) []byte {
	data, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		panic(err)
	}

	return data
}

// appendMerge is a merge function that appends the ID in the request to the
// list of IDs in the manifest.
func appendMerge(_ context.Context, req function.MergeRequest) (function.MergeResponse, error) {
	var h history
	if err := json.Unmarshal(req.Manifest, &h); err != nil {
		return function.MergeResponse{}, err
	}

	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Request, &in); err != nil {
		return function.MergeResponse{}, err
	}

	h.IDs = append(h.IDs, in.ID)

	data, err := json.Marshal(h)
	return function.MergeResponse{Manifest: data}, err
}

// requestID returns the ID in a merge request's input.
func requestID(req function.MergeRequest) string {
	var in struct {
		ID string `json:"id"`
	}
	json.Unmarshal(req.Request, &in)
	return in.ID
}

// spyDataStore is a data store that records the batches it persists.
type spyDataStore struct {
	*memory.DataStore

	m       sync.Mutex
	batches []persistence.Batch
}

func (s *spyDataStore) Persist(ctx context.Context, b persistence.Batch) error {
	s.m.Lock()
	s.batches = append(s.batches, b)
	s.m.Unlock()

	return s.DataStore.Persist(ctx, b)
}

// failingStore is a parameter store that can not be written.
type failingStore struct{}

func (failingStore) Put(context.Context, string, string) error {
	return errors.New("<put failed>")
}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}
