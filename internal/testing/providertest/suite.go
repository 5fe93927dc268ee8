// Package providertest contains a behavioral test suite that is run against
// every persistence.DataStore implementation.
package providertest

import (
	"context"
	"time"

	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// Out is a container for values that are provided by the provider-specific
// "before" function.
type Out struct {
	// NewDataStore returns a new, empty data-store, and a function that
	// releases any resources it uses.
	NewDataStore func() (persistence.DataStore, func())

	// TestTimeout is the maximum duration allowed for each test.
	TestTimeout time.Duration
}

// DefaultTestTimeout is the default test timeout.
const DefaultTestTimeout = 3 * time.Second

// Declare declares generic behavioral tests for a specific data-store
// implementation.
func Declare(
	before func(context.Context) Out,
	after func(),
) {
	var tc testContext

	ginkgo.Context("standard data-store test suite", func() {
		var cancel context.CancelFunc

		ginkgo.BeforeEach(func() {
			setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelSetup()

			out := before(setupCtx)

			if out.TestTimeout <= 0 {
				out.TestTimeout = DefaultTestTimeout
			}

			tc.Context, cancel = context.WithTimeout(context.Background(), out.TestTimeout)
			tc.DataStore, tc.tearDown = out.NewDataStore()
		})

		ginkgo.AfterEach(func() {
			if tc.tearDown != nil {
				tc.tearDown()
			}

			if after != nil {
				after()
			}

			cancel()
		})

		declareDataStoreTests(&tc)
		declareDeploymentTests(&tc)
		declareManifestTests(&tc)
		declareStageTests(&tc)
		declarePromotionIntentTests(&tc)
	})
}

// testContext is the state shared by every test in the suite.
type testContext struct {
	Context   context.Context
	DataStore persistence.DataStore
	tearDown  func()
}

// persist persists a batch of operations and asserts that there is no error.
func (tc *testContext) persist(ops ...persistence.Operation) {
	err := tc.DataStore.Persist(tc.Context, ops)
	gomega.ExpectWithOffset(1, err).ShouldNot(gomega.HaveOccurred())
}

// expectEqual asserts that two records are equal, ignoring time zones and the
// difference between nil and empty slices.
func expectEqual(actual, expected any) {
	diff := cmp.Diff(expected, actual, cmpopts.EquateEmpty())
	gomega.ExpectWithOffset(1, diff).To(gomega.BeEmpty())
}
