package persistence_test

import (
	. "github.com/dogmatiq/mergedeploy/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type ConflictError", func() {
	Describe("func Error()", func() {
		It("describes the operation and the affected record", func() {
			err := ConflictError{
				Cause: UpdateDeploymentStatus{ID: "<id>"},
			}

			Expect(err).To(
				MatchError("persistence.UpdateDeploymentStatus operation on deployment <id> conflicts with the stored state"),
			)
		})
	})
})

var _ = Describe("type NotFoundError", func() {
	Describe("func Error()", func() {
		It("describes the operation and the missing record", func() {
			err := NotFoundError{
				Cause: UpdateDeploymentParent{ID: "<id>"},
			}

			Expect(err).To(
				MatchError("persistence.UpdateDeploymentParent operation on deployment-parent <id> refers to a missing record"),
			)
		})
	})
})

var _ = Describe("type DeploymentStatus", func() {
	Describe("func IsTerminal()", func() {
		DescribeTable(
			"it reports whether the status is terminal",
			func(s DeploymentStatus, expect bool) {
				Expect(s.IsTerminal()).To(Equal(expect))
			},
			Entry("WAITING", DeploymentWaiting, false),
			Entry("IN_PROGRESS", DeploymentInProgress, false),
			Entry("SUCCESSFUL", DeploymentSuccessful, true),
			Entry("FAILED", DeploymentFailed, true),
		)
	})
})
