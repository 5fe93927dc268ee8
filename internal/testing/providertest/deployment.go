package providertest

import (
	"time"

	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func declareDeploymentTests(tc *testContext) {
	ginkgo.Context("deployments", func() {
		var (
			now         time.Time
			dep0, dep1  persistence.Deployment
			dep2        persistence.Deployment
			otherGroup  persistence.Deployment
			loadByGroup func(group string, n int) []persistence.Deployment
		)

		ginkgo.BeforeEach(func() {
			now = time.Now().Truncate(time.Microsecond)

			dep0 = persistence.Deployment{
				ID:      "<deployment-0>",
				Group:   "<group>",
				Input:   []byte(`{"value":0}`),
				Status:  persistence.DeploymentWaiting,
				Created: now,
				Updated: now,
			}

			dep1 = dep0
			dep1.ID = "<deployment-1>"
			dep1.Input = []byte(`{"value":1}`)
			dep1.Created = now.Add(1 * time.Second)
			dep1.Updated = dep1.Created

			dep2 = dep0
			dep2.ID = "<deployment-2>"
			dep2.Input = []byte(`{"value":2}`)
			dep2.Created = now.Add(2 * time.Second)
			dep2.Updated = dep2.Created

			otherGroup = dep0
			otherGroup.ID = "<deployment-other>"
			otherGroup.Group = "<other-group>"

			loadByGroup = func(group string, n int) []persistence.Deployment {
				deps, err := tc.DataStore.LoadDeploymentsByGroup(tc.Context, group, n)
				gomega.ExpectWithOffset(1, err).ShouldNot(gomega.HaveOccurred())
				return deps
			}
		})

		ginkgo.Describe("type persistence.SaveDeployment", func() {
			ginkgo.It("creates the deployment", func() {
				tc.persist(persistence.SaveDeployment{Deployment: dep0})

				d, ok, err := tc.DataStore.LoadDeployment(tc.Context, dep0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				expectEqual(d, dep0)
			})

			ginkgo.It("returns a conflict error if the deployment already exists", func() {
				tc.persist(persistence.SaveDeployment{Deployment: dep0})

				op := persistence.SaveDeployment{Deployment: dep0}
				err := tc.DataStore.Persist(tc.Context, persistence.Batch{op})
				gomega.Expect(err).To(gomega.Equal(persistence.ConflictError{Cause: op}))
			})
		})

		ginkgo.Describe("type persistence.UpdateDeploymentStatus", func() {
			ginkgo.BeforeEach(func() {
				tc.persist(persistence.SaveDeployment{Deployment: dep0})
			})

			ginkgo.It("updates the status if the current status matches", func() {
				updated := now.Add(5 * time.Second)

				tc.persist(persistence.UpdateDeploymentStatus{
					ID:      dep0.ID,
					From:    persistence.DeploymentWaiting,
					To:      persistence.DeploymentInProgress,
					Updated: updated,
				})

				d, _, err := tc.DataStore.LoadDeployment(tc.Context, dep0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(d.Status).To(gomega.Equal(persistence.DeploymentInProgress))
				gomega.Expect(d.Updated).To(gomega.BeTemporally("==", updated))
				gomega.Expect(d.Error).To(gomega.BeEmpty())
			})

			ginkgo.It("records the error when the deployment fails", func() {
				tc.persist(persistence.UpdateDeploymentStatus{
					ID:      dep0.ID,
					From:    persistence.DeploymentWaiting,
					To:      persistence.DeploymentFailed,
					Updated: now,
					Error:   "<error>",
				})

				d, _, err := tc.DataStore.LoadDeployment(tc.Context, dep0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(d.Status).To(gomega.Equal(persistence.DeploymentFailed))
				gomega.Expect(d.Error).To(gomega.Equal("<error>"))
			})

			ginkgo.It("returns a conflict error if the current status does not match", func() {
				op := persistence.UpdateDeploymentStatus{
					ID:      dep0.ID,
					From:    persistence.DeploymentInProgress,
					To:      persistence.DeploymentSuccessful,
					Updated: now,
				}

				err := tc.DataStore.Persist(tc.Context, persistence.Batch{op})
				gomega.Expect(err).To(gomega.Equal(persistence.ConflictError{Cause: op}))

				d, _, err := tc.DataStore.LoadDeployment(tc.Context, dep0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(d.Status).To(gomega.Equal(persistence.DeploymentWaiting))
			})

			ginkgo.It("allows only one of two identical transitions to succeed", func() {
				op := persistence.UpdateDeploymentStatus{
					ID:      dep0.ID,
					From:    persistence.DeploymentWaiting,
					To:      persistence.DeploymentInProgress,
					Updated: now,
				}

				tc.persist(op)

				err := tc.DataStore.Persist(tc.Context, persistence.Batch{op})
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))
			})

			ginkgo.It("returns a not-found error if the deployment does not exist", func() {
				op := persistence.UpdateDeploymentStatus{
					ID:   "<unknown>",
					From: persistence.DeploymentWaiting,
					To:   persistence.DeploymentInProgress,
				}

				err := tc.DataStore.Persist(tc.Context, persistence.Batch{op})
				gomega.Expect(err).To(gomega.Equal(persistence.NotFoundError{Cause: op}))
			})
		})

		ginkgo.Describe("type persistence.UpdateDeploymentParent", func() {
			ginkgo.It("sets the parent manifest ID", func() {
				tc.persist(persistence.SaveDeployment{Deployment: dep0})
				tc.persist(persistence.UpdateDeploymentParent{
					ID:               dep0.ID,
					ParentManifestID: "<manifest>",
				})

				d, _, err := tc.DataStore.LoadDeployment(tc.Context, dep0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(d.ParentManifestID).To(gomega.Equal("<manifest>"))
			})

			ginkgo.It("can be combined with the creation of the deployment", func() {
				tc.persist(
					persistence.SaveDeployment{Deployment: dep0},
					persistence.UpdateDeploymentParent{
						ID:               dep0.ID,
						ParentManifestID: "<manifest>",
					},
				)

				d, _, err := tc.DataStore.LoadDeployment(tc.Context, dep0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(d.ParentManifestID).To(gomega.Equal("<manifest>"))
			})

			ginkgo.It("returns a not-found error if the deployment does not exist", func() {
				op := persistence.UpdateDeploymentParent{
					ID:               "<unknown>",
					ParentManifestID: "<manifest>",
				}

				err := tc.DataStore.Persist(tc.Context, persistence.Batch{op})
				gomega.Expect(err).To(gomega.Equal(persistence.NotFoundError{Cause: op}))
			})
		})

		ginkgo.Describe("func LoadDeployment()", func() {
			ginkgo.It("returns false if the deployment does not exist", func() {
				_, ok, err := tc.DataStore.LoadDeployment(tc.Context, "<unknown>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func LoadDeploymentsByGroup()", func() {
			ginkgo.BeforeEach(func() {
				// Persisted out of order to verify that results are sorted by
				// creation time.
				tc.persist(persistence.SaveDeployment{Deployment: dep1})
				tc.persist(persistence.SaveDeployment{Deployment: dep2})
				tc.persist(persistence.SaveDeployment{Deployment: dep0})
				tc.persist(persistence.SaveDeployment{Deployment: otherGroup})
			})

			ginkgo.It("returns the deployments newest first", func() {
				expectEqual(
					loadByGroup("<group>", 0),
					[]persistence.Deployment{dep2, dep1, dep0},
				)
			})

			ginkgo.It("limits the number of deployments returned", func() {
				expectEqual(
					loadByGroup("<group>", 2),
					[]persistence.Deployment{dep2, dep1},
				)
			})

			ginkgo.It("returns an empty result for an unknown group", func() {
				gomega.Expect(loadByGroup("<unknown>", 0)).To(gomega.BeEmpty())
			})
		})
	})
}
