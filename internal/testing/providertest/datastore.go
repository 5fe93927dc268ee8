package providertest

import (
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func declareDataStoreTests(tc *testContext) {
	ginkgo.Describe("type persistence.DataStore", func() {
		ginkgo.Describe("func Persist()", func() {
			ginkgo.It("returns an error if the data-store is closed", func() {
				err := tc.DataStore.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tc.DataStore.Persist(
					tc.Context,
					persistence.Batch{
						persistence.SaveParameter{
							Parameter: persistence.Parameter{Name: "<name>"},
						},
					},
				)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrDataStoreClosed))
			})

			ginkgo.It("panics if the batch is invalid", func() {
				gomega.Expect(func() {
					tc.DataStore.Persist(
						tc.Context,
						persistence.Batch{
							persistence.SaveStage{
								Stage: persistence.Stage{Group: "<group>", Name: "beta"},
							},
							persistence.SaveStage{
								Stage: persistence.Stage{Group: "<group>", Name: "beta"},
							},
						},
					)
				}).To(gomega.Panic())
			})

			ginkgo.It("does not apply any operation if one of them conflicts", func() {
				tc.persist(
					persistence.SaveManifest{
						Manifest: persistence.Manifest{ID: "<manifest>", Group: "<group>"},
					},
				)

				err := tc.DataStore.Persist(
					tc.Context,
					persistence.Batch{
						persistence.SaveStage{
							Stage: persistence.Stage{Group: "<group>", Name: "beta", ManifestID: "<manifest>"},
						},
						persistence.SaveParameter{
							Parameter: persistence.Parameter{Name: "<name>", Value: "<manifest>"},
						},
						persistence.SaveManifest{
							Manifest: persistence.Manifest{ID: "<manifest>", Group: "<group>"},
						},
					},
				)
				gomega.Expect(err).To(gomega.BeAssignableToTypeOf(persistence.ConflictError{}))

				_, ok, err := tc.DataStore.LoadStage(tc.Context, "<group>", "beta")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())

				_, ok, err = tc.DataStore.LoadParameter(tc.Context, "<name>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func Close()", func() {
			ginkgo.It("returns an error if the data-store is already closed", func() {
				err := tc.DataStore.Close()
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				err = tc.DataStore.Close()
				gomega.Expect(err).To(gomega.Equal(persistence.ErrDataStoreClosed))
			})
		})
	})
}
