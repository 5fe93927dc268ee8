package providertest

import (
	"time"

	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func declareManifestTests(tc *testContext) {
	ginkgo.Context("manifests", func() {
		var (
			now                    time.Time
			man0, man1, otherGroup persistence.Manifest
		)

		ginkgo.BeforeEach(func() {
			now = time.Now().Truncate(time.Microsecond)

			man0 = persistence.Manifest{
				ID:       "<manifest-0>",
				Group:    "<group>",
				Manifest: []byte(`{"version":0}`),
				Created:  now,
			}

			man1 = persistence.Manifest{
				ID:       "<manifest-1>",
				Group:    "<group>",
				Manifest: []byte(`{"version":1}`),
				Created:  now.Add(1 * time.Second),
				ParentID: man0.ID,
			}

			otherGroup = persistence.Manifest{
				ID:       "<manifest-other>",
				Group:    "<other-group>",
				Manifest: []byte(`{}`),
				Created:  now,
			}
		})

		ginkgo.Describe("type persistence.SaveManifest", func() {
			ginkgo.It("creates the manifest", func() {
				tc.persist(persistence.SaveManifest{Manifest: man1})

				m, ok, err := tc.DataStore.LoadManifest(tc.Context, man1.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				expectEqual(m, man1)
			})

			ginkgo.It("returns a conflict error if the manifest already exists", func() {
				tc.persist(persistence.SaveManifest{Manifest: man0})

				op := persistence.SaveManifest{
					Manifest: persistence.Manifest{
						ID:       man0.ID,
						Group:    man0.Group,
						Manifest: []byte(`{"modified":true}`),
						Created:  now,
					},
				}

				err := tc.DataStore.Persist(tc.Context, persistence.Batch{op})
				gomega.Expect(err).To(gomega.Equal(persistence.ConflictError{Cause: op}))

				m, _, err := tc.DataStore.LoadManifest(tc.Context, man0.ID)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				expectEqual(m, man0)
			})
		})

		ginkgo.Describe("func LoadManifest()", func() {
			ginkgo.It("returns false if the manifest does not exist", func() {
				_, ok, err := tc.DataStore.LoadManifest(tc.Context, "<unknown>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func LoadManifestsByGroup()", func() {
			ginkgo.BeforeEach(func() {
				tc.persist(persistence.SaveManifest{Manifest: man1})
				tc.persist(persistence.SaveManifest{Manifest: man0})
				tc.persist(persistence.SaveManifest{Manifest: otherGroup})
			})

			ginkgo.It("returns the manifests newest first", func() {
				manifests, err := tc.DataStore.LoadManifestsByGroup(tc.Context, "<group>", 0)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				expectEqual(manifests, []persistence.Manifest{man1, man0})
			})

			ginkgo.It("limits the number of manifests returned", func() {
				manifests, err := tc.DataStore.LoadManifestsByGroup(tc.Context, "<group>", 1)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				expectEqual(manifests, []persistence.Manifest{man1})
			})
		})
	})
}
