package providertest

import (
	"time"

	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

func declareStageTests(tc *testContext) {
	ginkgo.Context("stages", func() {
		var now time.Time

		ginkgo.BeforeEach(func() {
			now = time.Now().Truncate(time.Microsecond)
		})

		ginkgo.Describe("type persistence.SaveStage", func() {
			ginkgo.It("creates the stage pointer", func() {
				s := persistence.Stage{
					Group:      "<group>",
					Name:       "beta",
					ManifestID: "<manifest-0>",
					Updated:    now,
				}

				tc.persist(persistence.SaveStage{Stage: s})

				x, ok, err := tc.DataStore.LoadStage(tc.Context, "<group>", "beta")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				expectEqual(x, s)
			})

			ginkgo.It("overwrites an existing stage pointer", func() {
				tc.persist(persistence.SaveStage{
					Stage: persistence.Stage{
						Group:      "<group>",
						Name:       persistence.FinalStage,
						ManifestID: "<manifest-0>",
						Updated:    now,
					},
				})

				s := persistence.Stage{
					Group:      "<group>",
					Name:       persistence.FinalStage,
					ManifestID: "<manifest-1>",
					Updated:    now.Add(1 * time.Second),
				}

				tc.persist(persistence.SaveStage{Stage: s})

				x, _, err := tc.DataStore.LoadStage(tc.Context, "<group>", persistence.FinalStage)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				expectEqual(x, s)
			})
		})

		ginkgo.Describe("func LoadStage()", func() {
			ginkgo.It("returns false if the stage has no pointer", func() {
				_, ok, err := tc.DataStore.LoadStage(tc.Context, "<group>", "beta")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func LoadStages()", func() {
			ginkgo.It("returns the group's stages ordered by name", func() {
				final := persistence.Stage{Group: "<group>", Name: persistence.FinalStage, ManifestID: "<manifest>", Updated: now}
				beta := persistence.Stage{Group: "<group>", Name: "beta", ManifestID: "<manifest>", Updated: now}
				alpha := persistence.Stage{Group: "<group>", Name: "alpha", ManifestID: "<manifest>", Updated: now}
				other := persistence.Stage{Group: "<other-group>", Name: "beta", ManifestID: "<other>", Updated: now}

				tc.persist(
					persistence.SaveStage{Stage: final},
					persistence.SaveStage{Stage: beta},
					persistence.SaveStage{Stage: alpha},
					persistence.SaveStage{Stage: other},
				)

				stages, err := tc.DataStore.LoadStages(tc.Context, "<group>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				expectEqual(stages, []persistence.Stage{final, alpha, beta})
			})
		})

		ginkgo.Describe("type persistence.SaveParameter", func() {
			ginkgo.It("creates and overwrites the parameter", func() {
				tc.persist(persistence.SaveParameter{
					Parameter: persistence.Parameter{Name: "/mergedeploy/<group>/beta", Value: persistence.EmptyManifestParameterValue},
				})

				tc.persist(persistence.SaveParameter{
					Parameter: persistence.Parameter{Name: "/mergedeploy/<group>/beta", Value: "<manifest>"},
				})

				v, ok, err := tc.DataStore.LoadParameter(tc.Context, "/mergedeploy/<group>/beta")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(v).To(gomega.Equal("<manifest>"))
			})

			ginkgo.It("is committed atomically with the stage pointer", func() {
				tc.persist(
					persistence.SaveStage{
						Stage: persistence.Stage{Group: "<group>", Name: "beta", ManifestID: "<manifest>", Updated: now},
					},
					persistence.SaveParameter{
						Parameter: persistence.Parameter{Name: "/mergedeploy/<group>/beta", Value: "<manifest>"},
					},
				)

				s, _, err := tc.DataStore.LoadStage(tc.Context, "<group>", "beta")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				v, _, err := tc.DataStore.LoadParameter(tc.Context, "/mergedeploy/<group>/beta")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(v).To(gomega.Equal(s.ManifestID))
			})
		})

		ginkgo.Describe("func LoadParameter()", func() {
			ginkgo.It("returns false if the parameter has never been saved", func() {
				_, ok, err := tc.DataStore.LoadParameter(tc.Context, "<unknown>")
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})
	})
}

func declarePromotionIntentTests(tc *testContext) {
	ginkgo.Context("promotion intents", func() {
		var (
			now         time.Time
			intent0     persistence.PromotionIntent
			intent1     persistence.PromotionIntent
			loadIntents func() []persistence.PromotionIntent
		)

		ginkgo.BeforeEach(func() {
			now = time.Now().Truncate(time.Microsecond)

			intent0 = persistence.PromotionIntent{
				Group:      "<group>",
				Stage:      "beta",
				ManifestID: "<manifest-0>",
				Parameter:  "/mergedeploy/<group>/beta",
				Created:    now,
			}

			intent1 = persistence.PromotionIntent{
				Group:      "<group>",
				Stage:      persistence.FinalStage,
				ManifestID: "<manifest-0>",
				Parameter:  "/mergedeploy/<group>/FINAL",
				Created:    now.Add(1 * time.Second),
			}

			loadIntents = func() []persistence.PromotionIntent {
				intents, err := tc.DataStore.LoadPromotionIntents(tc.Context)
				gomega.ExpectWithOffset(1, err).ShouldNot(gomega.HaveOccurred())
				return intents
			}
		})

		ginkgo.Describe("type persistence.SavePromotionIntent", func() {
			ginkgo.It("creates the intent", func() {
				tc.persist(persistence.SavePromotionIntent{Intent: intent1})
				tc.persist(persistence.SavePromotionIntent{Intent: intent0})

				expectEqual(
					loadIntents(),
					[]persistence.PromotionIntent{intent0, intent1},
				)
			})

			ginkgo.It("replaces an existing intent for the same stage", func() {
				tc.persist(persistence.SavePromotionIntent{Intent: intent0})

				replacement := intent0
				replacement.ManifestID = "<manifest-1>"
				replacement.Created = now.Add(5 * time.Second)

				tc.persist(persistence.SavePromotionIntent{Intent: replacement})

				expectEqual(
					loadIntents(),
					[]persistence.PromotionIntent{replacement},
				)
			})
		})

		ginkgo.Describe("type persistence.RemovePromotionIntent", func() {
			ginkgo.It("removes the intent", func() {
				tc.persist(
					persistence.SavePromotionIntent{Intent: intent0},
					persistence.SavePromotionIntent{Intent: intent1},
				)

				tc.persist(persistence.RemovePromotionIntent{
					Group: intent0.Group,
					Stage: intent0.Stage,
				})

				expectEqual(
					loadIntents(),
					[]persistence.PromotionIntent{intent1},
				)
			})

			ginkgo.It("does nothing if the intent does not exist", func() {
				tc.persist(persistence.RemovePromotionIntent{
					Group: "<group>",
					Stage: "<unknown>",
				})

				gomega.Expect(loadIntents()).To(gomega.BeEmpty())
			})
		})
	})
}
