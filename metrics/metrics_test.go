package metrics_test

import (
	"errors"
	"time"

	. "github.com/dogmatiq/mergedeploy/metrics"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("type Metrics", func() {
	var reg *prometheus.Registry

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
	})

	It("does nothing when nil", func() {
		var m *Metrics

		Expect(func() {
			m.ObserveLockWait("<group>", time.Second)
			m.IncDeployments("<group>", "SUCCESSFUL")
			m.ObserveStep("Merge", time.Second, nil)
		}).NotTo(Panic())
	})

	It("records lock admissions", func() {
		m := New(reg)
		m.ObserveLockWait("<group>", time.Second)
		m.ObserveLockWait("<group>", time.Second)

		n, err := testutil.GatherAndCount(reg, "mergedeploy_lock_admissions_total")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("labels step durations by outcome", func() {
		m := New(reg)
		m.ObserveStep("Merge", time.Second, nil)
		m.ObserveStep("Merge", time.Second, errors.New("<error>"))

		n, err := testutil.GatherAndCount(reg, "mergedeploy_pipeline_step_duration_seconds")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("shares collectors that are already registered", func() {
		a := New(reg)
		b := New(reg)

		a.IncDeployments("<group>", "FAILED")
		b.IncDeployments("<group>", "FAILED")

		n, err := testutil.GatherAndCount(reg, "mergedeploy_pipeline_deployments_total")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(n).To(Equal(1))
	})
})
