package sqlx_test

import (
	"time"

	. "github.com/dogmatiq/mergedeploy/internal/x/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func MarshalTime()", func() {
	It("round-trips through UnmarshalTime()", func() {
		now := time.Now()
		Expect(UnmarshalTime(MarshalTime(now))).To(BeTemporally("==", now))
	})

	It("marshals the zero-value as zero", func() {
		Expect(MarshalTime(time.Time{})).To(BeZero())
		Expect(UnmarshalTime(0).IsZero()).To(BeTrue())
	})
})

var _ = Describe("func Recover()", func() {
	It("recovers the error passed to Must()", func() {
		var err error

		func() {
			defer Recover(&err)
			Must(errFixture)
		}()

		Expect(err).To(Equal(errFixture))
	})

	It("re-panics with other values", func() {
		Expect(func() {
			var err error
			defer Recover(&err)
			panic("<panic>")
		}).To(PanicWith("<panic>"))
	})
})
