package bboltx_test

import (
	"errors"

	. "github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func Recover()", func() {
	run := func(fn func()) (err error) {
		defer Recover(&err)
		fn()
		return nil
	}

	It("returns the error passed to Must()", func() {
		cause := errors.New("<error>")

		err := run(func() {
			Must(cause)
		})
		Expect(err).To(Equal(cause))
	})

	It("does nothing if Must() is passed a nil error", func() {
		err := run(func() {
			Must(nil)
		})
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("propagates other panics", func() {
		Expect(func() {
			run(func() { //nolint:errcheck
				panic("<panic>")
			})
		}).To(PanicWith("<panic>"))
	})

	It("panics if err is nil", func() {
		Expect(func() {
			Recover(nil)
		}).To(PanicWith("err must be a non-nil pointer"))
	})
})
