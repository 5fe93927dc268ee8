package boltdb

import (
	"time"

	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func unmarshalUint64()", func() {
	It("returns an error if the data is the wrong length", func() {
		var err error
		func() {
			defer bboltx.Recover(&err)
			unmarshalUint64([]byte{00})
		}()
		Expect(err).To(MatchError("data is corrupt, expected 8 bytes, got 1"))
	})
})

var _ = Describe("func marshalIndexKey()", func() {
	It("produces keys that sort by time, then by ID", func() {
		now := time.Now()

		a := marshalIndexKey(now, "<b>")
		b := marshalIndexKey(now.Add(time.Nanosecond), "<a>")
		c := marshalIndexKey(now.Add(time.Nanosecond), "<b>")

		Expect(string(a) < string(b)).To(BeTrue())
		Expect(string(b) < string(c)).To(BeTrue())
		Expect(unmarshalIndexKey(c)).To(Equal("<b>"))
	})
})
