package parameter_test

import (
	"context"

	. "github.com/dogmatiq/mergedeploy/parameter"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func Name()", func() {
	It("joins the prefix, group and stage", func() {
		Expect(Name("/prefix", "<group>", "beta")).To(Equal("/prefix/<group>/beta"))
	})

	It("uses the default prefix if none is given", func() {
		Expect(Name("", "DEFAULT", "FINAL")).To(Equal("/mergedeploy/DEFAULT/FINAL"))
	})
})

// declareStoreTests declares tests that apply to every Store.
func declareStoreTests(newStore func() Store) {
	var (
		ctx   context.Context
		store Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
	})

	It("reports parameters that have never been set as missing", func() {
		_, ok, err := store.Get(ctx, "/missing")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("returns the most recently set value", func() {
		err := store.Put(ctx, "/param", "<value-1>")
		Expect(err).ShouldNot(HaveOccurred())

		err = store.Put(ctx, "/param", "<value-2>")
		Expect(err).ShouldNot(HaveOccurred())

		v, ok, err := store.Get(ctx, "/param")
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("<value-2>"))
	})
}

var _ = Describe("type Memory", func() {
	declareStoreTests(func() Store {
		return &Memory{}
	})
})

var _ = Describe("type DataStoreStore", func() {
	var ds *memory.DataStore

	declareStoreTests(func() Store {
		ds = &memory.DataStore{}
		return &DataStoreStore{DataStore: ds}
	})

	Describe("func PutOperation()", func() {
		It("returns a SaveParameter operation for its own data store", func() {
			store := &DataStoreStore{DataStore: ds}

			op, ok := store.PutOperation(ds, "/param", "<value>")
			Expect(ok).To(BeTrue())
			Expect(op).To(Equal(persistence.SaveParameter{
				Parameter: persistence.Parameter{
					Name:  "/param",
					Value: "<value>",
				},
			}))
		})

		It("reports false for other data stores", func() {
			store := &DataStoreStore{DataStore: ds}

			_, ok := store.PutOperation(&memory.DataStore{}, "/param", "<value>")
			Expect(ok).To(BeFalse())
		})
	})
})
