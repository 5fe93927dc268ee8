package boltdb_test

import (
	"context"

	"github.com/dogmatiq/mergedeploy/internal/testing/boltdbtest"
	"github.com/dogmatiq/mergedeploy/internal/testing/providertest"
	"github.com/dogmatiq/mergedeploy/persistence"
	. "github.com/dogmatiq/mergedeploy/persistence/provider/boltdb"
	. "github.com/onsi/ginkgo/v2"
)

var _ = Describe("type DataStore", func() {
	providertest.Declare(
		func(context.Context) providertest.Out {
			return providertest.Out{
				NewDataStore: func() (persistence.DataStore, func()) {
					db, close := boltdbtest.Open()
					return &DataStore{DB: db}, close
				},
			}
		},
		nil,
	)
})
