package sql_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/dogmatiq/mergedeploy/persistence/provider/sql"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// postgresDSNEnv is the environment variable that enables the PostgreSQL tests.
const postgresDSNEnv = "MERGEDEPLOY_TEST_POSTGRES_DSN"

// dialects returns the dialects to test against, keyed by description.
func dialects() map[string]*Dialect {
	m := map[string]*Dialect{
		"sqlite": SQLite,
	}

	if os.Getenv(postgresDSNEnv) != "" {
		m["postgres"] = PostgreSQL
	}

	return m
}

// openTestDB opens an empty database for the given dialect.
func openTestDB(ctx context.Context, d *Dialect) (*sqlx.DB, func()) {
	switch d {
	case SQLite:
		dir, err := os.MkdirTemp("", "mergedeploy-sqlite-*")
		Expect(err).ShouldNot(HaveOccurred())

		dsn := fmt.Sprintf(
			"file:%s?_txlock=immediate&_busy_timeout=5000",
			filepath.Join(dir, "mergedeploy.sqlite3"),
		)

		db, err := Open(ctx, d, dsn, WithMaxOpenConnections(1))
		Expect(err).ShouldNot(HaveOccurred())

		return db, func() {
			db.Close()
			os.RemoveAll(dir)
		}

	default:
		db, err := Open(ctx, d, os.Getenv(postgresDSNEnv))
		Expect(err).ShouldNot(HaveOccurred())

		for _, t := range []string{
			"ledger_ticket",
			"promotion_intent",
			"parameter",
			"stage",
			"manifest",
			"deployment",
		} {
			_, err := db.ExecContext(ctx, "DELETE FROM "+t)
			Expect(err).ShouldNot(HaveOccurred())
		}

		return db, func() {
			db.Close()
		}
	}
}

var _ = Describe("func Open()", func() {
	It("is idempotent with respect to migrations", func() {
		ctx := context.Background()

		dir, err := os.MkdirTemp("", "mergedeploy-sqlite-*")
		Expect(err).ShouldNot(HaveOccurred())
		defer os.RemoveAll(dir)

		dsn := "file:" + filepath.Join(dir, "mergedeploy.sqlite3")

		db, err := Open(ctx, SQLite, dsn)
		Expect(err).ShouldNot(HaveOccurred())
		db.Close()

		db, err = Open(ctx, SQLite, dsn)
		Expect(err).ShouldNot(HaveOccurred())
		defer db.Close()

		var tables []string
		err = db.SelectContext(
			ctx,
			&tables,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(strings.Join(tables, ",")).To(Equal(
			"deployment,ledger_ticket,manifest,parameter,promotion_intent,schema_migrations,stage",
		))
	})
})
