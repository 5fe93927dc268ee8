// Package sql provides SQL-backed implementations of persistence.DataStore and
// ledger.Ledger, supporting SQLite and PostgreSQL.
package sql

import (
	dbsql "database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register "sqlite3" driver
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// Dialect describes the differences between the SQL databases that are
// supported by this package.
type Dialect struct {
	// Name is a human-readable name for the dialect.
	Name string

	// DriverName is the name of the database/sql driver for the dialect.
	DriverName string

	migrations     string
	migrateDriver  func(*dbsql.DB) (database.Driver, error)
	lockRows       string
	lockPartition  string
	orderNamesWith string
}

var (
	// SQLite is the dialect for SQLite databases accessed via
	// github.com/mattn/go-sqlite3.
	//
	// SQLite does not support row-level locking. DSNs should set
	// "_txlock=immediate" so that write transactions are serialized when they
	// begin, which also keeps ledger sequence numbers in commit order.
	SQLite = &Dialect{
		Name:       "sqlite",
		DriverName: "sqlite3",
		migrations: "migrations/sqlite",
		migrateDriver: func(db *dbsql.DB) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{})
		},
	}

	// PostgreSQL is the dialect for PostgreSQL databases accessed via
	// github.com/jackc/pgx/v5.
	PostgreSQL = &Dialect{
		Name:       "postgres",
		DriverName: "pgx",
		migrations: "migrations/postgres",
		migrateDriver: func(db *dbsql.DB) (database.Driver, error) {
			return pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		},
		lockRows:       " FOR UPDATE",
		lockPartition:  `SELECT pg_advisory_xact_lock(hashtext(?))`,
		orderNamesWith: ` COLLATE "C"`,
	}
)

// DialectByName returns the dialect with the given name.
func DialectByName(n string) (*Dialect, error) {
	for _, d := range []*Dialect{SQLite, PostgreSQL} {
		if d.Name == n || d.DriverName == n {
			return d, nil
		}
	}

	return nil, fmt.Errorf("unsupported SQL dialect: %s", n)
}

// dialectOf returns the dialect for db based on its driver name.
func dialectOf(db *sqlx.DB) *Dialect {
	d, err := DialectByName(db.DriverName())
	if err != nil {
		panic(err)
	}

	return d
}

// Migrate brings the schema of db up to date.
func Migrate(d *Dialect, db *sqlx.DB) error {
	driver, err := d.migrateDriver(db.DB)
	if err != nil {
		return fmt.Errorf("unable to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, d.migrations)
	if err != nil {
		return fmt.Errorf("unable to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.Name, driver)
	if err != nil {
		return fmt.Errorf("unable to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("unable to run migrations: %w", err)
	}

	return nil
}
