package sql

import (
	"context"
	"runtime"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// DefaultMaxIdleConnections is the default maximum number of idle
	// connections allowed in the database pool.
	//
	// It is overridden by the WithMaxIdleConnections() option.
	DefaultMaxIdleConnections = runtime.GOMAXPROCS(0)

	// DefaultMaxOpenConnections is the default maximum number of open
	// connections allowed in the database pool.
	//
	// It is overridden by the WithMaxOpenConnections() option.
	DefaultMaxOpenConnections = DefaultMaxIdleConnections * 10

	// DefaultMaxLifetime is the default maximum lifetime of database
	// connections.
	//
	// It is overridden by the WithMaxLifetime() option.
	DefaultMaxLifetime = 10 * time.Minute
)

// Open opens a database, verifies the connection and brings its schema up to
// date.
func Open(
	ctx context.Context,
	d *Dialect,
	dsn string,
	options ...OpenOption,
) (*sqlx.DB, error) {
	opts := resolveOpenOptions(options...)

	db, err := sqlx.Open(d.DriverName, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetConnMaxLifetime(opts.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := Migrate(d, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenOption configures the behavior of Open().
type OpenOption func(*openOptions)

// WithMaxIdleConnections returns an option that sets the maximum number of idle
// connections allowed in the database pool.
//
// If this option is omitted or n is zero, DefaultMaxIdleConnections is used.
func WithMaxIdleConnections(n int) OpenOption {
	return func(opts *openOptions) {
		opts.MaxIdle = n
	}
}

// WithMaxOpenConnections returns an option that sets the maximum number of open
// connections allowed in the database pool.
//
// If this option is omitted or n is zero, DefaultMaxOpenConnections is used.
func WithMaxOpenConnections(n int) OpenOption {
	return func(opts *openOptions) {
		opts.MaxOpen = n
	}
}

// WithMaxLifetime returns an option that sets the maximum lifetime of database
// connections.
//
// If this option is omitted or d is zero, DefaultMaxLifetime is used.
func WithMaxLifetime(d time.Duration) OpenOption {
	return func(opts *openOptions) {
		opts.MaxLifetime = d
	}
}

// openOptions is a container for a fully-resolved set of options.
type openOptions struct {
	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
}

// resolveOpenOptions returns a fully-populated set of options built from the
// given set of option functions.
func resolveOpenOptions(options ...OpenOption) *openOptions {
	opts := &openOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.MaxIdle == 0 {
		opts.MaxIdle = DefaultMaxIdleConnections
	}

	if opts.MaxOpen == 0 {
		opts.MaxOpen = DefaultMaxOpenConnections
	}

	if opts.MaxLifetime == 0 {
		opts.MaxLifetime = DefaultMaxLifetime
	}

	return opts
}
