package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/mergedeploy"
	"github.com/dogmatiq/mergedeploy/function/grpcfunc"
	"github.com/dogmatiq/mergedeploy/internal/x/bboltx"
	"github.com/dogmatiq/mergedeploy/ledger"
	redisledger "github.com/dogmatiq/mergedeploy/ledger/redis"
	ssmparam "github.com/dogmatiq/mergedeploy/parameter/ssm"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/persistence/provider/boltdb"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	sqlprovider "github.com/dogmatiq/mergedeploy/persistence/provider/sql"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// openTimeout is the time allowed for opening each database.
const openTimeout = 10 * time.Second

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run deployments and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Debug || flags.debug)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			res := &resources{}
			defer res.close(logger)

			options, err := res.engineOptions(ctx, cfg, logger)
			if err != nil {
				return err
			}

			err = mergedeploy.New(options...).Run(ctx, cfg.Listen)
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				logger.Info("shutting down")
				return nil
			}

			return err
		},
	}
}

// resources is the set of connections opened by the serve command.
type resources struct {
	closers []func() error
}

func (r *resources) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// close closes the resources in reverse order.
func (r *resources) close(logger *zap.Logger) {
	var err error

	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}

	if err != nil {
		logger.Warn("unable to close resources", zap.Error(err))
	}
}

// engineOptions opens the resources described by cfg and returns the engine
// options that use them.
func (r *resources) engineOptions(
	ctx context.Context,
	cfg *Config,
	logger *zap.Logger,
) ([]mergedeploy.EngineOption, error) {
	options := []mergedeploy.EngineOption{
		mergedeploy.WithLogger(logger),
		mergedeploy.WithConcurrencyLimit(cfg.Concurrency),
		mergedeploy.WithParameterPrefix(cfg.Parameters.Prefix),
	}

	if cfg.PollInterval > 0 {
		options = append(options, mergedeploy.WithPollStrategy(backoff.Constant(cfg.PollInterval)))
	}

	if cfg.DefaultManifest != "" {
		options = append(options, mergedeploy.WithDefaultManifest([]byte(cfg.DefaultManifest)))
	}

	for _, g := range cfg.Groups {
		options = append(options, mergedeploy.WithGroup(g))
	}

	ds, led, err := r.openPersistence(ctx, cfg.Persistence)
	if err != nil {
		return nil, err
	}
	options = append(options, mergedeploy.WithPersistence(ds))

	switch cfg.Ledger.Driver {
	case "persistence":
		options = append(options, mergedeploy.WithLedger(led))
	case "memory":
		options = append(options, mergedeploy.WithLedger(&memory.Ledger{}))
	case "redis":
		client, err := r.openRedis(ctx, cfg.Ledger.Redis)
		if err != nil {
			return nil, err
		}

		options = append(
			options,
			mergedeploy.WithLedger(&redisledger.Ledger{
				Client: client,
				Prefix: cfg.Ledger.Redis.Prefix,
			}),
			mergedeploy.WithSignaler(&redisledger.Signaler{
				Client: client,
				Prefix: cfg.Ledger.Redis.Prefix,
			}),
		)
	}

	if cfg.Parameters.Driver == "ssm" {
		options = append(options, mergedeploy.WithParameterStore(&ssmparam.Store{
			Client: ssmparam.NewClient(ssmparam.Options{
				Region:          cfg.Parameters.SSM.Region,
				Endpoint:        cfg.Parameters.SSM.Endpoint,
				AccessKeyID:     cfg.Parameters.SSM.AccessKeyID,
				SecretAccessKey: cfg.Parameters.SSM.SecretAccessKey,
			}),
		}))
	}

	fns, err := r.connectFunctions(cfg.Functions, cfg.Stages)
	if err != nil {
		return nil, err
	}

	return append(options, fns...), nil
}

// openPersistence opens the data store, and the ledger that shares its
// database.
func (r *resources) openPersistence(
	ctx context.Context,
	cfg PersistenceConfig,
) (persistence.DataStore, ledger.Ledger, error) {
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	switch cfg.Driver {
	case "boltdb":
		db, err := bboltx.Open(ctx, cfg.Path, 0, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open BoltDB database: %w", err)
		}
		r.onClose(db.Close)

		ds := &boltdb.DataStore{DB: db}
		r.onClose(ds.Close)

		return ds, &boltdb.Ledger{DB: db}, nil

	case "sqlite", "postgres":
		d, err := sqlprovider.DialectByName(cfg.Driver)
		if err != nil {
			return nil, nil, err
		}

		db, err := sqlprovider.Open(ctx, d, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open %s database: %w", d.Name, err)
		}
		r.onClose(db.Close)

		ds := &sqlprovider.DataStore{DB: db}
		r.onClose(ds.Close)

		return ds, &sqlprovider.Ledger{DB: db}, nil

	default:
		ds := &memory.DataStore{}
		r.onClose(ds.Close)

		return ds, &memory.Ledger{}, nil
	}
}

// openRedis connects to Redis and verifies the connection.
func (r *resources) openRedis(ctx context.Context, cfg RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	r.onClose(client.Close)

	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to Redis: %w", err)
	}

	return client, nil
}

// connectFunctions returns the engine options that invoke the functions on
// the remote function server.
func (r *resources) connectFunctions(
	cfg FunctionConfig,
	stages []StageConfig,
) ([]mergedeploy.EngineOption, error) {
	conn, err := grpc.Dial(
		cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to the function server: %w", err)
	}
	r.onClose(conn.Close)

	client := &grpcfunc.Client{Conn: conn}

	options := []mergedeploy.EngineOption{
		mergedeploy.WithMerger(client),
	}

	if cfg.Validate {
		options = append(options, mergedeploy.WithManifestValidator(client))
	}

	if cfg.Hook {
		options = append(options, mergedeploy.WithManifestHook(client))
	}

	for _, s := range stages {
		options = append(options, mergedeploy.WithStage(client.Stage(s.Name, s.Prepare, s.Test)))
	}

	return options, nil
}
