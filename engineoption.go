package mergedeploy

import (
	"fmt"
	"runtime"

	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/mergedeploy/function"
	"github.com/dogmatiq/mergedeploy/ledger"
	"github.com/dogmatiq/mergedeploy/lock"
	"github.com/dogmatiq/mergedeploy/parameter"
	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/dogmatiq/mergedeploy/persistence/provider/memory"
	"github.com/dogmatiq/mergedeploy/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// DefaultGroup is the group used by Submit() when no groups are
	// configured.
	//
	// It is overridden by the WithGroup() option.
	DefaultGroup = persistence.DefaultGroup

	// DefaultManifest is the manifest that the first deployment in each group
	// is merged into.
	//
	// It is overridden by the WithDefaultManifest() option.
	DefaultManifest = pipeline.DefaultManifest

	// DefaultParameterPrefix is the prefix of the names of the parameters that
	// mirror each stage pointer.
	//
	// It is overridden by the WithParameterPrefix() option.
	DefaultParameterPrefix = parameter.DefaultPrefix

	// DefaultPollStrategy is the default strategy used to determine how long a
	// deployment waits for a signal before it re-checks its position in the
	// lock's queue.
	//
	// It is overridden by the WithPollStrategy() option.
	DefaultPollStrategy = lock.DefaultPollStrategy

	// DefaultConcurrencyLimit is the default number of deployment pipelines
	// that may execute concurrently within a single engine.
	//
	// It is overridden by the WithConcurrencyLimit() option.
	DefaultConcurrencyLimit = uint(runtime.GOMAXPROCS(0) * 2)

	// DefaultMetricsRegisterer is the default registry that the engine's
	// metrics are registered with.
	//
	// It is overridden by the WithMetrics() option.
	DefaultMetricsRegisterer = prometheus.DefaultRegisterer

	// DefaultMetricsGatherer is the default source of the metrics served by
	// the engine's API.
	//
	// It is overridden by the WithMetrics() option.
	DefaultMetricsGatherer = prometheus.DefaultGatherer

	// DefaultLogger is the default target for log messages produced by the
	// engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = zap.NewNop()
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithPersistence returns an engine option that sets the data store used to
// store and retrieve deployments, manifests and stage pointers.
//
// If this option is omitted or ds is nil, a new in-memory data store is used.
// The engine does not close the data store.
func WithPersistence(ds persistence.DataStore) EngineOption {
	return func(opts *engineOptions) {
		opts.DataStore = ds
	}
}

// WithLedger returns an engine option that sets the ledger that holds the
// tickets of each group's lock.
//
// If this option is omitted or l is nil, a new in-memory ledger is used. An
// in-memory ledger only serializes deployments within a single engine.
func WithLedger(l ledger.Ledger) EngineOption {
	return func(opts *engineOptions) {
		opts.Ledger = l
	}
}

// WithSignaler returns an engine option that sets the signaler used to wake
// deployments that are waiting for a group's lock.
//
// If this option is omitted or s is nil, a new lock.LocalSignaler is used.
// Waiters that are not signaled still discover their admission by polling.
func WithSignaler(s lock.Signaler) EngineOption {
	return func(opts *engineOptions) {
		opts.Signaler = s
	}
}

// WithParameterStore returns an engine option that sets the store that
// mirrors each stage pointer.
//
// If this option is omitted or s is nil, the parameters are kept in the
// engine's data store, and are committed atomically with the stage pointer.
func WithParameterStore(s parameter.Store) EngineOption {
	return func(opts *engineOptions) {
		opts.ParameterStore = s
	}
}

// WithParameterPrefix returns an engine option that sets the prefix of the
// names of the parameters that mirror each stage pointer.
//
// If this option is omitted or p is empty, DefaultParameterPrefix is used.
func WithParameterPrefix(p string) EngineOption {
	return func(opts *engineOptions) {
		opts.ParameterPrefix = p
	}
}

// WithMerger returns an engine option that sets the function that merges each
// deployment's input into the current manifest.
//
// A merger is required.
func WithMerger(m function.Merger) EngineOption {
	return func(opts *engineOptions) {
		opts.Functions.Merge = m
	}
}

// WithManifestValidator returns an engine option that sets the function that
// validates each merged manifest before it is persisted.
//
// If this option is omitted, manifests are not validated.
func WithManifestValidator(v function.ManifestValidator) EngineOption {
	return func(opts *engineOptions) {
		opts.Functions.Validate = v
	}
}

// WithManifestHook returns an engine option that sets the function that is
// notified of each new manifest.
//
// If this option is omitted, no notifications are sent.
func WithManifestHook(h function.ManifestHook) EngineOption {
	return func(opts *engineOptions) {
		opts.Functions.Hook = h
	}
}

// WithStage returns an engine option that appends a stage to the list of
// stages that each manifest is promoted through before the final stage.
//
// Stages are promoted in the order their options are given.
func WithStage(def function.StageDefinition) EngineOption {
	if def.Name == "" {
		panic("stage name must not be empty")
	}

	if def.Name == persistence.FinalStage {
		panic(fmt.Sprintf("%s is a reserved stage name", def.Name))
	}

	return func(opts *engineOptions) {
		for _, s := range opts.Stages {
			if s.Name == def.Name {
				panic(fmt.Sprintf("the %s stage is already configured", def.Name))
			}
		}

		opts.Stages = append(opts.Stages, def)
	}
}

// WithGroup returns an engine option that adds a group to the list of groups
// that the engine reports through its API.
//
// The first group added is the group used by Submit(). If this option is
// omitted, the only group is DefaultGroup. Deployments may be submitted to
// groups that are not configured by calling SubmitRequest().
func WithGroup(name string) EngineOption {
	if name == "" {
		panic("group name must not be empty")
	}

	return func(opts *engineOptions) {
		for _, g := range opts.Groups {
			if g == name {
				panic(fmt.Sprintf("the %s group is already configured", name))
			}
		}

		opts.Groups = append(opts.Groups, name)
	}
}

// WithDefaultManifest returns an engine option that sets the manifest that
// the first deployment in each group is merged into.
//
// If this option is omitted or m is empty, DefaultManifest is used.
func WithDefaultManifest(m []byte) EngineOption {
	return func(opts *engineOptions) {
		opts.DefaultManifest = m
	}
}

// WithPollStrategy returns an engine option that sets the strategy used to
// determine how long a deployment waits for a signal before it re-checks its
// position in the lock's queue.
//
// If this option is omitted or s is nil, DefaultPollStrategy is used.
func WithPollStrategy(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.PollStrategy = s
	}
}

// WithConcurrencyLimit returns an engine option that limits the number of
// deployment pipelines that execute at the same time within the engine.
//
// Deployments that are waiting for a group's lock count towards the limit.
//
// If this option is omitted or n is zero, DefaultConcurrencyLimit is used.
func WithConcurrencyLimit(n uint) EngineOption {
	return func(opts *engineOptions) {
		opts.ConcurrencyLimit = n
	}
}

// WithMetrics returns an engine option that sets the registry that the
// engine's metrics are registered with and served from.
//
// If this option is omitted or r is nil, DefaultMetricsRegisterer and
// DefaultMetricsGatherer are used.
func WithMetrics(r *prometheus.Registry) EngineOption {
	return func(opts *engineOptions) {
		if r == nil {
			opts.MetricsRegisterer = nil
			opts.MetricsGatherer = nil
		} else {
			opts.MetricsRegisterer = r
			opts.MetricsGatherer = r
		}
	}
}

// WithLogger returns an engine option that sets the target for log messages
// produced by the engine.
//
// If this option is omitted or l is nil, DefaultLogger is used.
func WithLogger(l *zap.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

// engineOptions is a container for a fully-resolved set of engine options.
type engineOptions struct {
	DataStore         persistence.DataStore
	Ledger            ledger.Ledger
	Signaler          lock.Signaler
	ParameterStore    parameter.Store
	ParameterPrefix   string
	Functions         function.Set
	Stages            []function.StageDefinition
	Groups            []string
	DefaultManifest   []byte
	PollStrategy      backoff.Strategy
	ConcurrencyLimit  uint
	MetricsRegisterer prometheus.Registerer
	MetricsGatherer   prometheus.Gatherer
	Logger            *zap.Logger
}

// resolveEngineOptions returns a fully-populated set of engine options built
// from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.Functions.Merge == nil {
		panic("no merge function configured, see mergedeploy.WithMerger()")
	}

	if opts.DataStore == nil {
		opts.DataStore = &memory.DataStore{}
	}

	if opts.Ledger == nil {
		opts.Ledger = &memory.Ledger{}
	}

	if opts.Signaler == nil {
		opts.Signaler = &lock.LocalSignaler{}
	}

	if opts.ParameterStore == nil {
		opts.ParameterStore = &parameter.DataStoreStore{
			DataStore: opts.DataStore,
		}
	}

	if opts.ParameterPrefix == "" {
		opts.ParameterPrefix = DefaultParameterPrefix
	}

	if len(opts.Groups) == 0 {
		opts.Groups = []string{DefaultGroup}
	}

	if len(opts.DefaultManifest) == 0 {
		opts.DefaultManifest = DefaultManifest
	}

	if opts.PollStrategy == nil {
		opts.PollStrategy = DefaultPollStrategy
	}

	if opts.ConcurrencyLimit == 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	if opts.MetricsRegisterer == nil {
		opts.MetricsRegisterer = DefaultMetricsRegisterer
		opts.MetricsGatherer = DefaultMetricsGatherer
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	return opts
}
