package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dogmatiq/mergedeploy/persistence"
	"github.com/spf13/viper"
)

// Config is the configuration of the serve command.
type Config struct {
	Listen          string            `mapstructure:"listen"`
	Debug           bool              `mapstructure:"debug"`
	Groups          []string          `mapstructure:"groups"`
	DefaultManifest string            `mapstructure:"default_manifest"`
	Concurrency     uint              `mapstructure:"concurrency"`
	PollInterval    time.Duration     `mapstructure:"poll_interval"`
	Persistence     PersistenceConfig `mapstructure:"persistence"`
	Ledger          LedgerConfig      `mapstructure:"ledger"`
	Parameters      ParameterConfig   `mapstructure:"parameters"`
	Functions       FunctionConfig    `mapstructure:"functions"`
	Stages          []StageConfig     `mapstructure:"stages"`
}

// PersistenceConfig selects the data store.
type PersistenceConfig struct {
	// Driver is one of "memory", "boltdb", "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`

	// Path is the BoltDB file.
	Path string `mapstructure:"path"`

	// DSN is the SQL data source name.
	DSN string `mapstructure:"dsn"`
}

// LedgerConfig selects the ledger that holds the lock tickets.
type LedgerConfig struct {
	// Driver is "persistence" to share the data store's database, "memory" or
	// "redis".
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis ledger and signaler.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ParameterConfig selects the store that mirrors the stage pointers.
type ParameterConfig struct {
	// Driver is "datastore" or "ssm".
	Driver string    `mapstructure:"driver"`
	Prefix string    `mapstructure:"prefix"`
	SSM    SSMConfig `mapstructure:"ssm"`
}

// SSMConfig configures the AWS Systems Manager parameter store.
type SSMConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// FunctionConfig describes the remote function server.
type FunctionConfig struct {
	Address  string `mapstructure:"address"`
	Validate bool   `mapstructure:"validate"`
	Hook     bool   `mapstructure:"hook"`
}

// StageConfig describes a stage, and which of its functions the function
// server provides.
type StageConfig struct {
	Name    string `mapstructure:"name"`
	Prepare bool   `mapstructure:"prepare"`
	Test    bool   `mapstructure:"test"`
}

// loadConfig loads the configuration from the YAML file at path, if any, and
// from MERGEDEPLOY_* environment variables.
func loadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("default_manifest", "")
	v.SetDefault("concurrency", 0)
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("persistence.driver", "memory")
	v.SetDefault("persistence.path", "mergedeploy.boltdb")
	v.SetDefault("persistence.dsn", "")
	v.SetDefault("ledger.driver", "persistence")
	v.SetDefault("ledger.redis.addr", "localhost:6379")
	v.SetDefault("ledger.redis.password", "")
	v.SetDefault("ledger.redis.db", 0)
	v.SetDefault("ledger.redis.prefix", "")
	v.SetDefault("parameters.driver", "datastore")
	v.SetDefault("parameters.prefix", "")
	v.SetDefault("parameters.ssm.region", "")
	v.SetDefault("parameters.ssm.endpoint", "")
	v.SetDefault("parameters.ssm.access_key_id", "")
	v.SetDefault("parameters.ssm.secret_access_key", "")
	v.SetDefault("functions.address", "localhost:9090")
	v.SetDefault("functions.validate", false)
	v.SetDefault("functions.hook", false)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MERGEDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate returns an error if the configuration is inconsistent.
func (c *Config) validate() error {
	switch c.Persistence.Driver {
	case "memory", "boltdb", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported persistence driver: %q", c.Persistence.Driver)
	}

	if (c.Persistence.Driver == "sqlite" || c.Persistence.Driver == "postgres") && c.Persistence.DSN == "" {
		return fmt.Errorf("persistence.dsn is required by the %s driver", c.Persistence.Driver)
	}

	switch c.Ledger.Driver {
	case "persistence", "memory", "redis":
	default:
		return fmt.Errorf("unsupported ledger driver: %q", c.Ledger.Driver)
	}

	switch c.Parameters.Driver {
	case "datastore":
	case "ssm":
		if c.Parameters.SSM.Region == "" {
			return fmt.Errorf("parameters.ssm.region is required by the ssm driver")
		}
	default:
		return fmt.Errorf("unsupported parameter driver: %q", c.Parameters.Driver)
	}

	if c.Functions.Address == "" {
		return fmt.Errorf("functions.address is required")
	}

	seen := map[string]bool{}
	for _, s := range c.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage names must not be empty")
		}

		if s.Name == persistence.FinalStage {
			return fmt.Errorf("%s is a reserved stage name", s.Name)
		}

		if seen[s.Name] {
			return fmt.Errorf("the %s stage is configured more than once", s.Name)
		}

		seen[s.Name] = true
	}

	return nil
}
