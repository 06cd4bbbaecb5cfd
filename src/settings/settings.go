package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables read by Load, e.g. DOCGRAPH_MONGO_URL.
const EnvPrefix = "DOCGRAPH"

var ErrMissingMongoURL = errors.New("no mongodb url configured")
var ErrMissingSchemaFile = errors.New("no schema file configured")

type Arguments struct {
	// Connection string, may carry the database name
	MongoURL string `mapstructure:"mongo_url"`
	// Overrides the database named in MongoURL
	Database string `mapstructure:"database"`

	// YAML model declarations
	SchemaFile string `mapstructure:"schema_file"`

	// Drop the database before reconciling indices
	ResetDatabase bool `mapstructure:"reset_database"`

	Debug bool `mapstructure:"debug"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MigrateConcurrency int           `mapstructure:"migrate_concurrency"`

	// host:port serving Prometheus metrics, empty disables it
	MetricsAddr string `mapstructure:"metrics_addr"`

	ConfigFile string `mapstructure:"config"`
}

// flagKeys maps flag names to setting keys.
var flagKeys = map[string]string{
	"config":              "config",
	"mongo-url":           "mongo_url",
	"database":            "database",
	"schema":              "schema_file",
	"reset":               "reset_database",
	"debug":               "debug",
	"request-timeout":     "request_timeout",
	"migrate-concurrency": "migrate_concurrency",
	"metrics-addr":        "metrics_addr",
}

var defaults = map[string]any{
	"config":              "",
	"mongo_url":           "",
	"database":            "",
	"schema_file":         "schema.yaml",
	"reset_database":      false,
	"debug":               false,
	"request_timeout":     30 * time.Second,
	"migrate_concurrency": 4,
	"metrics_addr":        "",
}

// RegisterFlags declares the command line flags Load reads.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to a config file (yaml, json or toml)")
	flags.String("mongo-url", "", "MongoDB connection string")
	flags.String("database", "", "Database name, overrides the one in the connection string")
	flags.StringP("schema", "s", "schema.yaml", "Path to the YAML schema file")
	flags.Bool("reset", false, "Drop the database before migrating")
	flags.Bool("debug", false, "Enable debug logging")
	flags.Duration("request-timeout", 30*time.Second, "Timeout of each backend call, 0 disables it")
	flags.Int("migrate-concurrency", 4, "Number of models migrated at once")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

// Load resolves the settings. Later sources win: defaults, the config file,
// DOCGRAPH_* environment variables, then flags set on the command line.
func Load(flags *pflag.FlagSet) (*Arguments, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var args Arguments
	if err := v.Unmarshal(&args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return &args, nil
}

// Validate checks values every command depends on.
func (a *Arguments) Validate() error {
	if a.RequestTimeout < 0 {
		return fmt.Errorf("invalid request timeout: %s (must not be negative)", a.RequestTimeout)
	}
	if a.MigrateConcurrency < 1 {
		return fmt.Errorf("invalid migrate concurrency: %d (must be at least 1)", a.MigrateConcurrency)
	}
	return nil
}

// RequireBackend checks the settings needed to reach MongoDB.
func (a *Arguments) RequireBackend() error {
	if a.MongoURL == "" {
		return ErrMissingMongoURL
	}
	return a.RequireSchema()
}

func (a *Arguments) RequireSchema() error {
	if a.SchemaFile == "" {
		return ErrMissingSchemaFile
	}
	return nil
}
