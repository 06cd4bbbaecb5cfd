package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("docgraph", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	args, err := Load(newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "schema.yaml", args.SchemaFile)
	assert.Equal(t, 30*time.Second, args.RequestTimeout)
	assert.Equal(t, 4, args.MigrateConcurrency)
	assert.False(t, args.Debug)
	assert.Empty(t, args.MongoURL)
	assert.ErrorIs(t, args.RequireBackend(), ErrMissingMongoURL)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DOCGRAPH_MONGO_URL", "mongodb://env:27017/envdb")
	t.Setenv("DOCGRAPH_REQUEST_TIMEOUT", "5s")
	t.Setenv("DOCGRAPH_RESET_DATABASE", "true")

	args, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://env:27017/envdb", args.MongoURL)
	assert.Equal(t, 5*time.Second, args.RequestTimeout)
	assert.True(t, args.ResetDatabase)
	assert.NoError(t, args.RequireBackend())
}

func TestLoad_FlagsBeatEnvironment(t *testing.T) {
	t.Setenv("DOCGRAPH_MONGO_URL", "mongodb://env:27017/envdb")

	args, err := Load(newFlags(t, "--mongo-url", "mongodb://flag:27017/flagdb", "--debug", "--migrate-concurrency", "2"))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://flag:27017/flagdb", args.MongoURL)
	assert.True(t, args.Debug)
	assert.Equal(t, 2, args.MigrateConcurrency)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mongo_url: mongodb://file:27017/filedb
database: other
schema_file: models.yaml
metrics_addr: ":9100"
migrate_concurrency: 8
`), 0o644))
	t.Setenv("DOCGRAPH_DATABASE", "fromenv")

	args, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, path, args.ConfigFile)
	assert.Equal(t, "mongodb://file:27017/filedb", args.MongoURL)
	assert.Equal(t, "fromenv", args.Database)
	assert.Equal(t, "models.yaml", args.SchemaFile)
	assert.Equal(t, ":9100", args.MetricsAddr)
	assert.Equal(t, 8, args.MigrateConcurrency)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(newFlags(t, "--migrate-concurrency", "0"))
	assert.ErrorContains(t, err, "invalid migrate concurrency")

	_, err = Load(newFlags(t, "--request-timeout", "-1s"))
	assert.ErrorContains(t, err, "invalid request timeout")

	args := &Arguments{MongoURL: "mongodb://x/db", MigrateConcurrency: 1}
	assert.ErrorIs(t, args.RequireBackend(), ErrMissingSchemaFile)
}
