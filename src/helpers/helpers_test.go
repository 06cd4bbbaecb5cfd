package helpers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func TestReadInput(t *testing.T) {
	data, err := ReadInput(`{"take": 1}`, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"take": 1}`, string(data))

	data, err = ReadInput("-", strings.NewReader(`{"skip": 2}`))
	require.NoError(t, err)
	assert.Equal(t, `{"skip": 2}`, string(data))

	path := filepath.Join(t.TempDir(), "query.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	data, err = ReadInput("@"+path, nil)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	_, err = ReadInput("@"+filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: []"), 0o644))

	logger := zap.NewNop().Sugar()
	assert.True(t, FileExists(path, logger))
	assert.False(t, FileExists(dir, logger))
	assert.False(t, FileExists(filepath.Join(dir, "nope"), logger))
}

func TestPipelineToJSON(t *testing.T) {
	p := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "age", Value: bson.D{{Key: "$gt", Value: int32(3)}}}}}},
		{{Key: "$limit", Value: int64(2)}},
	}
	assert.Equal(t, `{"pipeline":[{"$match":{"age":{"$gt":3}}},{"$limit":2}]}`, PipelineToJSON(p))
}

func TestGenerateUUID(t *testing.T) {
	id := GenerateUUID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, GenerateUUID())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(false)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
