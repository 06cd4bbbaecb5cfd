package connector

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"docgraph/src/models"
)

func TestWriteError(t *testing.T) {
	g := testGraph(t, testSchema)
	user := testModel(t, g, "User")

	keyValue, err := bson.Marshal(bson.D{
		{Key: "index", Value: 0},
		{Key: "code", Value: 11000},
		{Key: "keyPattern", Value: bson.D{{Key: "mail", Value: 1}}},
		{Key: "keyValue", Value: bson.D{{Key: "mail", Value: "a@b.c"}}},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		err   error
		kind  models.ErrorKind
		field string
	}{
		{
			name: "structured key value",
			err: mongo.WriteException{WriteErrors: mongo.WriteErrors{{
				Index: 0, Code: 11000, Message: "E11000 duplicate key error", Raw: keyValue,
			}}},
			kind:  models.UniqueValueDuplicated,
			field: "email",
		},
		{
			name: "message only",
			err: mongo.WriteException{WriteErrors: mongo.WriteErrors{{
				Code: 11000, Message: `E11000 duplicate key error collection: test.users index: name_1 dup key: { name: "ann" }`,
			}}},
			kind:  models.UniqueValueDuplicated,
			field: "name",
		},
		{
			name: "command error from findAndModify",
			err: fmt.Errorf("wrapped: %w", mongo.CommandError{
				Code: 11000, Message: `E11000 duplicate key error collection: test.users index: mail_unique dup key: { mail: "x" }`,
			}),
			kind:  models.UniqueValueDuplicated,
			field: "email",
		},
		{
			name:  "unknown column is reported as is",
			err:   mongo.CommandError{Code: 11000, Message: `dup key: { legacy: 1 }`},
			kind:  models.UniqueValueDuplicated,
			field: "legacy",
		},
		{
			name: "duplicate without a column",
			err:  mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"},
			kind: models.UnknownDatabaseWriteError,
		},
		{
			name: "other server error",
			err:  mongo.CommandError{Code: 121, Message: "Document failed validation"},
			kind: models.UnknownDatabaseWriteError,
		},
		{
			name: "client side error",
			err:  errors.New("connection reset"),
			kind: models.UnknownDatabaseWriteError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := writeError(user, tt.err)
			var actionErr *models.ActionError
			require.True(t, errors.As(got, &actionErr))
			assert.Equal(t, tt.kind, actionErr.Kind)
			assert.Equal(t, tt.field, actionErr.Field)
			assert.Equal(t, tt.err, actionErr.Err)
		})
	}
}
