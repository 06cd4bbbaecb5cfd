package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const accountSchema = `
models:
  - name: Account
    table: accounts
    fields:
      - {name: id, column: _id, type: ObjectId, primary: true, auto: true}
      - {name: email, type: String}
      - {name: name, type: String}
      - {name: age, type: I32, optional: true}
    indices:
      - name: pk
        type: primary
        items: [{field: id}]
      - name: email_unique
        type: unique
        items: [{field: email}]
      - name: name_age
        items: [{field: name}, {field: age, sort: desc}]
`

type createIndexesCommand struct {
	CreateIndexes string `bson:"createIndexes"`
	Indexes       []struct {
		Key    bson.D `bson:"key"`
		Name   string `bson:"name"`
		Unique bool   `bson:"unique"`
		Sparse bool   `bson:"sparse"`
	} `bson:"indexes"`
}

type dropIndexesCommand struct {
	DropIndexes string `bson:"dropIndexes"`
	Index       string `bson:"index"`
}

func idIndex() bson.D {
	return bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "_id", Value: 1}}}, {Key: "name", Value: "_id_"}}
}

func TestMongoConnector_Migrate(t *testing.T) {
	mt := mockT(t)
	g := testGraph(t, accountSchema)

	mt.Run("reconciles live indices with the declaration", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(
			cursor(mt, "accounts",
				idIndex(),
				bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "legacy", Value: 1}}}, {Key: "name", Value: "legacy"}},
				bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "name", Value: 1}, {Key: "age", Value: 1}}}, {Key: "name", Value: "name_age"}},
			),
			mtest.CreateSuccessResponse(), // drop legacy
			mtest.CreateSuccessResponse(), // drop name_age
			mtest.CreateSuccessResponse(), // recreate name_age
			mtest.CreateSuccessResponse(), // create email_unique
		)
		c := New(mt.DB, g, nil, WithMigrateConcurrency(1))

		require.NoError(t, c.Migrate(context.Background(), false))

		startedCommand(t, mt, "listIndexes", nil)

		var drop dropIndexesCommand
		startedCommand(t, mt, "dropIndexes", &drop)
		assert.Equal(t, "accounts", drop.DropIndexes)
		assert.Equal(t, "legacy", drop.Index)

		startedCommand(t, mt, "dropIndexes", &drop)
		assert.Equal(t, "name_age", drop.Index)

		var create createIndexesCommand
		startedCommand(t, mt, "createIndexes", &create)
		require.Len(t, create.Indexes, 1)
		assert.Equal(t, "name_age", create.Indexes[0].Name)
		assert.Equal(t, bson.D{{Key: "name", Value: int32(1)}, {Key: "age", Value: int32(-1)}}, create.Indexes[0].Key)
		assert.False(t, create.Indexes[0].Unique)
		assert.True(t, create.Indexes[0].Sparse)

		startedCommand(t, mt, "createIndexes", &create)
		require.Len(t, create.Indexes, 1)
		assert.Equal(t, "email_unique", create.Indexes[0].Name)
		assert.Equal(t, bson.D{{Key: "email", Value: int32(1)}}, create.Indexes[0].Key)
		assert.True(t, create.Indexes[0].Unique)
		assert.True(t, create.Indexes[0].Sparse)

		// the primary index on _id is served by the backend's own index
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("matching indices are left alone", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(cursor(mt, "accounts",
			idIndex(),
			bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "email", Value: 1}}}, {Key: "name", Value: "email_unique"}, {Key: "unique", Value: true}, {Key: "sparse", Value: true}},
			bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "name", Value: 1.0}, {Key: "age", Value: int64(-1)}}}, {Key: "name", Value: "name_age"}, {Key: "sparse", Value: true}},
		))
		c := New(mt.DB, g, nil)

		require.NoError(t, c.Migrate(context.Background(), false))
		startedCommand(t, mt, "listIndexes", nil)
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("reset drops the database first", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			cursor(mt, "accounts",
				idIndex(),
				bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "email", Value: 1}}}, {Key: "name", Value: "email_unique"}, {Key: "unique", Value: true}},
				bson.D{{Key: "v", Value: 2}, {Key: "key", Value: bson.D{{Key: "name", Value: 1}, {Key: "age", Value: -1}}}, {Key: "name", Value: "name_age"}},
			),
		)
		c := New(mt.DB, g, nil)

		require.NoError(t, c.Migrate(context.Background(), true))
		startedCommand(t, mt, "dropDatabase", nil)
		startedCommand(t, mt, "listIndexes", nil)
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("failures are collected", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(
			cursor(mt, "accounts", idIndex()),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 85, Name: "IndexOptionsConflict", Message: "conflict"}),
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 86, Name: "IndexKeySpecsConflict", Message: "conflict"}),
		)
		c := New(mt.DB, g, nil)

		err := c.Migrate(context.Background(), false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create index email_unique on accounts")
		assert.Contains(t, err.Error(), "create index name_age on accounts")
	})
}

func TestSameShape(t *testing.T) {
	g := testGraph(t, accountSchema)
	account := testModel(t, g, "Account")
	nameAge := findIndex(account, "name_age")
	require.NotNil(t, nameAge)

	assert.True(t, sameShape(account, nameAge, liveIndex{Key: bson.D{{Key: "name", Value: int32(1)}, {Key: "age", Value: -1.0}}}))
	assert.False(t, sameShape(account, nameAge, liveIndex{Key: bson.D{{Key: "age", Value: int32(-1)}, {Key: "name", Value: int32(1)}}}))
	assert.False(t, sameShape(account, nameAge, liveIndex{Key: bson.D{{Key: "name", Value: int32(1)}}}))
	assert.False(t, sameShape(account, nameAge, liveIndex{Unique: true, Key: bson.D{{Key: "name", Value: int32(1)}, {Key: "age", Value: int32(-1)}}}))
	assert.True(t, isIDIndex(bson.D{{Key: "_id", Value: 1}}))
	assert.False(t, isIDIndex(bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: 1}}))
}
