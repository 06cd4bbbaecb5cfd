package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"docgraph/src/models"
)

type insertCommand struct {
	Insert    string   `bson:"insert"`
	Documents []bson.M `bson:"documents"`
}

type updateCommand struct {
	Update  string `bson:"update"`
	Updates []struct {
		Q bson.M `bson:"q"`
		U bson.M `bson:"u"`
	} `bson:"updates"`
}

type findAndModifyCommand struct {
	FindAndModify string `bson:"findAndModify"`
	Query         bson.M `bson:"query"`
	Update        bson.M `bson:"update"`
	New           bool   `bson:"new"`
}

type deleteCommand struct {
	Delete  string `bson:"delete"`
	Deletes []struct {
		Q bson.M `bson:"q"`
	} `bson:"deletes"`
}

func TestMongoConnector_Create(t *testing.T) {
	mt := mockT(t)
	g := testGraph(t, testSchema)

	mt.Run("writes back the assigned id", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		c := New(mt.DB, g, nil)

		obj, err := g.NewObject("User")
		require.NoError(t, err)
		require.NoError(t, obj.Set("name", models.String("ann")))
		require.NoError(t, obj.Set("email", models.Null{}))
		require.NoError(t, obj.Set("tags", models.Vec{models.String("go")}))

		require.NoError(t, c.SaveObject(context.Background(), obj))
		assert.False(t, obj.IsNew())
		assert.Empty(t, obj.KeysForSave())

		var cmd insertCommand
		startedCommand(t, mt, "insert", &cmd)
		assert.Equal(t, "users", cmd.Insert)
		require.Len(t, cmd.Documents, 1)
		doc := cmd.Documents[0]
		assert.Equal(t, "ann", doc["name"])
		assert.Equal(t, bson.A{"go"}, doc["tags"])
		assert.NotContains(t, doc, "mail")

		oid, ok := doc["_id"].(primitive.ObjectID)
		require.True(t, ok)
		assert.Equal(t, models.ObjectID(oid.Hex()), obj.Get("id"))
		assert.Equal(t, map[string]models.Value{"id": models.ObjectID(oid.Hex())}, obj.Identity())
	})

	mt.Run("model without an id column keeps a synthetic id", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}),
		)
		c := New(mt.DB, g, nil)

		obj, err := g.NewObject("Log")
		require.NoError(t, err)
		require.NoError(t, obj.Set("message", models.String("hello")))
		require.NoError(t, c.SaveObject(context.Background(), obj))

		var insert insertCommand
		startedCommand(t, mt, "insert", &insert)
		oid := insert.Documents[0]["_id"].(primitive.ObjectID)
		assert.Equal(t, models.ObjectID(oid.Hex()), obj.SyntheticID())

		require.NoError(t, c.DeleteObject(context.Background(), obj))
		var del deleteCommand
		startedCommand(t, mt, "delete", &del)
		assert.Equal(t, "logs", del.Delete)
		require.Len(t, del.Deletes, 1)
		assert.Equal(t, bson.M{"_id": oid}, del.Deletes[0].Q)
	})

	mt.Run("duplicate key names the field", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: `E11000 duplicate key error collection: test.users index: mail_unique dup key: { mail: "a@b.c" }`,
		}))
		c := New(mt.DB, g, nil)

		obj, err := g.NewObject("User")
		require.NoError(t, err)
		require.NoError(t, obj.Set("name", models.String("ann")))
		require.NoError(t, obj.Set("email", models.String("a@b.c")))

		err = c.SaveObject(context.Background(), obj)
		assert.ErrorIs(t, err, models.ErrUniqueValueDuplicated)
		var actionErr *models.ActionError
		require.True(t, errors.As(err, &actionErr))
		assert.Equal(t, "email", actionErr.Field)
		assert.True(t, obj.IsNew())
	})

	mt.Run("other write errors", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 121, Message: "Document failed validation"}))
		c := New(mt.DB, g, nil)

		obj, err := g.NewObject("Log")
		require.NoError(t, err)
		require.NoError(t, obj.Set("message", models.String("x")))

		assert.ErrorIs(t, c.SaveObject(context.Background(), obj), models.ErrUnknownDatabaseWriteError)
	})
}

func TestMongoConnector_Update(t *testing.T) {
	mt := mockT(t)
	g := testGraph(t, testSchema)
	id := primitive.NewObjectID()

	mt.Run("changed fields become set and unset", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))
		c := New(mt.DB, g, nil)
		obj := storedUser(t, g, id, map[string]models.Value{
			"name":  models.String("ann"),
			"email": models.String("ann@x.io"),
		})
		require.NoError(t, obj.Set("name", models.String("anna")))
		require.NoError(t, obj.Set("email", models.Null{}))

		require.NoError(t, c.SaveObject(context.Background(), obj))
		assert.Empty(t, obj.KeysForSave())

		var cmd updateCommand
		startedCommand(t, mt, "update", &cmd)
		assert.Equal(t, "users", cmd.Update)
		require.Len(t, cmd.Updates, 1)
		assert.Equal(t, bson.M{"_id": id}, cmd.Updates[0].Q)
		assert.Equal(t, bson.M{
			"$set":   bson.M{"name": "anna"},
			"$unset": bson.M{"mail": ""},
		}, cmd.Updates[0].U)
	})

	mt.Run("no pending change sends nothing", func(mt *mtest.T) {
		t := mt.T
		c := New(mt.DB, g, nil)
		obj := storedUser(t, g, id, map[string]models.Value{"name": models.String("ann")})

		require.NoError(t, c.SaveObject(context.Background(), obj))
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("record gone", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))
		c := New(mt.DB, g, nil)
		obj := storedUser(t, g, id, nil)
		require.NoError(t, obj.Set("name", models.String("x")))

		assert.ErrorIs(t, c.SaveObject(context.Background(), obj), models.ErrObjectNotFound)
	})

	mt.Run("atomic updates reload the stored values", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "name", Value: "ann"},
			{Key: "age", Value: int32(9)},
			{Key: "score", Value: 1.5},
			{Key: "tags", Value: bson.A{"x"}},
		}}))
		c := New(mt.DB, g, nil)
		obj := storedUser(t, g, id, map[string]models.Value{
			"name":  models.String("ann"),
			"age":   models.I32(5),
			"score": models.F64(6),
		})
		require.NoError(t, obj.Increment("age", models.I32(2)))
		require.NoError(t, obj.Divide("score", models.F64(4)))
		require.NoError(t, obj.Push("tags", models.String("x")))

		require.NoError(t, c.SaveObject(context.Background(), obj))
		// another writer moved age concurrently; the stored value wins
		assert.Equal(t, models.I32(9), obj.Get("age"))
		assert.Equal(t, models.F64(1.5), obj.Get("score"))
		assert.Equal(t, models.Vec{models.String("x")}, obj.Get("tags"))
		assert.Empty(t, obj.AtomicKeys())

		var cmd findAndModifyCommand
		startedCommand(t, mt, "findAndModify", &cmd)
		assert.Equal(t, "users", cmd.FindAndModify)
		assert.True(t, cmd.New)
		assert.Equal(t, bson.M{"_id": id}, cmd.Query)
		assert.Equal(t, bson.M{
			"$inc":  bson.M{"age": int32(2)},
			"$mul":  bson.M{"score": 0.25},
			"$push": bson.M{"tags": "x"},
		}, cmd.Update)
	})

	mt.Run("atomic update on a missing record", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))
		c := New(mt.DB, g, nil)
		obj := storedUser(t, g, id, map[string]models.Value{"age": models.I32(1)})
		require.NoError(t, obj.Increment("age", models.I32(1)))

		assert.ErrorIs(t, c.SaveObject(context.Background(), obj), models.ErrObjectNotFound)
	})
}

func TestUpdateDocument(t *testing.T) {
	g := testGraph(t, testSchema)
	id := primitive.NewObjectID()

	obj := storedUser(t, g, id, map[string]models.Value{"age": models.I32(10), "score": models.F64(2)})
	require.NoError(t, obj.Set("name", models.String("b")))
	require.NoError(t, obj.Set("email", models.Null{}))
	require.NoError(t, obj.Decrement("age", models.I32(3)))
	require.NoError(t, obj.Multiply("score", models.F64(1.5)))

	update, atomicKeys, err := updateDocument(obj)
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "score"}, atomicKeys)
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "name", Value: "b"}}},
		{Key: "$unset", Value: bson.D{{Key: "mail", Value: ""}}},
		{Key: "$inc", Value: bson.D{{Key: "age", Value: int32(-3)}}},
		{Key: "$mul", Value: bson.D{{Key: "score", Value: 1.5}}},
	}, update)

	divide := storedUser(t, g, id, map[string]models.Value{"score": models.F64(8)})
	require.NoError(t, divide.Divide("score", models.I32(4)))
	update, _, err = updateDocument(divide)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$mul", Value: bson.D{{Key: "score", Value: 0.25}}}}, update)
}

func TestIdentityFilter(t *testing.T) {
	g := testGraph(t, testSchema)

	fresh, err := g.NewObject("User")
	require.NoError(t, err)
	_, err = identityFilter(fresh)
	assert.ErrorIs(t, err, models.ErrObjectIsNotSaved)

	id := primitive.NewObjectID()
	stored := storedUser(t, g, id, nil)
	// the filter targets the identity snapshot, not the edited value
	require.NoError(t, stored.Set("id", models.ObjectID(primitive.NewObjectID().Hex())))
	filter, err := identityFilter(stored)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: id}}, filter)

	log, err := g.NewObject("Log")
	require.NoError(t, err)
	log.LoadValue(models.SyntheticIDKey, models.String("external-key"))
	log.MarkLoaded(nil)
	filter, err = identityFilter(log)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: "external-key"}}, filter)
}

func TestMongoConnector_Delete(t *testing.T) {
	mt := mockT(t)
	g := testGraph(t, testSchema)
	id := primitive.NewObjectID()

	mt.Run("deletes by identity", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))
		c := New(mt.DB, g, nil)

		require.NoError(t, c.DeleteObject(context.Background(), storedUser(t, g, id, nil)))

		var cmd deleteCommand
		startedCommand(t, mt, "delete", &cmd)
		assert.Equal(t, "users", cmd.Delete)
		require.Len(t, cmd.Deletes, 1)
		assert.Equal(t, bson.M{"_id": id}, cmd.Deletes[0].Q)
	})

	mt.Run("unsaved object", func(mt *mtest.T) {
		t := mt.T
		c := New(mt.DB, g, nil)
		obj, err := g.NewObject("User")
		require.NoError(t, err)

		assert.ErrorIs(t, c.DeleteObject(context.Background(), obj), models.ErrObjectIsNotSaved)
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("object without a model", func(mt *mtest.T) {
		t := mt.T
		c := New(mt.DB, g, nil)

		assert.ErrorIs(t, c.DeleteObject(context.Background(), &models.Object{}), models.ErrInvalidQueryInput)
		assert.ErrorIs(t, c.SaveObject(context.Background(), &models.Object{}), models.ErrInvalidQueryInput)
		assert.ErrorIs(t, c.SaveObject(context.Background(), nil), models.ErrInvalidQueryInput)
		assert.Nil(t, mt.GetStartedEvent())
	})

	mt.Run("backend failure", func(mt *mtest.T) {
		t := mt.T
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 13, Name: "Unauthorized", Message: "not allowed"}))
		c := New(mt.DB, g, nil)

		err := c.DeleteObject(context.Background(), storedUser(t, g, id, nil))
		assert.ErrorIs(t, err, models.ErrUnknownDatabaseDeleteError)
	})
}
