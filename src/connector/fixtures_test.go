package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"docgraph/src/engine"
	"docgraph/src/models"
)

const testSchema = `
models:
  - name: User
    table: users
    fields:
      - {name: id, column: _id, type: ObjectId, primary: true, auto: true}
      - {name: name, type: String}
      - {name: email, column: mail, type: String, optional: true}
      - {name: age, type: I32, optional: true}
      - {name: score, type: F64, optional: true}
      - {name: tags, type: Vec<String>, optional: true}
    relations:
      - {name: posts, model: Post, many: true, fields: [id], references: [authorId]}
    indices:
      - name: mail_unique
        type: unique
        items: [{field: email}]
  - name: Post
    table: posts
    fields:
      - {name: id, column: _id, type: ObjectId, primary: true, auto: true}
      - {name: title, type: String}
      - {name: authorId, type: ObjectId}
  - name: Log
    table: logs
    fields:
      - {name: message, type: String}
`

func testGraph(t *testing.T, schema string) *models.Graph {
	t.Helper()
	g, err := models.ParseGraph([]byte(schema))
	require.NoError(t, err)
	return g
}

func testModel(t *testing.T, g *models.Graph, name string) *models.Model {
	t.Helper()
	m, err := g.Model(name)
	require.NoError(t, err)
	return m
}

func testQuery(t *testing.T, raw string) map[string]any {
	t.Helper()
	q, err := engine.ParseQuery([]byte(raw))
	require.NoError(t, err)
	return q
}

func mockT(t *testing.T) *mtest.T {
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

// storedUser builds a User as if it had been read from the backend.
func storedUser(t *testing.T, g *models.Graph, id primitive.ObjectID, values map[string]models.Value) *models.Object {
	t.Helper()
	obj, err := g.NewObject("User")
	require.NoError(t, err)
	obj.LoadValue("id", models.ObjectID(id.Hex()))
	for k, v := range values {
		obj.LoadValue(k, v)
	}
	obj.MarkLoaded(nil)
	return obj
}

func cursor(mt *mtest.T, collection string, docs ...bson.D) bson.D {
	return mtest.CreateCursorResponse(0, mt.DB.Name()+"."+collection, mtest.FirstBatch, docs...)
}

// startedCommand pops the next command sent to the mock deployment and decodes it into out.
func startedCommand(t *testing.T, mt *mtest.T, name string, out any) {
	t.Helper()
	evt := mt.GetStartedEvent()
	require.NotNil(t, evt, "expected a %s command", name)
	require.Equal(t, name, evt.CommandName)
	if out != nil {
		require.NoError(t, bson.Unmarshal(evt.Command, out))
	}
}
