package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"docgraph/src/models"
)

const testSchema = `
enums:
  Role: [admin, member]
models:
  - name: User
    table: users
    fields:
      - {name: id, column: _id, type: ObjectId, primary: true, auto: true}
      - {name: name, type: String}
      - {name: email, column: mail, type: String, optional: true}
      - {name: age, type: I32, optional: true}
      - {name: score, type: F64, optional: true}
      - {name: role, type: Enum<Role>, optional: true}
      - {name: tags, type: Vec<String>, optional: true}
      - {name: balance, type: Decimal, optional: true}
      - {name: birthday, type: Date, optional: true}
      - {name: visits, type: U64, optional: true}
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
    relations:
      - {name: author, model: User, fields: [authorId], references: [id]}
  - name: Log
    table: logs
    fields:
      - {name: message, type: String}
`

func testGraph(t *testing.T, opts ...models.GraphOption) *models.Graph {
	t.Helper()
	g, err := models.ParseGraph([]byte(testSchema), opts...)
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
	q, err := ParseQuery([]byte(raw))
	require.NoError(t, err)
	return q
}
