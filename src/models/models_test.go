package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel_DefaultsColumnAndTable(t *testing.T) {
	m, err := NewModel("User", "", []*Field{
		{Name: "id", ColumnName: "_id", Type: Scalar(TypeObjectID), Primary: true},
		{Name: "email", Type: Scalar(TypeString)},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "User", m.TableName())
	assert.Equal(t, "email", m.Field("email").ColumnName)
	assert.Equal(t, "_id", m.ColumnNameForFieldName("id"))
	assert.Equal(t, "unknown", m.ColumnNameForFieldName("unknown"))
	assert.Equal(t, "id", m.FieldWithColumnName("_id").Name)
	assert.Equal(t, "id", m.PrimaryFieldName())
	assert.Same(t, m.Field("id"), m.PrimaryField())
}

func TestNewModel_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		fields    []*Field
		relations []*Relation
		indices   []*ModelIndex
	}{
		{
			name: "two primary fields",
			fields: []*Field{
				{Name: "a", Type: Scalar(TypeI32), Primary: true},
				{Name: "b", Type: Scalar(TypeI32), Primary: true},
			},
		},
		{
			name: "duplicate column",
			fields: []*Field{
				{Name: "a", ColumnName: "x", Type: Scalar(TypeI32)},
				{Name: "b", ColumnName: "x", Type: Scalar(TypeI32)},
			},
		},
		{
			name:    "index on unknown field",
			fields:  []*Field{{Name: "a", Type: Scalar(TypeI32)}},
			indices: []*ModelIndex{{Name: "i", Items: []IndexItem{{Field: "b"}}}},
		},
		{
			name:      "relation on unknown field",
			fields:    []*Field{{Name: "a", Type: Scalar(TypeI32)}},
			relations: []*Relation{{Name: "r", Model: "Other", Fields: []string{"b"}, References: []string{"id"}}},
		},
		{
			name:      "relation without references",
			fields:    []*Field{{Name: "a", Type: Scalar(TypeI32)}},
			relations: []*Relation{{Name: "r", Model: "Other", Fields: []string{"a"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel("M", "m", tt.fields, tt.relations, tt.indices)
			assert.Error(t, err)
		})
	}
}

func TestModel_PrimaryKeyFieldsFromIndex(t *testing.T) {
	m, err := NewModel("Membership", "memberships", []*Field{
		{Name: "userId", Type: Scalar(TypeString)},
		{Name: "groupId", Type: Scalar(TypeString)},
	}, nil, []*ModelIndex{
		{Name: "pk", Type: IndexPrimary, Items: []IndexItem{{Field: "userId"}, {Field: "groupId", Sort: Desc}}},
	})
	require.NoError(t, err)

	keys := m.PrimaryKeyFields()
	require.Len(t, keys, 2)
	assert.Equal(t, "userId", keys[0].Name)
	assert.Equal(t, "groupId", keys[1].Name)
	assert.Nil(t, m.PrimaryField())
	assert.Equal(t, "pk", m.PrimaryIndex().Name)
}

func TestNewGraph_UnknownRelationTarget(t *testing.T) {
	m, err := NewModel("Post", "posts", []*Field{
		{Name: "authorId", Type: Scalar(TypeString)},
	}, []*Relation{
		{Name: "author", Model: "User", Fields: []string{"authorId"}, References: []string{"id"}},
	}, nil)
	require.NoError(t, err)

	_, err = NewGraph([]*Model{m})
	assert.ErrorContains(t, err, "unknown model 'User'")
}

func TestNewGraph_UndeclaredEnum(t *testing.T) {
	m, err := NewModel("User", "users", []*Field{
		{Name: "role", Type: EnumOf("Role")},
	}, nil, nil)
	require.NoError(t, err)

	_, err = NewGraph([]*Model{m})
	assert.Error(t, err)

	g, err := NewGraph([]*Model{m}, WithEnum("Role", "admin", "user"))
	require.NoError(t, err)
	variants, ok := g.Enum("Role")
	assert.True(t, ok)
	assert.Equal(t, []string{"admin", "user"}, variants)
}

type denyGuard struct{ mutation bool }

func (d *denyGuard) CheckRead(_ *Model, mutationMode bool) error {
	d.mutation = mutationMode
	return ErrInvalidQueryInput
}

func TestGraph_CheckRead(t *testing.T) {
	m, err := NewModel("User", "users", []*Field{{Name: "id", Type: Scalar(TypeString), Primary: true}}, nil, nil)
	require.NoError(t, err)

	open, err := NewGraph([]*Model{m})
	require.NoError(t, err)
	assert.NoError(t, open.CheckRead(m, false))

	guard := &denyGuard{}
	closed, err := NewGraph([]*Model{m}, WithAccessGuard(guard))
	require.NoError(t, err)
	assert.ErrorIs(t, closed.CheckRead(m, true), ErrInvalidQueryInput)
	assert.True(t, guard.mutation)
}
