package models

import (
	"fmt"
)

// Sort is an index or ordering direction.
type Sort int

const (
	Asc Sort = iota
	Desc
)

func (s Sort) String() string {
	if s == Desc {
		return "desc"
	}
	return "asc"
}

// Direction is the numeric form used in backend sort and index key documents.
func (s Sort) Direction() int {
	if s == Desc {
		return -1
	}
	return 1
}

type Field struct {
	// Name is the logical name used in queries and on objects.
	Name string

	// ColumnName is the key the backend stores the value under. Defaults to Name.
	ColumnName string

	Type FieldType

	Primary bool

	// Optional fields may hold null in storage.
	Optional bool

	// Auto fields are generated by the backend on insert.
	Auto bool
}

type Relation struct {
	// Name is the key used in include trees and on objects.
	Name string

	// Model is the target model name.
	Model string

	// Many is true for to-many relations.
	Many bool

	// Fields are local field names, paired index by index with References on the target model.
	Fields     []string
	References []string
}

// IndexType is the uniqueness kind of a declared index.
type IndexType int

const (
	IndexNormal IndexType = iota
	IndexUnique
	IndexPrimary
)

func (t IndexType) String() string {
	switch t {
	case IndexUnique:
		return "unique"
	case IndexPrimary:
		return "primary"
	}
	return "normal"
}

// IsUnique is true for the kinds the backend must enforce uniqueness on.
func (t IndexType) IsUnique() bool {
	return t == IndexUnique || t == IndexPrimary
}

type IndexItem struct {
	Field string
	Sort  Sort
}

type ModelIndex struct {
	Name  string
	Type  IndexType
	Items []IndexItem
}

// Model is the static description of one entity. It is immutable once built and
// safe to share between goroutines.
type Model struct {
	name      string
	tableName string

	fields        []*Field
	fieldByName   map[string]*Field
	fieldByColumn map[string]*Field

	relations      []*Relation
	relationByName map[string]*Relation

	indices []*ModelIndex
	primary *Field
}

// NewModel validates the declaration and builds the lookup tables.
func NewModel(name, tableName string, fields []*Field, relations []*Relation, indices []*ModelIndex) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if tableName == "" {
		tableName = name
	}
	m := &Model{
		name:           name,
		tableName:      tableName,
		fieldByName:    make(map[string]*Field, len(fields)),
		fieldByColumn:  make(map[string]*Field, len(fields)),
		relationByName: make(map[string]*Relation, len(relations)),
	}

	for _, f := range fields {
		if f == nil || f.Name == "" {
			return nil, fmt.Errorf("model '%s' has a field without a name", name)
		}
		field := *f
		if field.ColumnName == "" {
			field.ColumnName = field.Name
		}
		if _, exists := m.fieldByName[field.Name]; exists {
			return nil, fmt.Errorf("model '%s' declares field '%s' twice", name, field.Name)
		}
		if _, exists := m.fieldByColumn[field.ColumnName]; exists {
			return nil, fmt.Errorf("model '%s' maps two fields to column '%s'", name, field.ColumnName)
		}
		if field.Primary {
			if m.primary != nil {
				return nil, fmt.Errorf("model '%s' declares more than one primary field", name)
			}
			m.primary = &field
		}
		m.fields = append(m.fields, &field)
		m.fieldByName[field.Name] = &field
		m.fieldByColumn[field.ColumnName] = &field
	}
	// keep the primary pointer identical to the stored field
	if m.primary != nil {
		m.primary = m.fieldByName[m.primary.Name]
	}

	for _, r := range relations {
		if r == nil || r.Name == "" {
			return nil, fmt.Errorf("model '%s' has a relation without a name", name)
		}
		if _, exists := m.fieldByName[r.Name]; exists {
			return nil, fmt.Errorf("relation '%s' on model '%s' shadows a field", r.Name, name)
		}
		if len(r.Fields) != len(r.References) || len(r.Fields) == 0 {
			return nil, fmt.Errorf("relation '%s' on model '%s' needs matching fields and references", r.Name, name)
		}
		for _, local := range r.Fields {
			if _, ok := m.fieldByName[local]; !ok {
				return nil, fmt.Errorf("relation '%s' on model '%s' references unknown field '%s'", r.Name, name, local)
			}
		}
		relation := *r
		m.relations = append(m.relations, &relation)
		m.relationByName[relation.Name] = &relation
	}

	primaryIndices := 0
	for _, idx := range indices {
		if idx == nil || idx.Name == "" {
			return nil, fmt.Errorf("model '%s' has an index without a name", name)
		}
		if len(idx.Items) == 0 {
			return nil, fmt.Errorf("index '%s' on model '%s' has no items", idx.Name, name)
		}
		for _, item := range idx.Items {
			if _, ok := m.fieldByName[item.Field]; !ok {
				return nil, fmt.Errorf("index '%s' on model '%s' references unknown field '%s'", idx.Name, name, item.Field)
			}
		}
		if idx.Type == IndexPrimary {
			primaryIndices++
		}
		index := *idx
		index.Items = append([]IndexItem(nil), idx.Items...)
		m.indices = append(m.indices, &index)
	}
	if primaryIndices > 1 {
		return nil, fmt.Errorf("model '%s' declares more than one primary index", name)
	}

	return m, nil
}

func (m *Model) Name() string { return m.name }

func (m *Model) TableName() string { return m.tableName }

func (m *Model) Fields() []*Field { return m.fields }

func (m *Model) Field(name string) *Field { return m.fieldByName[name] }

func (m *Model) FieldWithColumnName(column string) *Field { return m.fieldByColumn[column] }

func (m *Model) Relations() []*Relation { return m.relations }

func (m *Model) Relation(name string) *Relation { return m.relationByName[name] }

func (m *Model) Indices() []*ModelIndex { return m.indices }

// PrimaryField returns the single field flagged primary, or nil.
func (m *Model) PrimaryField() *Field { return m.primary }

func (m *Model) PrimaryFieldName() string {
	if m.primary == nil {
		return ""
	}
	return m.primary.Name
}

// PrimaryIndex returns the declared primary index, if any.
func (m *Model) PrimaryIndex() *ModelIndex {
	for _, idx := range m.indices {
		if idx.Type == IndexPrimary {
			return idx
		}
	}
	return nil
}

// PrimaryKeyFields lists the fields identifying a stored record: the primary field,
// else the fields of the primary index. Nil means the backend's own id is used.
func (m *Model) PrimaryKeyFields() []*Field {
	if m.primary != nil {
		return []*Field{m.primary}
	}
	idx := m.PrimaryIndex()
	if idx == nil {
		return nil
	}
	out := make([]*Field, 0, len(idx.Items))
	for _, item := range idx.Items {
		out = append(out, m.fieldByName[item.Field])
	}
	return out
}

// ColumnNameForFieldName maps a logical field name to its backend key. Unknown
// names map to themselves.
func (m *Model) ColumnNameForFieldName(name string) string {
	if f, ok := m.fieldByName[name]; ok {
		return f.ColumnName
	}
	return name
}
