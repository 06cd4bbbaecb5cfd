package models

import (
	"fmt"
)

// AccessGuard is consulted before a model is read. Mutation mode is set when the read
// serves a write (nested create/update), which callers may treat more permissively.
type AccessGuard interface {
	CheckRead(model *Model, mutationMode bool) error
}

// Graph is the registry of every model known to the application. It is built once at
// startup and passed explicitly to each engine entry point.
type Graph struct {
	models map[string]*Model
	order  []*Model
	enums  map[string][]string
	guard  AccessGuard
}

type GraphOption func(*Graph)

func WithEnum(name string, variants ...string) GraphOption {
	return func(g *Graph) {
		g.enums[name] = append([]string(nil), variants...)
	}
}

func WithAccessGuard(guard AccessGuard) GraphOption {
	return func(g *Graph) {
		g.guard = guard
	}
}

// NewGraph registers the models and checks that every relation and enum reference resolves.
func NewGraph(models []*Model, opts ...GraphOption) (*Graph, error) {
	g := &Graph{
		models: make(map[string]*Model, len(models)),
		enums:  make(map[string][]string),
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, m := range models {
		if _, exists := g.models[m.Name()]; exists {
			return nil, fmt.Errorf("model '%s' is declared twice", m.Name())
		}
		g.models[m.Name()] = m
		g.order = append(g.order, m)
	}
	for _, m := range g.order {
		for _, r := range m.Relations() {
			target, ok := g.models[r.Model]
			if !ok {
				return nil, fmt.Errorf("relation '%s' on model '%s' points to unknown model '%s'", r.Name, m.Name(), r.Model)
			}
			for _, ref := range r.References {
				if target.Field(ref) == nil {
					return nil, fmt.Errorf("relation '%s' on model '%s' references unknown field '%s' of '%s'", r.Name, m.Name(), ref, r.Model)
				}
			}
		}
		for _, f := range m.Fields() {
			if err := g.checkEnums(m, f.Name, f.Type); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func (g *Graph) checkEnums(m *Model, field string, t FieldType) error {
	switch t.Kind {
	case TypeEnum:
		if _, ok := g.enums[t.Enum]; !ok {
			return fmt.Errorf("field '%s' on model '%s' uses undeclared enum '%s'", field, m.Name(), t.Enum)
		}
	case TypeVec, TypeMap:
		if t.Inner != nil {
			return g.checkEnums(m, field, *t.Inner)
		}
	}
	return nil
}

// Model looks a model up by name.
func (g *Graph) Model(name string) (*Model, error) {
	m, ok := g.models[name]
	if !ok {
		return nil, fmt.Errorf("model '%s' is not defined", name)
	}
	return m, nil
}

// Models returns models in declaration order.
func (g *Graph) Models() []*Model { return g.order }

func (g *Graph) Enum(name string) ([]string, bool) {
	variants, ok := g.enums[name]
	return variants, ok
}

// NewObject returns an empty, unsaved object bound to the named model.
func (g *Graph) NewObject(modelName string) (*Object, error) {
	m, err := g.Model(modelName)
	if err != nil {
		return nil, err
	}
	return newObject(g, m), nil
}

func (g *Graph) CheckRead(m *Model, mutationMode bool) error {
	if g.guard == nil {
		return nil
	}
	return g.guard.CheckRead(m, mutationMode)
}
