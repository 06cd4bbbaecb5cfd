package models

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// schema file layout

type schemaFile struct {
	Enums  map[string][]string `yaml:"enums"`
	Models []schemaModel       `yaml:"models"`
}

type schemaModel struct {
	Name      string           `yaml:"name"`
	Table     string           `yaml:"table"`
	Fields    []schemaField    `yaml:"fields"`
	Relations []schemaRelation `yaml:"relations"`
	Indices   []schemaIndex    `yaml:"indices"`
}

type schemaField struct {
	Name     string `yaml:"name"`
	Column   string `yaml:"column"`
	Type     string `yaml:"type"`
	Primary  bool   `yaml:"primary"`
	Optional bool   `yaml:"optional"`
	Auto     bool   `yaml:"auto"`
}

type schemaRelation struct {
	Name       string   `yaml:"name"`
	Model      string   `yaml:"model"`
	Many       bool     `yaml:"many"`
	Fields     []string `yaml:"fields"`
	References []string `yaml:"references"`
}

type schemaIndex struct {
	Name  string            `yaml:"name"`
	Type  string            `yaml:"type"`
	Items []schemaIndexItem `yaml:"items"`
}

type schemaIndexItem struct {
	Field string `yaml:"field"`
	Sort  string `yaml:"sort"`
}

// LoadGraphFile reads a YAML schema file and builds the model graph from it.
func LoadGraphFile(path string, opts ...GraphOption) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	graph, err := ParseGraph(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema file %s: %w", path, err)
	}
	return graph, nil
}

// ParseGraph builds a graph from YAML schema text.
func ParseGraph(data []byte, opts ...GraphOption) (*Graph, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	enumNames := make([]string, 0, len(file.Enums))
	for name := range file.Enums {
		enumNames = append(enumNames, name)
	}
	sort.Strings(enumNames)
	graphOpts := make([]GraphOption, 0, len(enumNames)+len(opts))
	for _, name := range enumNames {
		graphOpts = append(graphOpts, WithEnum(name, file.Enums[name]...))
	}
	graphOpts = append(graphOpts, opts...)

	models := make([]*Model, 0, len(file.Models))
	for _, sm := range file.Models {
		m, err := sm.build()
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return NewGraph(models, graphOpts...)
}

func (sm schemaModel) build() (*Model, error) {
	fields := make([]*Field, 0, len(sm.Fields))
	for _, sf := range sm.Fields {
		t, err := ParseFieldType(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s' of model '%s': %w", sf.Name, sm.Name, err)
		}
		fields = append(fields, &Field{
			Name:       sf.Name,
			ColumnName: sf.Column,
			Type:       t,
			Primary:    sf.Primary,
			Optional:   sf.Optional,
			Auto:       sf.Auto,
		})
	}

	relations := make([]*Relation, 0, len(sm.Relations))
	for _, sr := range sm.Relations {
		relations = append(relations, &Relation{
			Name:       sr.Name,
			Model:      sr.Model,
			Many:       sr.Many,
			Fields:     sr.Fields,
			References: sr.References,
		})
	}

	indices := make([]*ModelIndex, 0, len(sm.Indices))
	for _, si := range sm.Indices {
		var kind IndexType
		switch strings.ToLower(si.Type) {
		case "", "normal", "index":
			kind = IndexNormal
		case "unique":
			kind = IndexUnique
		case "primary":
			kind = IndexPrimary
		default:
			return nil, fmt.Errorf("index '%s' of model '%s' has unknown type '%s'", si.Name, sm.Name, si.Type)
		}
		items := make([]IndexItem, 0, len(si.Items))
		for _, item := range si.Items {
			dir := Asc
			switch strings.ToLower(item.Sort) {
			case "", "asc":
			case "desc":
				dir = Desc
			default:
				return nil, fmt.Errorf("index '%s' of model '%s' has unknown sort '%s'", si.Name, sm.Name, item.Sort)
			}
			items = append(items, IndexItem{Field: item.Field, Sort: dir})
		}
		indices = append(indices, &ModelIndex{Name: si.Name, Type: kind, Items: items})
	}

	return NewModel(sm.Name, sm.Table, fields, relations, indices)
}
