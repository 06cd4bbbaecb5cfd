package engine

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docgraph/src/models"
)

// ReshapeAggregateRows converts raw aggregate rows into result records. Aggregate kinds
// (keys starting with "_") become nested maps keyed by field name; other keys are group
// values decoded against their field type. _id is dropped.
func ReshapeAggregateRows(model *models.Model, rows []bson.M) ([]models.Map, error) {
	out := make([]models.Map, 0, len(rows))
	for _, row := range rows {
		record := models.Map{}
		for _, key := range sortedKeys(row) {
			raw := row[key]
			if key == "_id" {
				continue
			}
			if strings.HasPrefix(key, "_") {
				inner, ok := asDocument(raw)
				if !ok {
					return nil, models.NewUnmatchedDataTypeError(key)
				}
				values := models.Map{}
				for _, column := range sortedKeys(inner) {
					name := column
					var field *models.Field
					if column != AllKey {
						if field = model.FieldWithColumnName(column); field != nil {
							name = field.Name
						}
					}
					v, err := aggregateValue(field, name, inner[column])
					if err != nil {
						return nil, err
					}
					values[name] = v
				}
				record[key] = values
				continue
			}
			field := model.Field(key)
			if field == nil {
				continue
			}
			v, err := DecodeBSON(field.Name, raw, field.Type, true)
			if err != nil {
				return nil, err
			}
			record[key] = v
		}
		out = append(out, record)
	}
	return out, nil
}

// aggregateValue keeps the numeric width the backend returned. The float check comes
// first, then int64, then int32.
func aggregateValue(field *models.Field, name string, raw any) (models.Value, error) {
	if f, ok := raw.(float64); ok {
		return models.F64(f), nil
	}
	if n, ok := raw.(int64); ok {
		return models.I64(n), nil
	}
	if n, ok := raw.(int32); ok {
		return models.I32(n), nil
	}
	if raw == nil {
		return models.Null{}, nil
	}
	if d, ok := raw.(primitive.Decimal128); ok {
		return decodeDecimal128(name, d)
	}
	// _min and _max of non numeric fields
	if field != nil {
		return DecodeBSON(field.Name, raw, field.Type, true)
	}
	return nil, models.NewUnmatchedDataTypeError(name)
}

// EmptyAggregateResult is the aggregate answer for zero matching records: 0 for every
// requested count and null for every other requested aggregate.
func EmptyAggregateResult(model *models.Model, query map[string]any) (models.Map, error) {
	req, err := parseAggregateRequest(model, query, "")
	if err != nil {
		return nil, err
	}
	out := models.Map{}
	for _, kind := range aggregateKinds {
		names, ok := req[kind]
		if !ok {
			continue
		}
		values := models.Map{}
		for _, name := range names {
			if kind == "_count" {
				values[name] = models.I64(0)
			} else {
				values[name] = models.Null{}
			}
		}
		out[kind] = values
	}
	return out, nil
}
