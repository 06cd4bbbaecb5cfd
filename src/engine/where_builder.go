package engine

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docgraph/src/models"
)

// tempKeyPrefix marks lookup results that only exist to evaluate relation filters.
const tempKeyPrefix = "__rf_"

// whereCompiler turns one where tree into a $match document. Relation filters need the
// related records joined first, so they leave lookup stages and temporary keys behind.
type whereCompiler struct {
	b       *builder
	model   *models.Model
	lookups []bson.D
	temps   []string
}

func (b *builder) newWhereCompiler(model *models.Model) *whereCompiler {
	return &whereCompiler{b: b, model: model}
}

// filterStages compiles where into the complete stage list that filters model records.
// When negate is set the $match keeps records that do not satisfy where.
func (b *builder) filterStages(model *models.Model, where any, path string, negate bool) ([]bson.D, error) {
	w := b.newWhereCompiler(model)
	var match bson.D
	if where != nil {
		whereMap, err := asMap(path, where)
		if err != nil {
			return nil, err
		}
		match, err = w.build(whereMap, path)
		if err != nil {
			return nil, err
		}
	}
	if negate {
		if len(match) == 0 {
			// nothing can fail to match an empty filter
			match = bson.D{{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}}
		} else {
			match = bson.D{{Key: "$nor", Value: bson.A{match}}}
		}
	}
	return w.stages(match), nil
}

// stages assembles lookups, the match and the cleanup of temporary keys.
func (w *whereCompiler) stages(match bson.D) []bson.D {
	stages := append([]bson.D(nil), w.lookups...)
	if len(match) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: match}})
	}
	if len(w.temps) > 0 {
		stages = append(stages, unsetStage(w.temps))
	}
	return stages
}

func unsetStage(keys []string) bson.D {
	if len(keys) == 1 {
		return bson.D{{Key: "$unset", Value: keys[0]}}
	}
	out := make(bson.A, 0, len(keys))
	for _, k := range keys {
		out = append(out, k)
	}
	return bson.D{{Key: "$unset", Value: out}}
}

func (w *whereCompiler) build(where map[string]any, path string) (bson.D, error) {
	out := bson.D{}
	for _, key := range sortedKeys(where) {
		value := where[key]
		keyPath := joinPath(path, key)
		switch key {
		case "AND", "OR":
			items, err := w.buildList(value, keyPath, key == "AND")
			if err != nil {
				return nil, err
			}
			op := "$and"
			if key == "OR" {
				op = "$or"
			}
			out = append(out, bson.E{Key: op, Value: items})
		case "NOT":
			items, err := w.buildList(value, keyPath, true)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: "$nor", Value: items})
		default:
			if field := w.model.Field(key); field != nil {
				cond, err := w.fieldCondition(field, value, keyPath)
				if err != nil {
					return nil, err
				}
				out = append(out, bson.E{Key: field.ColumnName, Value: cond})
				continue
			}
			if relation := w.model.Relation(key); relation != nil {
				conds, err := w.relationConditions(relation, value, keyPath)
				if err != nil {
					return nil, err
				}
				out = append(out, conds...)
				continue
			}
			return nil, models.NewInvalidQueryInputError(keyPath,
				"'%s' is not a field or relation of model '%s'", key, w.model.Name())
		}
	}
	return out, nil
}

// buildList accepts an array of where trees, or a single tree when allowObject is set.
func (w *whereCompiler) buildList(value any, path string, allowObject bool) (bson.A, error) {
	if single, ok := value.(map[string]any); ok && allowObject {
		doc, err := w.build(single, path)
		if err != nil {
			return nil, err
		}
		return bson.A{doc}, nil
	}
	items, err := asSlice(path, value)
	if err != nil {
		return nil, err
	}
	out := make(bson.A, 0, len(items))
	for i, item := range items {
		itemPath := indexPath(path, i)
		m, err := asMap(itemPath, item)
		if err != nil {
			return nil, err
		}
		doc, err := w.build(m, itemPath)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (w *whereCompiler) fieldCondition(field *models.Field, value any, path string) (any, error) {
	ops, isMap := value.(map[string]any)
	if !isMap || field.Type.Kind == models.TypeMap {
		return w.b.encodeInput(path, value, field.Type)
	}
	return w.operators(field, ops, path)
}

func (w *whereCompiler) operators(field *models.Field, ops map[string]any, path string) (bson.D, error) {
	insensitive := false
	if mode, ok := ops["mode"]; ok {
		s, err := asString(joinPath(path, "mode"), mode)
		if err != nil {
			return nil, err
		}
		switch s {
		case "insensitive":
			insensitive = true
		case "default":
		default:
			return nil, models.NewInvalidQueryInputError(joinPath(path, "mode"), "unknown mode '%s'", s)
		}
	}

	out := bson.D{}
	regexSeen := false
	for _, op := range sortedKeys(ops) {
		raw := ops[op]
		opPath := joinPath(path, op)
		switch op {
		case "mode":
			continue

		case "equals", "gt", "gte", "lt", "lte":
			v, err := w.b.encodeInput(opPath, raw, field.Type)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: comparisonOps[op], Value: v})

		case "not":
			if nested, ok := raw.(map[string]any); ok && field.Type.Kind != models.TypeMap {
				inner, err := w.operators(field, nested, opPath)
				if err != nil {
					return nil, err
				}
				out = append(out, bson.E{Key: "$not", Value: inner})
				continue
			}
			v, err := w.b.encodeInput(opPath, raw, field.Type)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: "$ne", Value: v})

		case "in", "notIn":
			list, err := w.b.encodeList(opPath, raw, field.Type)
			if err != nil {
				return nil, err
			}
			key := "$in"
			if op == "notIn" {
				key = "$nin"
			}
			out = append(out, bson.E{Key: key, Value: list})

		case "contains", "startsWith", "endsWith", "matches":
			if field.Type.Kind != models.TypeString && field.Type.Kind != models.TypeEnum {
				return nil, models.NewInvalidQueryInputError(opPath, "'%s' only applies to string fields", op)
			}
			if regexSeen {
				return nil, models.NewInvalidQueryInputError(opPath,
					"only one of contains, startsWith, endsWith and matches may be used per field")
			}
			regexSeen = true
			s, err := asString(opPath, raw)
			if err != nil {
				return nil, err
			}
			pattern, err := regexPattern(op, s)
			if err != nil {
				return nil, models.NewInvalidQueryInputError(opPath, "invalid pattern: %v", err)
			}
			options := ""
			if insensitive {
				options = "i"
			}
			out = append(out, bson.E{Key: "$regex", Value: primitive.Regex{Pattern: pattern, Options: options}})

		case "isEmpty":
			if err := requireVec(field, opPath, op); err != nil {
				return nil, err
			}
			empty, err := asBool(opPath, raw)
			if err != nil {
				return nil, err
			}
			if empty {
				out = append(out, bson.E{Key: "$size", Value: 0})
			} else {
				out = append(out, bson.E{Key: "$not", Value: bson.D{{Key: "$size", Value: 0}}})
			}

		case "length":
			if err := requireVec(field, opPath, op); err != nil {
				return nil, err
			}
			n, err := toInt64(opPath, raw)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, models.NewInvalidQueryInputError(opPath, "length must not be negative")
			}
			out = append(out, bson.E{Key: "$size", Value: n})

		case "has":
			if err := requireVec(field, opPath, op); err != nil {
				return nil, err
			}
			v, err := w.b.encodeInput(opPath, raw, innerType(field.Type))
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: v}}})

		case "hasEvery", "hasSome":
			if err := requireVec(field, opPath, op); err != nil {
				return nil, err
			}
			list, err := w.b.encodeList(opPath, raw, innerType(field.Type))
			if err != nil {
				return nil, err
			}
			key := "$all"
			if op == "hasSome" {
				key = "$in"
			}
			out = append(out, bson.E{Key: key, Value: list})

		default:
			return nil, models.NewInvalidQueryInputError(opPath, "unknown filter operator '%s'", op)
		}
	}
	if insensitive && !regexSeen {
		return nil, models.NewInvalidQueryInputError(joinPath(path, "mode"),
			"mode requires contains, startsWith, endsWith or matches")
	}
	return out, nil
}

var comparisonOps = map[string]string{
	"equals": "$eq",
	"gt":     "$gt",
	"gte":    "$gte",
	"lt":     "$lt",
	"lte":    "$lte",
}

func regexPattern(op, s string) (string, error) {
	switch op {
	case "startsWith":
		return "^" + regexp.QuoteMeta(s), nil
	case "endsWith":
		return regexp.QuoteMeta(s) + "$", nil
	case "contains":
		return regexp.QuoteMeta(s), nil
	}
	if _, err := regexp.Compile(s); err != nil {
		return "", err
	}
	return s, nil
}

func requireVec(field *models.Field, path, op string) error {
	if field.Type.Kind != models.TypeVec {
		return models.NewInvalidQueryInputError(path, "'%s' only applies to list fields", op)
	}
	return nil
}

// relationConditions joins the related records under a temporary key and returns
// the $match conditions testing that key.
func (w *whereCompiler) relationConditions(relation *models.Relation, value any, path string) (bson.D, error) {
	filters, err := asMap(path, value)
	if err != nil {
		return nil, err
	}
	if !relation.Many {
		if _, ok := filters["is"]; !ok {
			if _, ok := filters["isNot"]; !ok {
				// shorthand: a bare filter on a to-one relation means "is"
				filters = map[string]any{"is": filters}
			}
		}
	}

	var conds bson.D
	for _, key := range sortedKeys(filters) {
		inner := filters[key]
		keyPath := joinPath(path, key)

		var (
			negate    bool
			wantEmpty bool
		)
		switch {
		case relation.Many && key == "some":
		case relation.Many && key == "none":
			wantEmpty = true
		case relation.Many && key == "every":
			negate, wantEmpty = true, true
		case !relation.Many && key == "is":
			if inner == nil {
				wantEmpty = true
			}
		case !relation.Many && key == "isNot":
			wantEmpty = inner != nil
		default:
			return nil, models.NewInvalidQueryInputError(keyPath,
				"unknown relation filter '%s' for relation '%s'", key, relation.Name)
		}

		target, err := w.b.graph.Model(relation.Model)
		if err != nil {
			return nil, err
		}
		if err := w.b.graph.CheckRead(target, w.b.mutationMode); err != nil {
			return nil, err
		}
		innerStages, err := w.b.filterStages(target, inner, keyPath, negate)
		if err != nil {
			return nil, err
		}
		temp := w.b.nextTempKey()
		lookup, err := w.b.lookupStage(w.model, relation, temp, innerStages)
		if err != nil {
			return nil, err
		}
		w.lookups = append(w.lookups, lookup)
		w.temps = append(w.temps, temp)

		if wantEmpty {
			conds = append(conds, bson.E{Key: temp, Value: bson.D{{Key: "$size", Value: 0}}})
		} else {
			conds = append(conds, bson.E{Key: temp, Value: bson.D{{Key: "$ne", Value: bson.A{}}}})
		}
	}
	return conds, nil
}

// lookupStage joins the records of relation's target into the key as. The join compares
// each local column with its referenced column, using $in when either side is a list.
func (b *builder) lookupStage(model *models.Model, relation *models.Relation, as string, inner []bson.D) (bson.D, error) {
	target, err := b.graph.Model(relation.Model)
	if err != nil {
		return nil, err
	}
	let := bson.D{}
	eqs := bson.A{}
	for i, local := range relation.Fields {
		localField := model.Field(local)
		refField := target.Field(relation.References[i])
		if localField == nil || refField == nil {
			return nil, fmt.Errorf("relation '%s' of model '%s' is not resolvable", relation.Name, model.Name())
		}
		variable := fmt.Sprintf("v_%d", i)
		let = append(let, bson.E{Key: variable, Value: "$" + localField.ColumnName})
		ref := "$" + refField.ColumnName
		bound := "$$" + variable
		switch {
		case localField.Type.Kind == models.TypeVec:
			eqs = append(eqs, bson.D{{Key: "$in", Value: bson.A{ref, bson.D{{Key: "$ifNull", Value: bson.A{bound, bson.A{}}}}}}})
		case refField.Type.Kind == models.TypeVec:
			eqs = append(eqs, bson.D{{Key: "$in", Value: bson.A{bound, bson.D{{Key: "$ifNull", Value: bson.A{ref, bson.A{}}}}}}})
		default:
			eqs = append(eqs, bson.D{{Key: "$eq", Value: bson.A{ref, bound}}})
		}
	}
	var expr any = eqs[0]
	if len(eqs) > 1 {
		expr = bson.D{{Key: "$and", Value: eqs}}
	}
	pipeline := bson.A{bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: expr}}}}}
	for _, stage := range inner {
		pipeline = append(pipeline, stage)
	}
	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: target.TableName()},
		{Key: "let", Value: let},
		{Key: "pipeline", Value: pipeline},
		{Key: "as", Value: as},
	}}}, nil
}

func (b *builder) encodeInput(path string, raw any, t models.FieldType) (any, error) {
	v, err := DecodeInput(b.graph, path, raw, t)
	if err != nil {
		return nil, err
	}
	return EncodeBSON(path, t, v)
}

func (b *builder) encodeList(path string, raw any, t models.FieldType) (bson.A, error) {
	items, err := asSlice(path, raw)
	if err != nil {
		return nil, err
	}
	out := make(bson.A, 0, len(items))
	for i, item := range items {
		v, err := b.encodeInput(indexPath(path, i), item, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
