package engine

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"docgraph/src/models"
)

// AllKey selects every record in a _count request.
const AllKey = "_all"

var aggregateKinds = []string{"_count", "_sum", "_avg", "_min", "_max"}

var accumulatorOps = map[string]string{
	"_sum": "$sum",
	"_avg": "$avg",
	"_min": "$min",
	"_max": "$max",
}

// aggregateRequest lists the requested field names per aggregate kind, in declaration order.
type aggregateRequest map[string][]string

func parseAggregateRequest(model *models.Model, query map[string]any, path string) (aggregateRequest, error) {
	req := aggregateRequest{}
	for _, kind := range aggregateKinds {
		raw, ok := query[kind]
		if !ok {
			continue
		}
		kindPath := joinPath(path, kind)
		if flag, isBool := raw.(bool); isBool && kind == "_count" {
			if flag {
				req[kind] = []string{AllKey}
			}
			continue
		}
		selection, err := asMap(kindPath, raw)
		if err != nil {
			return nil, err
		}
		for _, name := range sortedKeys(selection) {
			keyPath := joinPath(kindPath, name)
			if _, err := asBool(keyPath, selection[name]); err != nil {
				return nil, err
			}
			if name == AllKey {
				if kind != "_count" {
					return nil, models.NewInvalidQueryInputError(keyPath, "_all is only valid in _count")
				}
				continue
			}
			field := model.Field(name)
			if field == nil {
				return nil, models.NewInvalidQueryInputError(keyPath, "'%s' is not a field of model '%s'", name, model.Name())
			}
			if (kind == "_sum" || kind == "_avg") && !field.Type.IsNumeric() {
				return nil, models.NewInvalidQueryInputError(keyPath, "%s requires a numeric field, '%s' is %s", kind, name, field.Type)
			}
		}
		var names []string
		if on, _ := selection[AllKey].(bool); on {
			names = append(names, AllKey)
		}
		for _, f := range model.Fields() {
			if on, _ := selection[f.Name].(bool); on {
				names = append(names, f.Name)
			}
		}
		if len(names) > 0 {
			req[kind] = names
		}
	}
	return req, nil
}

func accumulatorKey(kind, column string) string {
	return kind + "_" + column
}

// accumulator builds the $group expression for one requested aggregate.
func accumulator(kind, column string) bson.D {
	if kind == "_count" {
		if column == AllKey {
			return bson.D{{Key: "$sum", Value: 1}}
		}
		// null and missing values are not counted
		return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$gt", Value: bson.A{"$" + column, nil}}}, 1, 0,
		}}}}}
	}
	return bson.D{{Key: accumulatorOps[kind], Value: "$" + column}}
}

func columnFor(model *models.Model, name string) string {
	if name == AllKey {
		return AllKey
	}
	return model.ColumnNameForFieldName(name)
}

// BuildAggregatePipeline compiles an aggregate or groupBy query. Results come back as rows
// shaped {<by field>: value, _sum: {<column>: value}, ...}; see ReshapeAggregateRows.
func BuildAggregatePipeline(graph *models.Graph, model *models.Model, query map[string]any, groupBy bool) (mongo.Pipeline, error) {
	if err := graph.CheckRead(model, false); err != nil {
		return nil, err
	}
	allowed := aggregateKeys
	if groupBy {
		allowed = groupByKeys
	}
	if err := checkKeys(query, allowed, ""); err != nil {
		return nil, err
	}
	req, err := parseAggregateRequest(model, query, "")
	if err != nil {
		return nil, err
	}
	b := newBuilder(graph, false)

	stages, err := b.filterStages(model, query["where"], "where", false)
	if err != nil {
		return nil, err
	}

	var by []*models.Field
	if groupBy {
		if by, err = parseBy(model, query["by"], "by"); err != nil {
			return nil, err
		}
	} else {
		window, err := b.recordWindow(model, query)
		if err != nil {
			return nil, err
		}
		stages = append(stages, window...)
	}

	// $group
	var id any
	if len(by) > 0 {
		keys := bson.D{}
		for _, f := range by {
			keys = append(keys, bson.E{Key: f.Name, Value: "$" + f.ColumnName})
		}
		id = keys
	}
	group := bson.D{{Key: "_id", Value: id}}
	grouped := map[string]struct{}{}
	addAccumulator := func(kind, column string) {
		key := accumulatorKey(kind, column)
		if _, ok := grouped[key]; ok {
			return
		}
		grouped[key] = struct{}{}
		group = append(group, bson.E{Key: key, Value: accumulator(kind, column)})
	}
	for _, kind := range aggregateKinds {
		for _, name := range req[kind] {
			addAccumulator(kind, columnFor(model, name))
		}
	}

	var having bson.D
	if groupBy {
		if having, err = b.havingMatch(model, by, query["having"], "having", addAccumulator); err != nil {
			return nil, err
		}
	}
	stages = append(stages, bson.D{{Key: "$group", Value: group}})
	if len(having) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: having}})
	}

	// $project into the result shape
	project := bson.D{{Key: "_id", Value: 0}}
	for _, f := range by {
		project = append(project, bson.E{Key: f.Name, Value: "$_id." + f.Name})
	}
	for _, kind := range aggregateKinds {
		names := req[kind]
		if len(names) == 0 {
			continue
		}
		inner := bson.D{}
		for _, name := range names {
			column := columnFor(model, name)
			inner = append(inner, bson.E{Key: column, Value: "$" + accumulatorKey(kind, column)})
		}
		project = append(project, bson.E{Key: kind, Value: inner})
	}
	stages = append(stages, bson.D{{Key: "$project", Value: project}})

	if groupBy {
		window, err := groupWindow(model, by, query)
		if err != nil {
			return nil, err
		}
		stages = append(stages, window...)
	}
	return mongo.Pipeline(stages), nil
}

// recordWindow restricts the records an aggregate runs over.
func (b *builder) recordWindow(model *models.Model, query map[string]any) ([]bson.D, error) {
	page, err := parsePaging(query, "")
	if err != nil {
		return nil, err
	}
	order, err := parseOrderBy(model, query["orderBy"], "orderBy")
	if err != nil {
		return nil, err
	}
	reverse := page.limit < 0
	var stages []bson.D
	if raw, ok := query["cursor"]; ok {
		cond, err := b.cursorCondition(model, raw, order, reverse, "cursor")
		if err != nil {
			return nil, err
		}
		stages = append(stages, bson.D{{Key: "$match", Value: cond}})
	}
	if page.skip == 0 && page.limit == 0 {
		// order only matters when the window is cut
		return stages, nil
	}
	if len(order) == 0 {
		order = defaultSort(model)
	}
	stages = append(stages, sortStage(order, reverse))
	if page.skip > 0 {
		stages = append(stages, bson.D{{Key: "$skip", Value: page.skip}})
	}
	if page.limit != 0 {
		limit := page.limit
		if limit < 0 {
			limit = -limit
		}
		stages = append(stages, bson.D{{Key: "$limit", Value: limit}})
	}
	return stages, nil
}

func parseBy(model *models.Model, raw any, path string) ([]*models.Field, error) {
	var names []any
	switch v := raw.(type) {
	case string:
		names = []any{v}
	case []any:
		names = v
	case nil:
		return nil, models.NewInvalidQueryInputError(path, "groupBy requires 'by'")
	default:
		return nil, models.NewInvalidQueryInputError(path, "by must be a field name or an array of field names")
	}
	if len(names) == 0 {
		return nil, models.NewInvalidQueryInputError(path, "by must not be empty")
	}
	out := make([]*models.Field, 0, len(names))
	for i, item := range names {
		itemPath := indexPath(path, i)
		name, err := asString(itemPath, item)
		if err != nil {
			return nil, err
		}
		field := model.Field(name)
		if field == nil {
			return nil, models.NewInvalidQueryInputError(itemPath, "'%s' is not a field of model '%s'", name, model.Name())
		}
		out = append(out, field)
	}
	return out, nil
}

// havingMatch compiles having against the $group output. Aggregates referenced only in
// having are added to the group through addAccumulator.
func (b *builder) havingMatch(model *models.Model, by []*models.Field, raw any, path string, addAccumulator func(kind, column string)) (bson.D, error) {
	if raw == nil {
		return nil, nil
	}
	having, err := asMap(path, raw)
	if err != nil {
		return nil, err
	}
	w := b.newWhereCompiler(model)
	out := bson.D{}
	for _, name := range sortedKeys(having) {
		keyPath := joinPath(path, name)
		field := model.Field(name)
		if field == nil {
			return nil, models.NewInvalidQueryInputError(keyPath, "'%s' is not a field of model '%s'", name, model.Name())
		}
		conds, err := asMap(keyPath, having[name])
		if err != nil {
			return nil, err
		}
		plain := map[string]any{}
		for _, key := range sortedKeys(conds) {
			if _, isAccumulator := accumulatorOps[key]; !isAccumulator && key != "_count" {
				plain[key] = conds[key]
				continue
			}
			opsPath := joinPath(keyPath, key)
			ops, err := asMap(opsPath, conds[key])
			if err != nil {
				return nil, err
			}
			t := field.Type
			switch key {
			case "_count":
				t = models.Scalar(models.TypeI64)
			case "_avg":
				t = models.Scalar(models.TypeF64)
			}
			if (key == "_sum" || key == "_avg") && !field.Type.IsNumeric() {
				return nil, models.NewInvalidQueryInputError(opsPath, "%s requires a numeric field, '%s' is %s", key, name, field.Type)
			}
			cond, err := w.operators(&models.Field{Name: name, ColumnName: field.ColumnName, Type: t}, ops, opsPath)
			if err != nil {
				return nil, err
			}
			addAccumulator(key, field.ColumnName)
			out = append(out, bson.E{Key: accumulatorKey(key, field.ColumnName), Value: cond})
		}
		if len(plain) > 0 {
			grouped := false
			for _, f := range by {
				grouped = grouped || f.Name == name
			}
			if !grouped {
				return nil, models.NewInvalidQueryInputError(keyPath, "'%s' must be in 'by' to be filtered directly", name)
			}
			cond, err := w.operators(field, plain, keyPath)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.E{Key: "_id." + name, Value: cond})
		}
	}
	return out, nil
}

// groupWindow orders and pages grouped rows. Rows sort by the group keys unless orderBy
// names group keys or aggregates, e.g. [{"_sum": {"amount": "desc"}}].
func groupWindow(model *models.Model, by []*models.Field, query map[string]any) ([]bson.D, error) {
	page, err := parsePaging(query, "")
	if err != nil {
		return nil, err
	}
	reverse := page.limit < 0

	var order []sortItem
	if raw, ok := query["orderBy"]; ok && raw != nil {
		var entries []any
		switch v := raw.(type) {
		case map[string]any:
			entries = []any{v}
		case []any:
			entries = v
		default:
			return nil, models.NewInvalidQueryInputError("orderBy", "orderBy must be an object or an array of objects")
		}
		for i, entry := range entries {
			entryPath := "orderBy"
			if _, isList := raw.([]any); isList {
				entryPath = indexPath("orderBy", i)
			}
			m, err := asMap(entryPath, entry)
			if err != nil {
				return nil, err
			}
			key, err := orderKey(entryPath, m)
			if err != nil {
				return nil, err
			}
			keyPath := joinPath(entryPath, key)
			if _, isAggregate := accumulatorOps[key]; isAggregate || key == "_count" {
				inner, err := asMap(keyPath, m[key])
				if err != nil {
					return nil, err
				}
				name, err := orderKey(keyPath, inner)
				if err != nil {
					return nil, err
				}
				namePath := joinPath(keyPath, name)
				if name != AllKey && model.Field(name) == nil {
					return nil, models.NewInvalidQueryInputError(namePath, "'%s' is not a field of model '%s'", name, model.Name())
				}
				dir, err := parseDirection(namePath, inner[name])
				if err != nil {
					return nil, err
				}
				order = append(order, sortItem{key: key + "." + columnFor(model, name), dir: dir})
				continue
			}
			grouped := false
			for _, f := range by {
				grouped = grouped || f.Name == key
			}
			if !grouped {
				return nil, models.NewInvalidQueryInputError(keyPath, "'%s' must be in 'by' to be ordered by", key)
			}
			dir, err := parseDirection(keyPath, m[key])
			if err != nil {
				return nil, err
			}
			order = append(order, sortItem{key: key, dir: dir})
		}
	}
	if len(order) == 0 {
		for _, f := range by {
			order = append(order, sortItem{key: f.Name, dir: models.Asc})
		}
	}

	stages := []bson.D{sortStage(order, reverse)}
	if page.skip > 0 {
		stages = append(stages, bson.D{{Key: "$skip", Value: page.skip}})
	}
	if page.limit != 0 {
		limit := page.limit
		if limit < 0 {
			limit = -limit
		}
		stages = append(stages, bson.D{{Key: "$limit", Value: limit}})
	}
	return stages, nil
}
