package engine

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"docgraph/src/models"
)

// builder carries the state shared by every level of one compiled pipeline.
type builder struct {
	graph        *models.Graph
	mutationMode bool
	tempSeq      int
}

func newBuilder(graph *models.Graph, mutationMode bool) *builder {
	return &builder{graph: graph, mutationMode: mutationMode}
}

func (b *builder) nextTempKey() string {
	key := fmt.Sprintf("%s%d", tempKeyPrefix, b.tempSeq)
	b.tempSeq++
	return key
}

// BuildPipeline compiles a find query into an aggregation pipeline.
//
// A negative take reverses every sort direction and limits to |take|; the caller must
// reverse the returned records to get them back in the requested order.
func BuildPipeline(graph *models.Graph, model *models.Model, kind QueryKind, mutationMode bool, query map[string]any) (mongo.Pipeline, error) {
	b := newBuilder(graph, mutationMode)
	stages, err := b.findStages(model, kind, query, "")
	if err != nil {
		return nil, err
	}
	return mongo.Pipeline(stages), nil
}

// BuildCountPipeline compiles only the where clause of query and counts the matches.
func BuildCountPipeline(graph *models.Graph, model *models.Model, query map[string]any) (mongo.Pipeline, error) {
	if err := graph.CheckRead(model, false); err != nil {
		return nil, err
	}
	if err := checkKeys(query, findKeys, ""); err != nil {
		return nil, err
	}
	b := newBuilder(graph, false)
	stages, err := b.filterStages(model, query["where"], "where", false)
	if err != nil {
		return nil, err
	}
	stages = append(stages, bson.D{{Key: "$count", Value: "count"}})
	return mongo.Pipeline(stages), nil
}

// paging is the resolved skip and limit of a query. A negative limit asks for the
// last records in sort order.
type paging struct {
	skip  int64
	limit int64
}

func parsePaging(query map[string]any, path string) (paging, error) {
	var p paging
	if raw, ok := query["pageSize"]; ok {
		for _, key := range []string{"skip", "take"} {
			if _, ok := query[key]; ok {
				return p, models.NewInvalidQueryInputError(joinPath(path, key), "%s cannot be combined with pageSize", key)
			}
		}
		size, err := toInt64(joinPath(path, "pageSize"), raw)
		if err != nil {
			return p, err
		}
		if size <= 0 {
			return p, models.NewInvalidQueryInputError(joinPath(path, "pageSize"), "pageSize must be positive")
		}
		number := int64(1)
		if raw, ok := query["pageNumber"]; ok {
			number, err = toInt64(joinPath(path, "pageNumber"), raw)
			if err != nil {
				return p, err
			}
			if number < 1 {
				return p, models.NewInvalidQueryInputError(joinPath(path, "pageNumber"), "pageNumber starts at 1")
			}
		}
		p.skip = (number - 1) * size
		p.limit = size
		return p, nil
	}
	if _, ok := query["pageNumber"]; ok {
		return p, models.NewInvalidQueryInputError(joinPath(path, "pageNumber"), "pageNumber requires pageSize")
	}
	if raw, ok := query["skip"]; ok {
		skip, err := toInt64(joinPath(path, "skip"), raw)
		if err != nil {
			return p, err
		}
		if skip < 0 {
			return p, models.NewInvalidQueryInputError(joinPath(path, "skip"), "skip must not be negative")
		}
		p.skip = skip
	}
	if raw, ok := query["take"]; ok {
		take, err := toInt64(joinPath(path, "take"), raw)
		if err != nil {
			return p, err
		}
		if take == 0 {
			return p, models.NewInvalidQueryInputError(joinPath(path, "take"), "take must not be zero")
		}
		p.limit = take
	}
	return p, nil
}

type sortItem struct {
	key string
	dir models.Sort
}

func parseOrderBy(model *models.Model, raw any, path string) ([]sortItem, error) {
	if raw == nil {
		return nil, nil
	}
	var entries []map[string]any
	var paths []string
	switch v := raw.(type) {
	case map[string]any:
		entries, paths = []map[string]any{v}, []string{path}
	case []any:
		for i, item := range v {
			itemPath := indexPath(path, i)
			m, err := asMap(itemPath, item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, m)
			paths = append(paths, itemPath)
		}
	default:
		return nil, models.NewInvalidQueryInputError(path, "orderBy must be an object or an array of objects")
	}

	var items []sortItem
	for i, entry := range entries {
		name, err := orderKey(paths[i], entry)
		if err != nil {
			return nil, err
		}
		keyPath := joinPath(paths[i], name)
		field := model.Field(name)
		if field == nil {
			return nil, models.NewInvalidQueryInputError(keyPath, "'%s' is not a field of model '%s'", name, model.Name())
		}
		dir, err := parseDirection(keyPath, entry[name])
		if err != nil {
			return nil, err
		}
		items = append(items, sortItem{key: field.ColumnName, dir: dir})
	}
	return items, nil
}

// orderKey returns the single key of an orderBy object. JSON objects carry no key order,
// so sorting on several fields takes an array of one-key objects.
func orderKey(path string, entry map[string]any) (string, error) {
	if len(entry) != 1 {
		return "", models.NewInvalidQueryInputError(path, "orderBy objects name exactly one field, use an array to sort on several")
	}
	for key := range entry {
		return key, nil
	}
	return "", nil
}

func parseDirection(path string, raw any) (models.Sort, error) {
	s, err := asString(path, raw)
	if err != nil {
		return models.Asc, err
	}
	switch s {
	case "asc":
		return models.Asc, nil
	case "desc":
		return models.Desc, nil
	}
	return models.Asc, models.NewInvalidQueryInputError(path, "sort direction must be 'asc' or 'desc'")
}

// defaultSort orders by the record identity.
func defaultSort(model *models.Model) []sortItem {
	var items []sortItem
	for _, f := range model.PrimaryKeyFields() {
		items = append(items, sortItem{key: f.ColumnName, dir: models.Asc})
	}
	if len(items) == 0 {
		items = append(items, sortItem{key: "_id", dir: models.Asc})
	}
	return items
}

func sortStage(items []sortItem, reverse bool) bson.D {
	doc := bson.D{}
	for _, item := range items {
		dir := item.dir.Direction()
		if reverse {
			dir = -dir
		}
		doc = append(doc, bson.E{Key: item.key, Value: dir})
	}
	return bson.D{{Key: "$sort", Value: doc}}
}

func (b *builder) findStages(model *models.Model, kind QueryKind, query map[string]any, path string) ([]bson.D, error) {
	if err := b.graph.CheckRead(model, b.mutationMode); err != nil {
		return nil, err
	}
	if err := checkKeys(query, findKeys, path); err != nil {
		return nil, err
	}
	page, err := parsePaging(query, path)
	if err != nil {
		return nil, err
	}
	reverse := page.limit < 0
	order, err := parseOrderBy(model, query["orderBy"], joinPath(path, "orderBy"))
	if err != nil {
		return nil, err
	}

	// filter
	w := b.newWhereCompiler(model)
	var match bson.D
	if raw, ok := query["where"]; ok && raw != nil {
		where, err := asMap(joinPath(path, "where"), raw)
		if err != nil {
			return nil, err
		}
		if match, err = w.build(where, joinPath(path, "where")); err != nil {
			return nil, err
		}
	}
	if raw, ok := query["cursor"]; ok {
		cond, err := b.cursorCondition(model, raw, order, reverse, joinPath(path, "cursor"))
		if err != nil {
			return nil, err
		}
		if len(match) == 0 {
			match = cond
		} else {
			match = bson.D{{Key: "$and", Value: bson.A{match, cond}}}
		}
	}
	stages := w.stages(match)

	// relations
	includeKeys, err := b.includeStages(model, query["include"], joinPath(path, "include"), &stages)
	if err != nil {
		return nil, err
	}

	// order
	_, hasCursor := query["cursor"]
	distinct, err := distinctColumns(model, query["distinct"], joinPath(path, "distinct"))
	if err != nil {
		return nil, err
	}
	if len(order) == 0 && (reverse || hasCursor) {
		order = defaultSort(model)
	}
	if len(order) > 0 {
		stages = append(stages, sortStage(order, reverse))
	}
	if len(distinct) > 0 {
		stages = append(stages, distinctStages(distinct)...)
		if len(order) > 0 {
			stages = append(stages, sortStage(order, reverse))
		}
	}

	// window
	if page.skip > 0 {
		stages = append(stages, bson.D{{Key: "$skip", Value: page.skip}})
	}
	limit := page.limit
	if limit < 0 {
		limit = -limit
	}
	if limit == 0 && kind != QueryMany {
		limit = 1
	}
	if limit > 0 {
		stages = append(stages, bson.D{{Key: "$limit", Value: limit}})
	}

	// projection
	if raw, ok := query["select"]; ok {
		projection, err := projectionFor(model, raw, includeKeys, joinPath(path, "select"))
		if err != nil {
			return nil, err
		}
		if len(projection) > 0 {
			stages = append(stages, bson.D{{Key: "$project", Value: projection}})
		}
	}
	return stages, nil
}

// cursorCondition starts the result at the cursor record: records at or after it in the
// effective sort direction of the cursor field.
func (b *builder) cursorCondition(model *models.Model, raw any, order []sortItem, reverse bool, path string) (bson.D, error) {
	cursor, err := asMap(path, raw)
	if err != nil {
		return nil, err
	}
	if len(cursor) != 1 {
		return nil, models.NewInvalidQueryInputError(path, "cursor must name exactly one field")
	}
	name := sortedKeys(cursor)[0]
	field := model.Field(name)
	if field == nil {
		return nil, models.NewInvalidQueryInputError(joinPath(path, name), "'%s' is not a field of model '%s'", name, model.Name())
	}
	value, err := b.encodeInput(joinPath(path, name), cursor[name], field.Type)
	if err != nil {
		return nil, err
	}
	dir := models.Asc
	matched := false
	for _, item := range order {
		if item.key == field.ColumnName {
			dir, matched = item.dir, true
			break
		}
	}
	if !matched && len(order) > 0 {
		dir = order[0].dir
	}
	ascending := dir == models.Asc
	if reverse {
		ascending = !ascending
	}
	op := "$lte"
	if ascending {
		op = "$gte"
	}
	return bson.D{{Key: field.ColumnName, Value: bson.D{{Key: op, Value: value}}}}, nil
}

// includeStages appends one $lookup per included relation and returns the relation keys.
func (b *builder) includeStages(model *models.Model, raw any, path string, stages *[]bson.D) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	include, err := asMap(path, raw)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, name := range sortedKeys(include) {
		keyPath := joinPath(path, name)
		relation := model.Relation(name)
		if relation == nil {
			return nil, models.NewInvalidQueryInputError(keyPath, "'%s' is not a relation of model '%s'", name, model.Name())
		}
		target, err := b.graph.Model(relation.Model)
		if err != nil {
			return nil, err
		}
		var inner []bson.D
		switch v := include[name].(type) {
		case bool:
			if !v {
				continue
			}
			if err := b.graph.CheckRead(target, b.mutationMode); err != nil {
				return nil, err
			}
		case map[string]any:
			if inner, err = b.findStages(target, QueryMany, v, keyPath); err != nil {
				return nil, err
			}
		default:
			return nil, models.NewInvalidQueryInputError(keyPath, "include entries must be true or an object")
		}
		lookup, err := b.lookupStage(model, relation, relation.Name, inner)
		if err != nil {
			return nil, err
		}
		*stages = append(*stages, lookup)
		keys = append(keys, relation.Name)
	}
	return keys, nil
}

func distinctColumns(model *models.Model, raw any, path string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var names []any
	switch v := raw.(type) {
	case string:
		names = []any{v}
	case []any:
		names = v
	default:
		return nil, models.NewInvalidQueryInputError(path, "distinct must be a field name or an array of field names")
	}
	columns := make([]string, 0, len(names))
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
		columns = append(columns, field.ColumnName)
	}
	return columns, nil
}

// distinctStages keeps the first record, in current sort order, of every distinct
// combination of columns.
func distinctStages(columns []string) []bson.D {
	id := bson.D{}
	for _, col := range columns {
		id = append(id, bson.E{Key: col, Value: "$" + col})
	}
	return []bson.D{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: id},
			{Key: "doc", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}},
	}
}

// projectionFor builds the $project document for a select tree. Primary key columns and
// included relations are always kept so the records stay identifiable and joined.
func projectionFor(model *models.Model, raw any, includeKeys []string, path string) (bson.D, error) {
	selection, err := selectedFields(model, raw, path)
	if err != nil {
		return nil, err
	}
	if selection == nil {
		return nil, nil
	}
	keep := make(map[string]struct{})
	projection := bson.D{}
	add := func(col string) {
		if _, ok := keep[col]; ok {
			return
		}
		keep[col] = struct{}{}
		projection = append(projection, bson.E{Key: col, Value: 1})
	}
	for _, f := range model.Fields() {
		if containsString(selection, f.Name) {
			add(f.ColumnName)
		}
	}
	for _, f := range model.PrimaryKeyFields() {
		add(f.ColumnName)
	}
	for _, key := range includeKeys {
		add(key)
	}
	return projection, nil
}

// selectedFields resolves a select tree into the selected field names in declaration
// order. A nil result means every field.
func selectedFields(model *models.Model, raw any, path string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	sel, err := asMap(path, raw)
	if err != nil {
		return nil, err
	}
	anyTrue := false
	for _, name := range sortedKeys(sel) {
		keyPath := joinPath(path, name)
		if model.Field(name) == nil {
			return nil, models.NewInvalidQueryInputError(keyPath, "'%s' is not a field of model '%s'", name, model.Name())
		}
		on, err := asBool(keyPath, sel[name])
		if err != nil {
			return nil, err
		}
		anyTrue = anyTrue || on
	}
	selection := []string{}
	for _, f := range model.Fields() {
		raw, listed := sel[f.Name]
		if anyTrue {
			if on, _ := raw.(bool); on {
				selection = append(selection, f.Name)
			}
		} else if !listed {
			selection = append(selection, f.Name)
		}
	}
	return selection, nil
}
