package engine

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docgraph/src/models"
)

// DocumentToObject hydrates obj from one backend document. query is the query (or include
// entry) the document was fetched with: its select tree becomes the selection mask and its
// include tree drives how embedded relation arrays are read. Keys that are neither a column
// nor a relation are ignored, except _id on models without an _id column, which becomes
// the synthetic identifier.
func DocumentToObject(graph *models.Graph, doc bson.M, obj *models.Object, query map[string]any) error {
	model := obj.Model()
	for _, key := range sortedKeys(doc) {
		raw := doc[key]

		if field := model.FieldWithColumnName(key); field != nil {
			value, err := DecodeBSON(field.Name, raw, field.Type, field.Optional)
			if err != nil {
				return err
			}
			obj.LoadValue(field.Name, value)
			continue
		}

		if relation := model.Relation(key); relation != nil {
			items, ok := asArray(raw)
			if !ok {
				return models.NewUnmatchedDataTypeError(key)
			}
			sub := includeEntry(query, key)
			related := make([]*models.Object, 0, len(items))
			for _, item := range items {
				child, ok := asDocument(item)
				if !ok {
					return models.NewUnmatchedDataTypeError(key)
				}
				relatedObj, err := graph.NewObject(relation.Model)
				if err != nil {
					return err
				}
				if err := DocumentToObject(graph, child, relatedObj, sub); err != nil {
					return err
				}
				related = append(related, relatedObj)
			}
			if HasNegativeTake(sub) {
				reverseObjects(related)
			}
			obj.SetRelated(key, related)
			continue
		}

		if key == "_id" {
			obj.LoadValue(models.SyntheticIDKey, SyntheticID(raw))
		}
	}

	selection, err := selectedFields(model, query["select"], "select")
	if err != nil {
		return err
	}
	obj.MarkLoaded(selection)
	return nil
}

func includeEntry(query map[string]any, key string) map[string]any {
	include, ok := query["include"].(map[string]any)
	if !ok {
		return nil
	}
	sub, _ := include[key].(map[string]any)
	return sub
}

func reverseObjects(objs []*models.Object) {
	for i, j := 0, len(objs)-1; i < j; i, j = i+1, j-1 {
		objs[i], objs[j] = objs[j], objs[i]
	}
}

// SyntheticID converts a backend _id into the value stored under models.SyntheticIDKey.
func SyntheticID(raw any) models.Value {
	switch v := raw.(type) {
	case primitive.ObjectID:
		return models.ObjectID(v.Hex())
	case string:
		return models.String(v)
	case int32:
		return models.I64(v)
	case int64:
		return models.I64(v)
	case nil:
		return models.Null{}
	}
	return models.String(fmt.Sprint(raw))
}

func asDocument(raw any) (bson.M, bool) {
	switch v := raw.(type) {
	case bson.M:
		return v, true
	case map[string]any:
		return bson.M(v), true
	case bson.D:
		m := make(bson.M, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}
