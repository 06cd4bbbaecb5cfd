package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"docgraph/src/models"
)

// QueryKind selects how a find pipeline is limited.
type QueryKind int

const (
	QueryUnique QueryKind = iota
	QueryFirst
	QueryMany
)

func (k QueryKind) String() string {
	switch k {
	case QueryUnique:
		return "unique"
	case QueryFirst:
		return "first"
	}
	return "many"
}

var findKeys = keySet("where", "orderBy", "skip", "take", "pageSize", "pageNumber", "select", "include", "cursor", "distinct")

var aggregateKeys = keySet("where", "orderBy", "skip", "take", "pageSize", "pageNumber", "cursor",
	"_count", "_sum", "_avg", "_min", "_max")

var groupByKeys = keySet("where", "orderBy", "skip", "take", "pageSize", "pageNumber", "by", "having",
	"_count", "_sum", "_avg", "_min", "_max")

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// ParseQuery decodes a JSON query description. Numbers are kept as json.Number so
// wide integers survive until they are decoded against a field type.
func ParseQuery(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, models.NewInvalidQueryInputError("", "query is not valid JSON: %v", err)
	}
	query, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewInvalidQueryInputError("", "query must be an object")
	}
	return query, nil
}

// HasNegativeTake reports whether the query asks for the last N records, resolved the
// same way the pipeline builder inverts its sort. Callers reverse the returned records
// exactly when it is true.
func HasNegativeTake(query map[string]any) bool {
	page, err := parsePaging(query, "")
	return err == nil && page.limit < 0
}

func checkKeys(query map[string]any, allowed map[string]struct{}, path string) error {
	for _, key := range sortedKeys(query) {
		if _, ok := allowed[key]; !ok {
			return models.NewInvalidQueryInputError(joinPath(path, key), "unknown query key '%s'", key)
		}
	}
	return nil
}

func asMap(path string, raw any) (map[string]any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewInvalidQueryInputError(path, "expected an object, got %s", describe(raw))
	}
	return m, nil
}

func asSlice(path string, raw any) ([]any, error) {
	s, ok := raw.([]any)
	if !ok {
		return nil, models.NewInvalidQueryInputError(path, "expected an array, got %s", describe(raw))
	}
	return s, nil
}

func asString(path string, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", models.NewInvalidQueryInputError(path, "expected a string, got %s", describe(raw))
	}
	return s, nil
}

func asBool(path string, raw any) (bool, error) {
	b, ok := raw.(bool)
	if !ok {
		return false, models.NewInvalidQueryInputError(path, "expected a boolean, got %s", describe(raw))
	}
	return b, nil
}

func toInt64(path string, raw any) (int64, error) {
	switch n := raw.(type) {
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, models.NewInvalidQueryInputError(path, "expected an integer, got %s", n)
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > math.MaxInt64 {
			return 0, models.NewInvalidQueryInputError(path, "expected an integer, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, models.NewInvalidQueryInputError(path, "expected an integer, got %s", describe(raw))
}

func describe(raw any) string {
	switch raw.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int32, int64:
		return "number"
	}
	return fmt.Sprintf("%T", raw)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return joinPath(path, strconv.Itoa(i))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
