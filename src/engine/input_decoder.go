package engine

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docgraph/src/models"
)

var (
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// DecodeInput converts a JSON input value into a Value of the declared type.
// Unlike backend decoding, input is range checked: out of range numbers are rejected.
func DecodeInput(graph *models.Graph, path string, raw any, t models.FieldType) (models.Value, error) {
	if raw == nil {
		return models.Null{}, nil
	}
	if v, ok := raw.(models.Value); ok {
		return v, nil
	}

	switch t.Kind {
	case models.TypeBool:
		b, err := asBool(path, raw)
		if err != nil {
			return nil, err
		}
		return models.Bool(b), nil

	case models.TypeI8, models.TypeI16, models.TypeI32, models.TypeI64, models.TypeI128,
		models.TypeU8, models.TypeU16, models.TypeU32, models.TypeU64, models.TypeU128:
		n, err := inputBigInt(path, raw)
		if err != nil {
			return nil, err
		}
		return integerValue(path, n, t.Kind)

	case models.TypeF32, models.TypeF64:
		f, err := inputFloat(path, raw)
		if err != nil {
			return nil, err
		}
		if t.Kind == models.TypeF32 {
			return models.F32(f), nil
		}
		return models.F64(f), nil

	case models.TypeDecimal:
		var (
			d   decimal.Decimal
			err error
		)
		switch v := raw.(type) {
		case string:
			d, err = decimal.NewFromString(v)
		case json.Number:
			d, err = decimal.NewFromString(v.String())
		case float64:
			d = decimal.NewFromFloat(v)
		default:
			return nil, models.NewInvalidQueryInputError(path, "expected a decimal, got %s", describe(raw))
		}
		if err != nil {
			return nil, models.NewInvalidQueryInputError(path, "invalid decimal: %v", err)
		}
		return models.Decimal{Decimal: d}, nil

	case models.TypeString:
		s, err := asString(path, raw)
		if err != nil {
			return nil, err
		}
		return models.String(s), nil

	case models.TypeEnum:
		s, err := asString(path, raw)
		if err != nil {
			return nil, err
		}
		if graph != nil {
			if variants, ok := graph.Enum(t.Enum); ok && !containsString(variants, s) {
				return nil, models.NewInvalidQueryInputError(path, "'%s' is not a variant of enum %s", s, t.Enum)
			}
		}
		return models.String(s), nil

	case models.TypeObjectID:
		s, err := asString(path, raw)
		if err != nil {
			return nil, err
		}
		oid, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return nil, models.NewInvalidQueryInputError(path, "invalid object id '%s'", s)
		}
		return models.ObjectID(oid.Hex()), nil

	case models.TypeDate:
		switch v := raw.(type) {
		case time.Time:
			return models.NewDate(v), nil
		case string:
			if d, err := time.Parse("2006-01-02", v); err == nil {
				return models.NewDate(d), nil
			}
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, models.NewInvalidQueryInputError(path, "invalid date '%s'", v)
			}
			return models.NewDate(ts), nil
		}
		return nil, models.NewInvalidQueryInputError(path, "expected a date string, got %s", describe(raw))

	case models.TypeDateTime:
		switch v := raw.(type) {
		case time.Time:
			return models.DateTime{Time: v.UTC()}, nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, models.NewInvalidQueryInputError(path, "invalid datetime '%s'", v)
			}
			return models.DateTime{Time: ts.UTC()}, nil
		}
		return nil, models.NewInvalidQueryInputError(path, "expected a datetime string, got %s", describe(raw))

	case models.TypeVec:
		items, err := asSlice(path, raw)
		if err != nil {
			return nil, err
		}
		out := make(models.Vec, 0, len(items))
		for i, item := range items {
			v, err := DecodeInput(graph, indexPath(path, i), item, innerType(t))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case models.TypeMap:
		m, err := asMap(path, raw)
		if err != nil {
			return nil, err
		}
		out := make(models.Map, len(m))
		for _, k := range sortedKeys(m) {
			v, err := DecodeInput(graph, joinPath(path, k), m[k], innerType(t))
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}

	return nil, models.NewUnsupportedFieldTypeError(path, t)
}

func innerType(t models.FieldType) models.FieldType {
	if t.Inner == nil {
		return models.Scalar(models.TypeUndefined)
	}
	return *t.Inner
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func inputBigInt(path string, raw any) (*big.Int, error) {
	switch v := raw.(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(v.String(), 10)
		if !ok {
			return nil, models.NewInvalidQueryInputError(path, "expected an integer, got %s", v)
		}
		return n, nil
	case string:
		// wide integers may arrive quoted
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok {
			return nil, models.NewInvalidQueryInputError(path, "expected an integer, got '%s'", v)
		}
		return n, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, models.NewInvalidQueryInputError(path, "expected an integer, got %v", v)
		}
		n, _ := big.NewFloat(v).Int(nil)
		return n, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case int32:
		return big.NewInt(int64(v)), nil
	}
	return nil, models.NewInvalidQueryInputError(path, "expected an integer, got %s", describe(raw))
}

func inputFloat(path string, raw any) (float64, error) {
	switch v := raw.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, models.NewInvalidQueryInputError(path, "expected a number, got %s", v)
		}
		return f, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	}
	return 0, models.NewInvalidQueryInputError(path, "expected a number, got %s", describe(raw))
}

func integerValue(path string, n *big.Int, kind models.TypeKind) (models.Value, error) {
	inRange := func(lo, hi *big.Int) bool {
		return n.Cmp(lo) >= 0 && n.Cmp(hi) <= 0
	}
	signed := func(bits uint) bool {
		return n.IsInt64() && n.Int64() >= -(1<<(bits-1)) && n.Int64() <= (1<<(bits-1))-1
	}
	unsigned := func(bits uint) bool {
		return n.Sign() >= 0 && n.IsUint64() && (bits == 64 || n.Uint64() <= (1<<bits)-1)
	}
	ok := false
	var v models.Value
	switch kind {
	case models.TypeI8:
		ok, v = signed(8), models.I8(n.Int64())
	case models.TypeI16:
		ok, v = signed(16), models.I16(n.Int64())
	case models.TypeI32:
		ok, v = signed(32), models.I32(n.Int64())
	case models.TypeI64:
		ok, v = n.IsInt64(), models.I64(n.Int64())
	case models.TypeI128:
		ok, v = inRange(minI128, maxI128), models.I128{Int: n}
	case models.TypeU8:
		ok, v = unsigned(8), models.U8(n.Uint64())
	case models.TypeU16:
		ok, v = unsigned(16), models.U16(n.Uint64())
	case models.TypeU32:
		ok, v = unsigned(32), models.U32(n.Uint64())
	case models.TypeU64:
		ok, v = unsigned(64), models.U64(n.Uint64())
	case models.TypeU128:
		ok, v = inRange(new(big.Int), maxU128), models.U128{Int: n}
	}
	if !ok {
		return nil, models.NewInvalidQueryInputError(path, "%s is out of range for %s", n, kind)
	}
	return v, nil
}
