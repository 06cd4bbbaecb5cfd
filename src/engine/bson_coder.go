package engine

import (
	"math/big"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"docgraph/src/models"
)

// DecodeBSON converts a raw backend value into a Value of the declared type.
//
// Integer widths up to 32 bits are stored as int32 and narrowed on read. 64 and 128 bit
// signed integers and every unsigned width are stored as int64 and reinterpreted without
// a range check, so unsigned values above math.MaxInt64 come back wrapped.
func DecodeBSON(field string, raw any, t models.FieldType, optional bool) (models.Value, error) {
	if raw == nil {
		if optional {
			return models.Null{}, nil
		}
		return nil, models.NewUnmatchedDataTypeError(field)
	}

	switch t.Kind {
	case models.TypeObjectID:
		if oid, ok := raw.(primitive.ObjectID); ok {
			return models.ObjectID(oid.Hex()), nil
		}
	case models.TypeBool:
		if b, ok := raw.(bool); ok {
			return models.Bool(b), nil
		}
	case models.TypeI8:
		if n, ok := raw.(int32); ok {
			return models.I8(n), nil
		}
	case models.TypeI16:
		if n, ok := raw.(int32); ok {
			return models.I16(n), nil
		}
	case models.TypeI32:
		if n, ok := raw.(int32); ok {
			return models.I32(n), nil
		}
	case models.TypeI64:
		if n, ok := raw.(int64); ok {
			return models.I64(n), nil
		}
	case models.TypeI128:
		if n, ok := raw.(int64); ok {
			return models.I128{Int: big.NewInt(n)}, nil
		}
	case models.TypeU8:
		if n, ok := raw.(int64); ok {
			return models.U8(n), nil
		}
	case models.TypeU16:
		if n, ok := raw.(int64); ok {
			return models.U16(n), nil
		}
	case models.TypeU32:
		if n, ok := raw.(int64); ok {
			return models.U32(n), nil
		}
	case models.TypeU64:
		if n, ok := raw.(int64); ok {
			return models.U64(n), nil
		}
	case models.TypeU128:
		if n, ok := raw.(int64); ok {
			return models.U128{Int: new(big.Int).SetUint64(uint64(n))}, nil
		}
	case models.TypeF32:
		if f, ok := raw.(float64); ok {
			return models.F32(f), nil
		}
	case models.TypeF64:
		if f, ok := raw.(float64); ok {
			return models.F64(f), nil
		}
	case models.TypeDecimal:
		if d, ok := raw.(primitive.Decimal128); ok {
			return decodeDecimal128(field, d)
		}
	case models.TypeString, models.TypeEnum:
		if s, ok := raw.(string); ok {
			return models.String(s), nil
		}
	case models.TypeDate:
		if dt, ok := raw.(primitive.DateTime); ok {
			return models.NewDate(dt.Time()), nil
		}
	case models.TypeDateTime:
		if dt, ok := raw.(primitive.DateTime); ok {
			return models.DateTime{Time: dt.Time().UTC()}, nil
		}
	case models.TypeVec:
		items, ok := asArray(raw)
		if !ok {
			break
		}
		out := make(models.Vec, 0, len(items))
		for _, item := range items {
			v, err := DecodeBSON("", item, innerType(t), false)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, models.NewUnsupportedFieldTypeError(field, t)
	}
	return nil, models.NewUnmatchedDataTypeError(field)
}

func decodeDecimal128(field string, d primitive.Decimal128) (models.Value, error) {
	parsed, err := decimal.NewFromString(d.String())
	if err != nil {
		return nil, models.NewUnmatchedDataTypeError(field)
	}
	return models.Decimal{Decimal: parsed}, nil
}

// EncodeBSON converts a Value into the wire form its declared type is stored as.
// Null always encodes to BSON null.
func EncodeBSON(field string, t models.FieldType, v models.Value) (any, error) {
	if models.IsNull(v) {
		return nil, nil
	}

	switch t.Kind {
	case models.TypeObjectID:
		if s, ok := v.(models.ObjectID); ok {
			oid, err := primitive.ObjectIDFromHex(string(s))
			if err != nil {
				return nil, models.NewInvalidQueryInputError(field, "invalid object id '%s'", s)
			}
			return oid, nil
		}
	case models.TypeBool:
		if b, ok := v.(models.Bool); ok {
			return bool(b), nil
		}
	case models.TypeI8, models.TypeI16, models.TypeI32:
		if err := fitsWire(field, v); err != nil {
			return nil, err
		}
		if n, ok := wireInt64(v); ok {
			return int32(n), nil
		}
	case models.TypeI64, models.TypeI128, models.TypeU8, models.TypeU16, models.TypeU32, models.TypeU64, models.TypeU128:
		if err := fitsWire(field, v); err != nil {
			return nil, err
		}
		if n, ok := wireInt64(v); ok {
			return n, nil
		}
	case models.TypeF32, models.TypeF64:
		if f, ok := models.ToFloat64(v); ok {
			return f, nil
		}
	case models.TypeDecimal:
		var d decimal.Decimal
		switch val := v.(type) {
		case models.Decimal:
			d = val.Decimal
		default:
			f, ok := models.ToFloat64(v)
			if !ok {
				return nil, mismatch(field, t, v)
			}
			d = decimal.NewFromFloat(f)
		}
		out, err := primitive.ParseDecimal128(d.String())
		if err != nil {
			return nil, models.NewInvalidQueryInputError(field, "decimal %s cannot be stored: %v", d, err)
		}
		return out, nil
	case models.TypeString, models.TypeEnum:
		if s, ok := v.(models.String); ok {
			return string(s), nil
		}
	case models.TypeDate:
		switch val := v.(type) {
		case models.Date:
			return primitive.NewDateTimeFromTime(models.NewDate(val.Time).Time), nil
		case models.DateTime:
			return primitive.NewDateTimeFromTime(models.NewDate(val.Time).Time), nil
		}
	case models.TypeDateTime:
		switch val := v.(type) {
		case models.DateTime:
			return primitive.NewDateTimeFromTime(val.Time), nil
		case models.Date:
			return primitive.NewDateTimeFromTime(val.Time), nil
		}
	case models.TypeVec:
		items, ok := v.(models.Vec)
		if !ok {
			break
		}
		out := make(bson.A, 0, len(items))
		for _, item := range items {
			encoded, err := EncodeBSON(field, innerType(t), item)
			if err != nil {
				return nil, err
			}
			out = append(out, encoded)
		}
		return out, nil
	default:
		return nil, models.NewUnsupportedFieldTypeError(field, t)
	}
	return nil, mismatch(field, t, v)
}

func mismatch(field string, t models.FieldType, v models.Value) error {
	return models.NewInvalidQueryInputError(field, "value of kind %s does not fit field type %s", v.Kind(), t)
}

// wireInt64 reinterprets any integer variant as the 64-bit form stored by the backend.
func wireInt64(v models.Value) (int64, bool) {
	switch n := v.(type) {
	case models.I8:
		return int64(n), true
	case models.I16:
		return int64(n), true
	case models.I32:
		return int64(n), true
	case models.I64:
		return int64(n), true
	case models.I128:
		if n.Int == nil {
			return 0, true
		}
		return n.Int.Int64(), true
	case models.U8:
		return int64(n), true
	case models.U16:
		return int64(n), true
	case models.U32:
		return int64(n), true
	case models.U64:
		return int64(n), true
	case models.U128:
		if n.Int == nil {
			return 0, true
		}
		return int64(n.Int.Uint64()), true
	}
	return 0, false
}

// fitsWire rejects 128-bit values the backend's 64-bit integers cannot hold. I128 keeps the
// int64 range; U128 keeps the uint64 range, stored reinterpreted as int64.
func fitsWire(field string, v models.Value) error {
	switch n := v.(type) {
	case models.I128:
		if n.Int != nil && !n.Int.IsInt64() {
			return models.NewInvalidQueryInputError(field, "%s does not fit the 64-bit integer it is stored as", n.Int)
		}
	case models.U128:
		if n.Int != nil && !n.Int.IsUint64() {
			return models.NewInvalidQueryInputError(field, "%s does not fit the 64-bit integer it is stored as", n.Int)
		}
	}
	return nil
}

func asArray(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case bson.A:
		return v, true
	case []any:
		return v, true
	}
	return nil, false
}
