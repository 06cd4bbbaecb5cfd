package models

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// ValueKind identifies the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindF32
	KindF64
	KindDecimal
	KindString
	KindObjectID
	KindDate
	KindDateTime
	KindVec
	KindMap
	KindModelObject
)

var valueKindNames = [...]string{
	"Null", "Bool", "I8", "I16", "I32", "I64", "I128", "U8", "U16", "U32", "U64", "U128",
	"F32", "F64", "Decimal", "String", "ObjectId", "Date", "DateTime", "Vec", "Map", "ModelObject",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", int(k))
}

// Value is the runtime representation of every field value the engine handles.
// The set of implementations is closed: only types in this package satisfy it.
type Value interface {
	Kind() ValueKind
	sealed()
}

type (
	Null     struct{}
	Bool     bool
	I8       int8
	I16      int16
	I32      int32
	I64      int64
	U8       uint8
	U16      uint16
	U32      uint32
	U64      uint64
	F32      float32
	F64      float64
	String   string
	ObjectID string // 24 char hex form
	Vec      []Value
	Map      map[string]Value
)

// I128 and U128 can hold values wider than int64 in memory. The backend stores them as
// 64-bit integers, so writing a value outside int64 (I128) or uint64 (U128) is rejected.
type I128 struct{ Int *big.Int }
type U128 struct{ Int *big.Int }

// Decimal is an arbitrary precision decimal.
type Decimal struct{ decimal.Decimal }

// Date is a calendar date, always normalised to midnight UTC.
type Date struct{ time.Time }

// DateTime is an instant in time.
type DateTime struct{ time.Time }

// ModelObject embeds a hydrated object inside a value tree.
type ModelObject struct{ Object *Object }

func (Null) Kind() ValueKind { return KindNull }
func (Bool) Kind() ValueKind { return KindBool }
func (I8) Kind() ValueKind { return KindI8 }
func (I16) Kind() ValueKind { return KindI16 }
func (I32) Kind() ValueKind { return KindI32 }
func (I64) Kind() ValueKind { return KindI64 }
func (I128) Kind() ValueKind { return KindI128 }
func (U8) Kind() ValueKind { return KindU8 }
func (U16) Kind() ValueKind { return KindU16 }
func (U32) Kind() ValueKind { return KindU32 }
func (U64) Kind() ValueKind { return KindU64 }
func (U128) Kind() ValueKind { return KindU128 }
func (F32) Kind() ValueKind { return KindF32 }
func (F64) Kind() ValueKind { return KindF64 }
func (Decimal) Kind() ValueKind { return KindDecimal }
func (String) Kind() ValueKind { return KindString }
func (ObjectID) Kind() ValueKind { return KindObjectID }
func (Date) Kind() ValueKind { return KindDate }
func (DateTime) Kind() ValueKind { return KindDateTime }
func (Vec) Kind() ValueKind { return KindVec }
func (Map) Kind() ValueKind { return KindMap }
func (ModelObject) Kind() ValueKind { return KindModelObject }

func (Null) sealed() {}
func (Bool) sealed() {}
func (I8) sealed() {}
func (I16) sealed() {}
func (I32) sealed() {}
func (I64) sealed() {}
func (I128) sealed() {}
func (U8) sealed() {}
func (U16) sealed() {}
func (U32) sealed() {}
func (U64) sealed() {}
func (U128) sealed() {}
func (F32) sealed() {}
func (F64) sealed() {}
func (Decimal) sealed() {}
func (String) sealed() {}
func (ObjectID) sealed() {}
func (Date) sealed() {}
func (DateTime) sealed() {}
func (Vec) sealed() {}
func (Map) sealed() {}
func (ModelObject) sealed() {}

// NewDate truncates t to its calendar date in UTC.
func NewDate(t time.Time) Date {
	t = t.UTC()
	return Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func NewI128(v int64) I128 { return I128{big.NewInt(v)} }

func NewU128(v uint64) U128 { return U128{new(big.Int).SetUint64(v)} }

// IsNull reports whether v is absent or the Null variant.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// ToInterface converts a value into plain Go data suitable for encoding/json.
func ToInterface(v Value) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case Null:
		return nil
	case Bool:
		return bool(val)
	case I8:
		return int64(val)
	case I16:
		return int64(val)
	case I32:
		return int64(val)
	case I64:
		return int64(val)
	case I128:
		return json.Number(bigString(val.Int))
	case U8:
		return uint64(val)
	case U16:
		return uint64(val)
	case U32:
		return uint64(val)
	case U64:
		return uint64(val)
	case U128:
		return json.Number(bigString(val.Int))
	case F32:
		return float64(val)
	case F64:
		return float64(val)
	case Decimal:
		return val.String()
	case String:
		return string(val)
	case ObjectID:
		return string(val)
	case Date:
		return val.Format("2006-01-02")
	case DateTime:
		return val.UTC().Format(time.RFC3339Nano)
	case Vec:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ToInterface(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ToInterface(item)
		}
		return out
	case ModelObject:
		if val.Object == nil {
			return nil
		}
		return val.Object.ToMap()
	default:
		panic(fmt.Sprintf("models: unhandled value variant %T", v))
	}
}

// Negate returns -v for numeric values.
func Negate(v Value) (Value, error) {
	switch val := v.(type) {
	case I8:
		return -val, nil
	case I16:
		return -val, nil
	case I32:
		return -val, nil
	case I64:
		return -val, nil
	case I128:
		return I128{new(big.Int).Neg(bigOrZero(val.Int))}, nil
	case U8:
		return I64(-int64(val)), nil
	case U16:
		return I64(-int64(val)), nil
	case U32:
		return I64(-int64(val)), nil
	case U64:
		return I64(-int64(val)), nil
	case U128:
		return I128{new(big.Int).Neg(bigOrZero(val.Int))}, nil
	case F32:
		return -val, nil
	case F64:
		return -val, nil
	case Decimal:
		return Decimal{val.Neg()}, nil
	default:
		return nil, fmt.Errorf("cannot negate %s value", kindOf(v))
	}
}

// Reciprocal returns 1/v as a 64-bit float.
func Reciprocal(v Value) (Value, error) {
	f, ok := ToFloat64(v)
	if !ok {
		return nil, fmt.Errorf("cannot invert %s value", kindOf(v))
	}
	if f == 0 {
		return nil, fmt.Errorf("cannot divide by zero")
	}
	return F64(1 / f), nil
}

// ToFloat64 widens any numeric value to float64.
func ToFloat64(v Value) (float64, bool) {
	switch val := v.(type) {
	case I8:
		return float64(val), true
	case I16:
		return float64(val), true
	case I32:
		return float64(val), true
	case I64:
		return float64(val), true
	case I128:
		f, _ := new(big.Float).SetInt(bigOrZero(val.Int)).Float64()
		return f, true
	case U8:
		return float64(val), true
	case U16:
		return float64(val), true
	case U32:
		return float64(val), true
	case U64:
		return float64(val), true
	case U128:
		f, _ := new(big.Float).SetInt(bigOrZero(val.Int)).Float64()
		return f, true
	case F32:
		return float64(val), true
	case F64:
		return float64(val), true
	case Decimal:
		f, _ := val.Float64()
		return f, true
	default:
		return 0, false
	}
}

// IsNumeric reports whether v is one of the integer, float or decimal variants.
func IsNumeric(v Value) bool {
	_, ok := ToFloat64(v)
	return ok
}

// IsInteger reports whether v is one of the signed or unsigned integer variants.
func IsInteger(v Value) bool {
	switch v.(type) {
	case I8, I16, I32, I64, I128, U8, U16, U32, U64, U128:
		return true
	}
	return false
}

func kindOf(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.Kind().String()
}

func bigOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

func bigString(b *big.Int) string {
	return bigOrZero(b).String()
}
