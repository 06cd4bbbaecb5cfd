package models

import (
	"fmt"
	"strings"
)

// TypeKind enumerates declared field types.
type TypeKind int

const (
	TypeUndefined TypeKind = iota
	TypeObjectID
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeI128
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU128
	TypeF32
	TypeF64
	TypeDecimal
	TypeString
	TypeDate
	TypeDateTime
	TypeEnum
	TypeVec
	TypeMap
	TypeObject
)

var typeKindNames = map[TypeKind]string{
	TypeUndefined: "Undefined",
	TypeObjectID:  "ObjectId",
	TypeBool:      "Bool",
	TypeI8:        "I8",
	TypeI16:       "I16",
	TypeI32:       "I32",
	TypeI64:       "I64",
	TypeI128:      "I128",
	TypeU8:        "U8",
	TypeU16:       "U16",
	TypeU32:       "U32",
	TypeU64:       "U64",
	TypeU128:      "U128",
	TypeF32:       "F32",
	TypeF64:       "F64",
	TypeDecimal:   "Decimal",
	TypeString:    "String",
	TypeDate:      "Date",
	TypeDateTime:  "DateTime",
	TypeEnum:      "Enum",
	TypeVec:       "Vec",
	TypeMap:       "Map",
	TypeObject:    "Object",
}

func (k TypeKind) String() string {
	if name, ok := typeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TypeKind(%d)", int(k))
}

// FieldType drives both decoding of backend values and encoding of outbound ones.
// Enum carries the enum name for TypeEnum and the object model name for TypeObject.
// Inner is set for TypeVec, TypeMap and TypeObject.
type FieldType struct {
	Kind  TypeKind
	Enum  string
	Inner *FieldType
}

func Scalar(kind TypeKind) FieldType { return FieldType{Kind: kind} }

func EnumOf(name string) FieldType { return FieldType{Kind: TypeEnum, Enum: name} }

func VecOf(inner FieldType) FieldType { return FieldType{Kind: TypeVec, Inner: &inner} }

func MapOf(inner FieldType) FieldType { return FieldType{Kind: TypeMap, Inner: &inner} }

func ObjectOf(name string) FieldType { return FieldType{Kind: TypeObject, Enum: name} }

func (t FieldType) IsInteger() bool {
	switch t.Kind {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeI128, TypeU8, TypeU16, TypeU32, TypeU64, TypeU128:
		return true
	}
	return false
}

func (t FieldType) IsNumeric() bool {
	return t.IsInteger() || t.Kind == TypeF32 || t.Kind == TypeF64 || t.Kind == TypeDecimal
}

func (t FieldType) String() string {
	switch t.Kind {
	case TypeEnum:
		return "Enum<" + t.Enum + ">"
	case TypeObject:
		return "Object<" + t.Enum + ">"
	case TypeVec, TypeMap:
		inner := "Undefined"
		if t.Inner != nil {
			inner = t.Inner.String()
		}
		return t.Kind.String() + "<" + inner + ">"
	}
	return t.Kind.String()
}

// ParseFieldType reads the textual form used in schema files, e.g. "I32",
// "Vec<String>", "Enum<Role>" or "Map<Vec<I64>>".
func ParseFieldType(s string) (FieldType, error) {
	s = strings.TrimSpace(s)
	if open := strings.IndexByte(s, '<'); open >= 0 {
		if !strings.HasSuffix(s, ">") {
			return FieldType{}, fmt.Errorf("unterminated type parameter in %q", s)
		}
		outer := strings.ToLower(strings.TrimSpace(s[:open]))
		arg := strings.TrimSpace(s[open+1 : len(s)-1])
		if arg == "" {
			return FieldType{}, fmt.Errorf("empty type parameter in %q", s)
		}
		switch outer {
		case "enum":
			return EnumOf(arg), nil
		case "object":
			return ObjectOf(arg), nil
		case "vec":
			inner, err := ParseFieldType(arg)
			if err != nil {
				return FieldType{}, err
			}
			return VecOf(inner), nil
		case "map":
			inner, err := ParseFieldType(arg)
			if err != nil {
				return FieldType{}, err
			}
			return MapOf(inner), nil
		}
		return FieldType{}, fmt.Errorf("unknown parameterised type %q", s)
	}
	for kind, name := range typeKindNames {
		if strings.EqualFold(name, s) {
			switch kind {
			case TypeEnum, TypeVec, TypeMap, TypeObject:
				return FieldType{}, fmt.Errorf("type %q requires a parameter", s)
			}
			return Scalar(kind), nil
		}
	}
	return FieldType{}, fmt.Errorf("unknown field type %q", s)
}
