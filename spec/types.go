// Package spec implements the Delta Lake protocol model: logical types, the
// schemaString JSON form, log actions, file statistics and partition values.
// This package follows the Delta protocol: https://github.com/delta-io/delta/blob/master/PROTOCOL.md
package spec

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeID represents the type identifier for Delta data types.
type TypeID int

const (
	TypeBoolean TypeID = iota
	TypeByte
	TypeShort
	TypeInteger
	TypeLong
	TypeFloat
	TypeDouble
	TypeDate
	TypeTimestamp
	TypeTimestampNtz
	TypeString
	TypeBinary
	TypeDecimal
	TypeStruct
	TypeArray
	TypeMap
)

// Type represents a Delta data type.
type Type interface {
	// TypeID returns the type identifier.
	TypeID() TypeID
	// String returns the name used for the type in schemaString.
	String() string
	// Equals checks if two types are equal.
	Equals(other Type) bool
}

// PrimitiveType represents a primitive Delta type.
type PrimitiveType struct {
	id TypeID
}

func (t PrimitiveType) TypeID() TypeID { return t.id }
func (t PrimitiveType) Equals(other Type) bool {
	if o, ok := other.(PrimitiveType); ok {
		return t.id == o.id
	}
	return false
}

func (t PrimitiveType) String() string {
	switch t.id {
	case TypeBoolean:
		return "boolean"
	case TypeByte:
		return "byte"
	case TypeShort:
		return "short"
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeDate:
		return "date"
	case TypeTimestamp:
		return "timestamp"
	case TypeTimestampNtz:
		return "timestamp_ntz"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Primitive type constants
var (
	BooleanType      = PrimitiveType{TypeBoolean}
	ByteType         = PrimitiveType{TypeByte}
	ShortType        = PrimitiveType{TypeShort}
	IntegerType      = PrimitiveType{TypeInteger}
	LongType         = PrimitiveType{TypeLong}
	FloatType        = PrimitiveType{TypeFloat}
	DoubleType       = PrimitiveType{TypeDouble}
	DateType         = PrimitiveType{TypeDate}
	TimestampType    = PrimitiveType{TypeTimestamp}
	TimestampNtzType = PrimitiveType{TypeTimestampNtz}
	StringType       = PrimitiveType{TypeString}
	BinaryType       = PrimitiveType{TypeBinary}
)

// DecimalType represents a decimal type with precision and scale.
type DecimalType struct {
	Precision int
	Scale     int
}

func (t DecimalType) TypeID() TypeID { return TypeDecimal }
func (t DecimalType) String() string { return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale) }
func (t DecimalType) Equals(other Type) bool {
	if o, ok := other.(DecimalType); ok {
		return t.Precision == o.Precision && t.Scale == o.Scale
	}
	return false
}

// StructField is a named field of a struct type or a table schema.
type StructField struct {
	Name     string
	Type     Type
	Nullable bool
	Metadata map[string]any
}

// StructType represents a struct type with named fields.
type StructType struct {
	Fields []StructField
}

func (t StructType) TypeID() TypeID { return TypeStruct }
func (t StructType) String() string {
	var fields []string
	for _, f := range t.Fields {
		fields = append(fields, fmt.Sprintf("%s: %s", f.Name, f.Type.String()))
	}
	return fmt.Sprintf("struct<%s>", strings.Join(fields, ", "))
}
func (t StructType) Equals(other Type) bool {
	o, ok := other.(StructType)
	if !ok || len(t.Fields) != len(o.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i].Name != o.Fields[i].Name ||
			t.Fields[i].Nullable != o.Fields[i].Nullable ||
			!t.Fields[i].Type.Equals(o.Fields[i].Type) {
			return false
		}
	}
	return true
}

// FieldByName returns the field with the given name, or nil if not found.
func (t StructType) FieldByName(name string) *StructField {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// ArrayType represents an array type.
type ArrayType struct {
	ElementType  Type
	ContainsNull bool
}

func (t ArrayType) TypeID() TypeID { return TypeArray }
func (t ArrayType) String() string {
	return fmt.Sprintf("array<%s>", t.ElementType.String())
}
func (t ArrayType) Equals(other Type) bool {
	if o, ok := other.(ArrayType); ok {
		return t.ContainsNull == o.ContainsNull && t.ElementType.Equals(o.ElementType)
	}
	return false
}

// MapType represents a map type.
type MapType struct {
	KeyType           Type
	ValueType         Type
	ValueContainsNull bool
}

func (t MapType) TypeID() TypeID { return TypeMap }
func (t MapType) String() string {
	return fmt.Sprintf("map<%s, %s>", t.KeyType.String(), t.ValueType.String())
}
func (t MapType) Equals(other Type) bool {
	if o, ok := other.(MapType); ok {
		return t.ValueContainsNull == o.ValueContainsNull &&
			t.KeyType.Equals(o.KeyType) &&
			t.ValueType.Equals(o.ValueType)
	}
	return false
}

// IsPrimitive reports whether t carries scalar values that can be compared,
// used as partition values, or summarized by min/max statistics.
func IsPrimitive(t Type) bool {
	switch t.(type) {
	case PrimitiveType, DecimalType:
		return true
	}
	return false
}

// IsIntegral reports whether t is stored as an int64 canonical value.
func IsIntegral(t Type) bool {
	switch t.TypeID() {
	case TypeByte, TypeShort, TypeInteger, TypeLong, TypeDate, TypeTimestamp, TypeTimestampNtz:
		return true
	}
	return false
}

// IsFloating reports whether t is a float or double type.
func IsFloating(t Type) bool {
	id := t.TypeID()
	return id == TypeFloat || id == TypeDouble
}

// ParseType parses a primitive type name as written in schemaString.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)

	switch s {
	case "boolean":
		return BooleanType, nil
	case "byte":
		return ByteType, nil
	case "short":
		return ShortType, nil
	case "integer":
		return IntegerType, nil
	case "long":
		return LongType, nil
	case "float":
		return FloatType, nil
	case "double":
		return DoubleType, nil
	case "date":
		return DateType, nil
	case "timestamp":
		return TimestampType, nil
	case "timestamp_ntz":
		return TimestampNtzType, nil
	case "string":
		return StringType, nil
	case "binary":
		return BinaryType, nil
	case "decimal":
		// Spark's bare decimal
		return DecimalType{Precision: 10, Scale: 0}, nil
	}

	if strings.HasPrefix(s, "decimal(") && strings.HasSuffix(s, ")") {
		parts := strings.Split(s[8:len(s)-1], ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid decimal type: %s", s)
		}
		precision, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal precision: %s", s)
		}
		scale, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal scale: %s", s)
		}
		if precision < 1 || precision > 38 || scale < 0 || scale > precision {
			return nil, fmt.Errorf("invalid decimal precision/scale: %s", s)
		}
		return DecimalType{Precision: precision, Scale: scale}, nil
	}

	return nil, fmt.Errorf("unknown type: %s", s)
}
