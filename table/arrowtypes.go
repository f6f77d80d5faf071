package table

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/BrobridgeOrg/go-delta/spec"
)

// timestampUTC is the arrow type of the Delta timestamp type.
var timestampUTC = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// specTypeToArrow converts a Delta logical type to the arrow type batches
// carry for it.
func specTypeToArrow(t spec.Type) (arrow.DataType, error) {
	switch v := t.(type) {
	case spec.PrimitiveType:
		switch v.TypeID() {
		case spec.TypeBoolean:
			return arrow.FixedWidthTypes.Boolean, nil
		case spec.TypeByte:
			return arrow.PrimitiveTypes.Int8, nil
		case spec.TypeShort:
			return arrow.PrimitiveTypes.Int16, nil
		case spec.TypeInteger:
			return arrow.PrimitiveTypes.Int32, nil
		case spec.TypeLong:
			return arrow.PrimitiveTypes.Int64, nil
		case spec.TypeFloat:
			return arrow.PrimitiveTypes.Float32, nil
		case spec.TypeDouble:
			return arrow.PrimitiveTypes.Float64, nil
		case spec.TypeString:
			return arrow.BinaryTypes.String, nil
		case spec.TypeBinary:
			return arrow.BinaryTypes.Binary, nil
		case spec.TypeDate:
			return arrow.FixedWidthTypes.Date32, nil
		case spec.TypeTimestamp:
			return timestampUTC, nil
		case spec.TypeTimestampNtz:
			return arrow.FixedWidthTypes.Timestamp_us, nil
		}
	case spec.DecimalType:
		return &arrow.Decimal128Type{Precision: int32(v.Precision), Scale: int32(v.Scale)}, nil
	case spec.ArrayType:
		elem, err := specTypeToArrow(v.ElementType)
		if err != nil {
			return nil, err
		}
		return arrow.ListOfField(arrow.Field{Name: "element", Type: elem, Nullable: v.ContainsNull}), nil
	case spec.MapType:
		key, err := specTypeToArrow(v.KeyType)
		if err != nil {
			return nil, err
		}
		value, err := specTypeToArrow(v.ValueType)
		if err != nil {
			return nil, err
		}
		return arrow.MapOf(key, value), nil
	case spec.StructType:
		fields, err := arrowFields(v.Fields)
		if err != nil {
			return nil, err
		}
		return arrow.StructOf(fields...), nil
	}
	return nil, fmt.Errorf("%w: no arrow type for %s", spec.ErrSchemaMismatch, t)
}

func arrowFields(fields []spec.StructField) ([]arrow.Field, error) {
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		dt, err := specTypeToArrow(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		out[i] = arrow.Field{Name: f.Name, Type: dt, Nullable: true}
	}
	return out, nil
}

// ArrowSchema returns the arrow schema for the named columns of a table
// schema, in the given order. Nil columns selects every column in table
// order. Columns are nullable because evolved columns read as null from
// older files.
func ArrowSchema(schema *spec.Schema, columns []string) (*arrow.Schema, error) {
	if columns == nil {
		columns = schema.Names()
	}
	fields := make([]spec.StructField, len(columns))
	for i, name := range columns {
		f := schema.FieldByName(name)
		if f == nil {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
		fields[i] = *f
	}
	out, err := arrowFields(fields)
	if err != nil {
		return nil, err
	}
	return arrow.NewSchema(out, nil), nil
}
