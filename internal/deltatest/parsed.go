package deltatest

import (
	"math/big"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/spec"
)

// parsedType is the arrow type Spark uses for a primitive column inside
// stats_parsed and partitionValues_parsed.
func parsedType(t spec.Type) (arrow.DataType, bool) {
	if d, ok := t.(spec.DecimalType); ok {
		return &arrow.Decimal128Type{Precision: int32(d.Precision), Scale: int32(d.Scale)}, true
	}
	switch t.TypeID() {
	case spec.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, true
	case spec.TypeByte:
		return arrow.PrimitiveTypes.Int8, true
	case spec.TypeShort:
		return arrow.PrimitiveTypes.Int16, true
	case spec.TypeInteger:
		return arrow.PrimitiveTypes.Int32, true
	case spec.TypeLong:
		return arrow.PrimitiveTypes.Int64, true
	case spec.TypeFloat:
		return arrow.PrimitiveTypes.Float32, true
	case spec.TypeDouble:
		return arrow.PrimitiveTypes.Float64, true
	case spec.TypeString:
		return arrow.BinaryTypes.String, true
	case spec.TypeDate:
		return arrow.FixedWidthTypes.Date32, true
	case spec.TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, true
	case spec.TypeTimestampNtz:
		return arrow.FixedWidthTypes.Timestamp_us, true
	}
	return nil, false
}

func (tb *Table) parsedFields(partition bool) []arrow.Field {
	var fields []arrow.Field
	for _, f := range tb.metadata.Schema.Fields {
		if tb.isPartitionColumn(f.Name) != partition {
			continue
		}
		if dt, ok := parsedType(f.Type); ok {
			fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: true})
		}
	}
	return fields
}

func (tb *Table) isPartitionColumn(name string) bool {
	for _, c := range tb.metadata.PartitionColumns {
		if c == name {
			return true
		}
	}
	return false
}

// partitionStruct returns nil for unpartitioned tables.
func (tb *Table) partitionStruct() *arrow.StructType {
	fields := tb.parsedFields(true)
	if len(fields) == 0 {
		return nil
	}
	return arrow.StructOf(fields...)
}

func (tb *Table) statsStruct() *arrow.StructType {
	fields := []arrow.Field{{Name: "numRecords", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}
	values := tb.parsedFields(false)
	if len(values) > 0 {
		counts := make([]arrow.Field, len(values))
		for i, f := range values {
			counts[i] = arrow.Field{Name: f.Name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
		}
		fields = append(fields,
			arrow.Field{Name: "minValues", Type: arrow.StructOf(values...), Nullable: true},
			arrow.Field{Name: "maxValues", Type: arrow.StructOf(values...), Nullable: true},
			arrow.Field{Name: "nullCount", Type: arrow.StructOf(counts...), Nullable: true},
		)
	}
	return arrow.StructOf(fields...)
}

func (tb *Table) appendParsedPartition(sb *array.StructBuilder, add *spec.AddFile) {
	sb.Append(true)
	st := sb.Type().(*arrow.StructType)
	for i, f := range st.Fields() {
		v, err := spec.ParsePartitionValue(tb.metadata.Schema.FieldByName(f.Name).Type, add.PartitionValues[f.Name])
		require.NoError(tb.t, err)
		tb.appendValue(sb.FieldBuilder(i), v)
	}
}

func (tb *Table) appendParsedStats(sb *array.StructBuilder, add *spec.AddFile) {
	stats, err := spec.ParseFileStats(add.Stats, tb.metadata.Schema)
	require.NoError(tb.t, err)
	if stats == nil {
		sb.AppendNull()
		return
	}

	sb.Append(true)
	st := sb.Type().(*arrow.StructType)
	for i, f := range st.Fields() {
		switch f.Name {
		case "numRecords":
			if stats.NumRecords < 0 {
				sb.FieldBuilder(i).AppendNull()
			} else {
				sb.FieldBuilder(i).(*array.Int64Builder).Append(stats.NumRecords)
			}
		default:
			inner := sb.FieldBuilder(i).(*array.StructBuilder)
			inner.Append(true)
			for j, col := range f.Type.(*arrow.StructType).Fields() {
				c, ok := stats.Column(col.Name)
				var v any
				switch f.Name {
				case "minValues":
					if ok && c.HasMin {
						v = c.Min
					}
				case "maxValues":
					if ok && c.HasMax {
						v = c.Max
					}
				case "nullCount":
					if ok && c.HasNullCount {
						v = c.NullCount
					}
				}
				tb.appendValue(inner.FieldBuilder(j), v)
			}
		}
	}
}

// appendValue appends a canonical value: int64 for integers, dates and
// timestamps, float64 for floats, *big.Rat for decimals.
func (tb *Table) appendValue(b array.Builder, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	case *array.Int8Builder:
		b.Append(int8(v.(int64)))
	case *array.Int16Builder:
		b.Append(int16(v.(int64)))
	case *array.Int32Builder:
		b.Append(int32(v.(int64)))
	case *array.Int64Builder:
		b.Append(v.(int64))
	case *array.Float32Builder:
		b.Append(float32(v.(float64)))
	case *array.Float64Builder:
		b.Append(v.(float64))
	case *array.StringBuilder:
		b.Append(v.(string))
	case *array.Date32Builder:
		b.Append(arrow.Date32(v.(int64)))
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(v.(int64)))
	case *array.Decimal128Builder:
		dt := b.Type().(*arrow.Decimal128Type)
		n, err := decimal128.FromString(v.(*big.Rat).FloatString(int(dt.Scale)), dt.Precision, dt.Scale)
		require.NoError(tb.t, err)
		b.Append(n)
	default:
		tb.t.Fatalf("no parsed value support for %s", b.Type())
	}
}
