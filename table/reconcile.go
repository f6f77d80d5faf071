package table

import (
	"context"
	"fmt"
	"math/big"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/BrobridgeOrg/go-delta/spec"
)

// castColumn converts a decoded file column to the table type. Narrower
// physical types left by type widening are widened here; anything that
// cannot be cast is a schema mismatch.
func castColumn(ctx context.Context, name string, arr arrow.Array, to arrow.DataType) (arrow.Array, error) {
	if arrow.TypeEqual(arr.DataType(), to) {
		arr.Retain()
		return arr, nil
	}
	out, err := compute.CastArray(ctx, arr, compute.SafeCastOptions(to))
	if err != nil {
		return nil, &spec.SchemaMismatchError{
			Column:    name,
			FileType:  arr.DataType().String(),
			TableType: to.String(),
		}
	}
	return out, nil
}

// constantArray builds a column of n copies of a canonical value. A nil
// value yields an all-null column.
func constantArray(mem memory.Allocator, dt arrow.DataType, v any, n int) (arrow.Array, error) {
	if v == nil {
		return array.MakeArrayOfNull(mem, dt, n), nil
	}

	mismatch := func() error {
		return fmt.Errorf("%w: value %v (%T) does not fit %s", spec.ErrSchemaMismatch, v, v, dt)
	}

	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(n)

	switch bb := b.(type) {
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(x)
		}
	case *array.Int8Builder:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(int8(x))
		}
	case *array.Int16Builder:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(int16(x))
		}
	case *array.Int32Builder:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(int32(x))
		}
	case *array.Int64Builder:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(x)
		}
	case *array.Float32Builder:
		x, ok := v.(float64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(float32(x))
		}
	case *array.Float64Builder:
		x, ok := v.(float64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(x)
		}
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(x)
		}
	case *array.BinaryBuilder:
		x, ok := v.([]byte)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(x)
		}
	case *array.Date32Builder:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(arrow.Date32(x))
		}
	case *array.TimestampBuilder:
		x, ok := v.(int64)
		if !ok {
			return nil, mismatch()
		}
		for range n {
			bb.Append(arrow.Timestamp(x))
		}
	case *array.Decimal128Builder:
		r, ok := v.(*big.Rat)
		if !ok {
			return nil, mismatch()
		}
		num, err := ratToDecimal(r, dt.(*arrow.Decimal128Type).Scale)
		if err != nil {
			return nil, err
		}
		for range n {
			bb.Append(num)
		}
	default:
		return nil, mismatch()
	}
	return b.NewArray(), nil
}

func ratToDecimal(r *big.Rat, scale int32) (decimal128.Num, error) {
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(pow10(scale)))
	if !scaled.IsInt() {
		return decimal128.Num{}, fmt.Errorf("%w: %s has more than %d fractional digits", spec.ErrSchemaMismatch, r.RatString(), scale)
	}
	return decimal128.FromBigInt(scaled.Num()), nil
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// canonicalValue reads row i of a batch column as a canonical value. Values
// of types predicates cannot reference read as nil.
func canonicalValue(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Binary:
		return a.Value(i)
	case *array.Date32:
		return int64(a.Value(i))
	case *array.Timestamp:
		v := int64(a.Value(i))
		switch a.DataType().(*arrow.TimestampType).Unit {
		case arrow.Second:
			return v * 1_000_000
		case arrow.Millisecond:
			return v * 1_000
		case arrow.Nanosecond:
			return v / 1_000
		}
		return v
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return new(big.Rat).SetFrac(a.Value(i).BigInt(), pow10(scale))
	default:
		return nil
	}
}
