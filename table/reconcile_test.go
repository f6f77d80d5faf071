package table

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/spec"
)

func TestConstantArray(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	tests := []struct {
		name string
		dt   arrow.DataType
		v    any
	}{
		{"int32", arrow.PrimitiveTypes.Int32, int64(201001)},
		{"string", arrow.BinaryTypes.String, "A"},
		{"date", arrow.FixedWidthTypes.Date32, int64(19724)},
		{"timestamp", timestampUTC, int64(1704067200000000)},
		{"double", arrow.PrimitiveTypes.Float64, 1.5},
		{"bool", arrow.FixedWidthTypes.Boolean, true},
		{"decimal", &arrow.Decimal128Type{Precision: 10, Scale: 2}, big.NewRat(25, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr, err := constantArray(mem, tt.dt, tt.v, 3)
			require.NoError(t, err)
			defer arr.Release()

			assert.Equal(t, 3, arr.Len())
			assert.True(t, arrow.TypeEqual(tt.dt, arr.DataType()))
			for i := range 3 {
				if r, ok := tt.v.(*big.Rat); ok {
					assert.Zero(t, r.Cmp(canonicalValue(arr, i).(*big.Rat)))
					continue
				}
				assert.Equal(t, tt.v, canonicalValue(arr, i))
			}
		})
	}
}

func TestConstantArrayNullAndMismatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	arr, err := constantArray(mem, arrow.PrimitiveTypes.Int64, nil, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, arr.NullN())
	arr.Release()

	_, err = constantArray(mem, arrow.PrimitiveTypes.Int64, "x", 1)
	assert.ErrorIs(t, err, spec.ErrSchemaMismatch)

	_, err = constantArray(mem, &arrow.Decimal128Type{Precision: 10, Scale: 1}, big.NewRat(1, 3), 1)
	assert.ErrorIs(t, err, spec.ErrSchemaMismatch)
}

func TestCastColumn(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	b := array.NewInt32Builder(mem)
	b.AppendValues([]int32{1, 2}, nil)
	b.AppendNull()
	narrow := b.NewArray()
	b.Release()
	defer narrow.Release()

	wide, err := castColumn(ctx, "id", narrow, arrow.PrimitiveTypes.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), nil},
		[]any{canonicalValue(wide, 0), canonicalValue(wide, 1), canonicalValue(wide, 2)})
	wide.Release()

	same, err := castColumn(ctx, "id", narrow, arrow.PrimitiveTypes.Int32)
	require.NoError(t, err)
	assert.Same(t, narrow, same)
	same.Release()

	sb := array.NewStringBuilder(mem)
	sb.Append("abc")
	text := sb.NewArray()
	sb.Release()
	defer text.Release()

	_, err = castColumn(ctx, "id", text, arrow.PrimitiveTypes.Int64)
	require.ErrorIs(t, err, spec.ErrSchemaMismatch)
	var mismatch *spec.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "id", mismatch.Column)
}

func TestFilterRecordDropsNullOutcomes(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	rec := recordFromJSON(t, mem, schema, `[
		{"id": 1, "name": "alpha"},
		{"id": null, "name": "beta"},
		{"id": 3, "name": null},
		{"id": 4, "name": "alpine"}
	]`)
	defer rec.Release()

	tests := []struct {
		name string
		expr *Expression
		want []string
	}{
		{"comparison skips nulls", Gt("id", 0), []string{`{"id":1,"name":"alpha"}`, `{"id":3,"name":null}`, `{"id":4,"name":"alpine"}`}},
		{"negation skips nulls", Not(Eq("id", 1)), []string{`{"id":3,"name":null}`, `{"id":4,"name":"alpine"}`}},
		{"is null", IsNull("name"), []string{`{"id":3,"name":null}`}},
		{"starts with", StartsWith("name", "alp"), []string{`{"id":1,"name":"alpha"}`, `{"id":4,"name":"alpine"}`}},
		{"or with null side", Or(Eq("id", 3), Eq("name", "beta")), []string{`{"id":null,"name":"beta"}`, `{"id":3,"name":null}`}},
		{"all rows", Or(IsNotNull("name"), IsNull("name")), []string{`{"id":1,"name":"alpha"}`, `{"id":null,"name":"beta"}`, `{"id":3,"name":null}`, `{"id":4,"name":"alpine"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound, err := tt.expr.Bind(testSchema())
			require.NoError(t, err)

			out, err := filterRecord(ctx, mem, rec, bound)
			require.NoError(t, err)
			defer out.Release()
			assert.Equal(t, tt.want, recordRows(t, out))
		})
	}

	out, err := filterRecord(ctx, mem, rec, nil)
	require.NoError(t, err)
	assert.Same(t, rec, out)
	out.Release()
}

func TestFilterRecordMissingColumn(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer mem.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
	rec := recordFromJSON(t, mem, schema, `[{"id": 1}]`)
	defer rec.Release()

	bound, err := Eq("name", "x").Bind(testSchema())
	require.NoError(t, err)
	_, err = filterRecord(context.Background(), mem, rec, bound)
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func recordFromJSON(t *testing.T, mem memory.Allocator, schema *arrow.Schema, rows string) arrow.Record {
	t.Helper()
	rec, _, err := array.RecordFromJSON(mem, schema, strings.NewReader(rows))
	require.NoError(t, err)
	return rec
}
