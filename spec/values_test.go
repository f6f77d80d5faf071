package spec

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestParsePartitionValue(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		raw  *string
		want any
	}{
		{"null", LongType, nil, nil},
		{"empty long is null", LongType, strPtr(""), nil},
		{"empty string stays", StringType, strPtr(""), ""},
		{"integer", IntegerType, strPtr("201001"), int64(201001)},
		{"boolean", BooleanType, strPtr("true"), true},
		{"double", DoubleType, strPtr("1.5"), 1.5},
		{"float rounds to 32 bits", FloatType, strPtr("0.1"), float64(float32(0.1))},
		{"double keeps 64 bits", DoubleType, strPtr("0.1"), 0.1},
		{"date", DateType, strPtr("1970-01-03"), int64(2)},
		{"timestamp", TimestampType, strPtr("1970-01-01 00:00:01.5"), int64(1500000)},
		{"timestamp iso", TimestampType, strPtr("1970-01-01T00:00:02.000000Z"), int64(2000000)},
		{"binary", BinaryType, strPtr("ab"), []byte("ab")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePartitionValue(tt.typ, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	dec, err := ParsePartitionValue(DecimalType{Precision: 5, Scale: 2}, strPtr("1.25"))
	require.NoError(t, err)
	assert.Equal(t, 0, dec.(*big.Rat).Cmp(big.NewRat(5, 4)))

	for _, bad := range []struct {
		typ Type
		raw string
	}{
		{ByteType, "300"},
		{IntegerType, "x"},
		{DateType, "2024/01/01"},
		{BooleanType, "maybe"},
	} {
		_, err := ParsePartitionValue(bad.typ, strPtr(bad.raw))
		assert.ErrorIs(t, err, ErrInvalidLiteral, "%s %q", bad.typ, bad.raw)
	}
}

func TestFormatPartitionValueParsesBack(t *testing.T) {
	values := []struct {
		typ Type
		v   any
	}{
		{LongType, int64(-12)},
		{StringType, "A"},
		{DateType, int64(19000)},
		{TimestampType, int64(1700000000123456)},
		{BooleanType, false},
	}

	for _, tt := range values {
		raw := FormatPartitionValue(tt.typ, tt.v)
		require.NotNil(t, raw)
		got, err := ParsePartitionValue(tt.typ, raw)
		require.NoError(t, err)
		assert.Equal(t, tt.v, got, "%s %q", tt.typ, *raw)
	}
	assert.Nil(t, FormatPartitionValue(LongType, nil))
}

func TestNormalizeLiteral(t *testing.T) {
	day := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		typ  Type
		in   any
		want any
	}{
		{"int to long", LongType, 5, int64(5)},
		{"int32 to integer", IntegerType, int32(7), int64(7)},
		{"whole float to long", LongType, 3.0, int64(3)},
		{"json number", LongType, json.Number("42"), int64(42)},
		{"int to double", DoubleType, 2, 2.0},
		{"float32 to float", FloatType, float32(0.5), 0.5},
		{"float64 to float rounds", FloatType, 0.1, float64(float32(0.1))},
		{"float32 to double widens", DoubleType, float32(0.1), float64(float32(0.1))},
		{"time to date", DateType, day, DaysSinceEpoch(day)},
		{"string to date", DateType, "2024-03-01", DaysSinceEpoch(day)},
		{"time to timestamp", TimestampType, day, day.UnixMicro()},
		{"string", StringType, "x", "x"},
		{"string to binary", BinaryType, "x", []byte("x")},
		{"nil", LongType, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeLiteral(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	dec, err := NormalizeLiteral(DecimalType{Precision: 10, Scale: 2}, "10.50")
	require.NoError(t, err)
	assert.Equal(t, 0, dec.(*big.Rat).Cmp(big.NewRat(21, 2)))

	for _, bad := range []struct {
		typ Type
		v   any
	}{
		{LongType, "5"},
		{LongType, 2.5},
		{StringType, 5},
		{BooleanType, 1},
		{DateType, "March"},
		{DecimalType{Precision: 5, Scale: 0}, math.NaN()},
	} {
		_, err := NormalizeLiteral(bad.typ, bad.v)
		assert.ErrorIs(t, err, ErrInvalidLiteral, "%s %v", bad.typ, bad.v)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{int64(1), int64(2), -1},
		{int64(2), int64(2), 0},
		{2.5, 1.0, 1},
		{math.NaN(), 1e300, 1},
		{"a", "b", -1},
		{false, true, -1},
		{[]byte{1}, []byte{1, 0}, -1},
		{big.NewRat(1, 3), big.NewRat(1, 4), 1},
	}

	for _, tt := range tests {
		got, err := Compare(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Compare(%v, %v)", tt.a, tt.b)
	}

	_, err := Compare(int64(1), "1")
	assert.ErrorIs(t, err, ErrInvalidLiteral)

	assert.False(t, ValuesEqual(nil, nil))
	assert.True(t, ValuesEqual("x", "x"))
}
