package deltatest

import (
	"encoding/json"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/require"
)

// statsJSON computes add.stats for a record the way Spark writers do:
// numRecords, per-column min/max for orderable primitives and nullCount for
// every top-level column. Timestamps are truncated to milliseconds.
func statsJSON(t testing.TB, rec arrow.Record) string {
	minValues := map[string]any{}
	maxValues := map[string]any{}
	nullCount := map[string]any{}

	for i, field := range rec.Schema().Fields() {
		col := rec.Column(i)
		nullCount[field.Name] = col.NullN()
		lo, hi, ok := minMax(col)
		if ok {
			minValues[field.Name] = lo
			maxValues[field.Name] = hi
		}
	}

	data, err := json.Marshal(map[string]any{
		"numRecords": rec.NumRows(),
		"minValues":  minValues,
		"maxValues":  maxValues,
		"nullCount":  nullCount,
	})
	require.NoError(t, err)
	return string(data)
}

func minMax(col arrow.Array) (lo, hi any, ok bool) {
	switch a := col.(type) {
	case *array.Int8:
		return ordered(a.Len(), a.IsNull, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Int16:
		return ordered(a.Len(), a.IsNull, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Int32:
		return ordered(a.Len(), a.IsNull, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Int64:
		return ordered(a.Len(), a.IsNull, a.Value)
	case *array.Float32:
		lo, hi, ok := ordered(a.Len(), func(i int) bool { return a.IsNull(i) || math.IsNaN(float64(a.Value(i))) },
			func(i int) float64 { return float64(a.Value(i)) })
		if !ok {
			return nil, nil, false
		}
		// JVM writers print the shortest decimal of the 32-bit value
		return formatFloat32(lo.(float64)), formatFloat32(hi.(float64)), true
	case *array.Float64:
		return ordered(a.Len(), func(i int) bool { return a.IsNull(i) || math.IsNaN(a.Value(i)) }, a.Value)
	case *array.String:
		return ordered(a.Len(), a.IsNull, a.Value)
	case *array.Date32:
		lo, hi, ok := ordered(a.Len(), a.IsNull, func(i int) int32 { return int32(a.Value(i)) })
		if !ok {
			return nil, nil, false
		}
		return formatDate(lo.(int32)), formatDate(hi.(int32)), true
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		lo, hi, ok := ordered(a.Len(), a.IsNull, func(i int) int64 { return int64(a.Value(i)) })
		if !ok {
			return nil, nil, false
		}
		return formatTimestamp(lo.(int64), unit), formatTimestamp(hi.(int64), unit), true
	}
	return nil, nil, false
}

func ordered[T int32 | int64 | float64 | string](n int, skip func(int) bool, value func(int) T) (any, any, bool) {
	var lo, hi T
	found := false
	for i := 0; i < n; i++ {
		if skip(i) {
			continue
		}
		v := value(i)
		if !found {
			lo, hi, found = v, v, true
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if !found {
		return nil, nil, false
	}
	return lo, hi, true
}

func formatFloat32(v float64) json.Number {
	return json.Number(strconv.FormatFloat(v, 'g', -1, 32))
}

func formatDate(days int32) string {
	return time.Unix(int64(days)*86400, 0).UTC().Format("2006-01-02")
}

func formatTimestamp(v int64, unit arrow.TimeUnit) string {
	return time.Unix(0, v*int64(unit.Multiplier())).UTC().Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z")
}
