package spec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidLiteral is returned when a value cannot be represented in a column's type.
var ErrInvalidLiteral = errors.New("invalid literal")

// Canonical values used by pruning and row filtering:
//
//	boolean                          bool
//	byte, short, integer, long       int64
//	date                             int64 days since 1970-01-01
//	timestamp, timestamp_ntz         int64 microseconds since 1970-01-01 UTC
//	float, double                    float64
//	string                           string
//	binary                           []byte
//	decimal                          *big.Rat
//
// A nil value is SQL NULL.

const dateLayout = "2006-01-02"

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999Z0700",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DaysSinceEpoch converts a time to its date value.
func DaysSinceEpoch(t time.Time) int64 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Unix() / 86400
}

// DateFromDays converts a date value back to a UTC midnight time.
func DateFromDays(days int64) time.Time {
	return time.Unix(days*86400, 0).UTC()
}

// MicrosSinceEpoch converts a time to its timestamp value.
func MicrosSinceEpoch(t time.Time) int64 {
	return t.UnixMicro()
}

// TimestampFromMicros converts a timestamp value back to a UTC time.
func TimestampFromMicros(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}

// ParseDate parses a YYYY-MM-DD string into a date value.
func ParseDate(s string) (int64, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid date %q", ErrInvalidLiteral, s)
	}
	return DaysSinceEpoch(t), nil
}

// ParseTimestamp parses the timestamp spellings found in partition values
// and statistics. Strings without a zone are read as UTC.
func ParseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return MicrosSinceEpoch(t), nil
		}
	}
	return 0, fmt.Errorf("%w: invalid timestamp %q", ErrInvalidLiteral, s)
}

// ParsePartitionValue converts a serialized add.partitionValues entry to its
// canonical value. A nil raw value is NULL; an empty string is NULL for every
// type other than string.
func ParsePartitionValue(t Type, raw *string) (any, error) {
	if raw == nil {
		return nil, nil
	}
	s := *raw
	if s == "" && t.TypeID() != TypeString {
		return nil, nil
	}

	switch t.TypeID() {
	case TypeString:
		return s, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid boolean %q", ErrInvalidLiteral, s)
		}
		return b, nil
	case TypeByte, TypeShort, TypeInteger, TypeLong:
		n, err := strconv.ParseInt(s, 10, integralBits(t))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidLiteral, t, s)
		}
		return n, nil
	case TypeFloat, TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s %q", ErrInvalidLiteral, t, s)
		}
		return fitFloat(t, f), nil
	case TypeDate:
		return ParseDate(s)
	case TypeTimestamp, TypeTimestampNtz:
		return ParseTimestamp(s)
	case TypeBinary:
		return []byte(s), nil
	case TypeDecimal:
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return nil, fmt.Errorf("%w: invalid decimal %q", ErrInvalidLiteral, s)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %s cannot be a partition column", ErrInvalidLiteral, t)
	}
}

// FormatPartitionValue serializes a canonical value the way writers store it
// in add.partitionValues.
func FormatPartitionValue(t Type, v any) *string {
	if v == nil {
		return nil
	}
	var s string
	switch t.TypeID() {
	case TypeDate:
		s = DateFromDays(v.(int64)).Format(dateLayout)
	case TypeTimestamp, TypeTimestampNtz:
		s = TimestampFromMicros(v.(int64)).Format("2006-01-02 15:04:05.999999")
	case TypeDecimal:
		s = v.(*big.Rat).FloatString(t.(DecimalType).Scale)
	case TypeBinary:
		s = string(v.([]byte))
	default:
		s = fmt.Sprint(v)
	}
	return &s
}

func integralBits(t Type) int {
	switch t.TypeID() {
	case TypeByte:
		return 8
	case TypeShort:
		return 16
	case TypeInteger:
		return 32
	default:
		return 64
	}
}

// fitFloat rounds f to the precision of a float column. Float columns hold
// 32-bit values, so literals, partition values and statistics are compared
// as the nearest float32 widened back to float64.
func fitFloat(t Type, f float64) float64 {
	if t.TypeID() == TypeFloat {
		return float64(float32(f))
	}
	return f
}

// NormalizeLiteral coerces a caller-supplied literal to the canonical value of
// type t. Go integers, floats, strings, time.Time, json.Number and *big.Rat are
// accepted where they make sense for the type.
func NormalizeLiteral(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	bad := func() error {
		return fmt.Errorf("%w: %v (%T) is not a %s", ErrInvalidLiteral, v, v, t)
	}

	switch t.TypeID() {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, bad()

	case TypeByte, TypeShort, TypeInteger, TypeLong:
		n, ok := toInt64(v)
		if !ok {
			return nil, bad()
		}
		return n, nil

	case TypeFloat, TypeDouble:
		f, ok := toFloat64(v)
		if !ok {
			return nil, bad()
		}
		return fitFloat(t, f), nil

	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return DaysSinceEpoch(x), nil
		case string:
			return ParseDate(x)
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, bad()

	case TypeTimestamp, TypeTimestampNtz:
		switch x := v.(type) {
		case time.Time:
			return MicrosSinceEpoch(x), nil
		case string:
			return ParseTimestamp(x)
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, bad()

	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, bad()

	case TypeBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
		return nil, bad()

	case TypeDecimal:
		switch x := v.(type) {
		case *big.Rat:
			return x, nil
		case string:
			if r, ok := new(big.Rat).SetString(x); ok {
				return r, nil
			}
			return nil, bad()
		case json.Number:
			if r, ok := new(big.Rat).SetString(x.String()); ok {
				return r, nil
			}
			return nil, bad()
		case float32, float64:
			f, _ := toFloat64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, bad()
			}
			return new(big.Rat).SetFloat64(f), nil
		}
		if n, ok := toInt64(v); ok {
			return new(big.Rat).SetInt64(n), nil
		}
		return nil, bad()
	}
	return nil, bad()
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

// Compare orders two non-nil canonical values of the same type.
// NaN sorts above every other float.
func Compare(a, b any) (int, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return compareFloat(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	case *big.Rat:
		if y, ok := b.(*big.Rat); ok {
			return x.Cmp(y), nil
		}
	}
	return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrInvalidLiteral, a, b)
}

func compareFloat(x, y float64) int {
	xn, yn := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xn && yn:
		return 0
	case xn:
		return 1
	case yn:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// ValuesEqual reports whether two canonical values are equal. Two NULLs are
// not equal.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	c, err := Compare(a, b)
	return err == nil && c == 0
}
