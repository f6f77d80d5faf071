package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// timestampStatsSlack widens timestamp maxima. Writers truncate statistics to
// milliseconds, so the stored max can be up to 999µs below the real one.
const timestampStatsSlack = 999

// ColumnStats holds the statistics recorded for one leaf column of a file.
type ColumnStats struct {
	Min          any
	Max          any
	HasMin       bool
	HasMax       bool
	NullCount    int64
	HasNullCount bool
}

// FileStats is the decoded add.stats value.
type FileStats struct {
	// NumRecords is -1 when the writer did not record it.
	NumRecords int64
	// Columns is keyed by column path; nested struct leaves use dotted names.
	Columns map[string]ColumnStats
}

// Column returns the statistics for a column path.
func (s *FileStats) Column(name string) (ColumnStats, bool) {
	if s == nil {
		return ColumnStats{}, false
	}
	c, ok := s.Columns[name]
	return c, ok
}

type statsJSON struct {
	NumRecords *json.Number               `json:"numRecords"`
	MinValues  map[string]json.RawMessage `json:"minValues"`
	MaxValues  map[string]json.RawMessage `json:"maxValues"`
	NullCount  map[string]json.RawMessage `json:"nullCount"`
}

// ParseFileStats decodes a stats JSON string against the schema the file was
// added under. Every literal is decoded according to the column's logical
// type; a value that does not fit its type is a malformed log entry. Columns
// the schema does not know are ignored. An empty string yields nil stats.
func ParseFileStats(raw string, schema *Schema) (*FileStats, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var j statsJSON
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&j); err != nil {
		return nil, malformed("add", "stats", fmt.Sprintf("invalid JSON: %v", err))
	}

	stats := &FileStats{NumRecords: -1, Columns: make(map[string]ColumnStats)}
	if j.NumRecords != nil {
		n, err := j.NumRecords.Int64()
		if err != nil || n < 0 {
			return nil, malformed("add", "stats.numRecords", fmt.Sprintf("invalid count %s", j.NumRecords.String()))
		}
		stats.NumRecords = n
	}

	root := schema.AsStruct()
	if err := walkStatValues(root, "", j.MinValues, func(path string, t Type, v any) {
		c := stats.Columns[path]
		c.Min, c.HasMin = v, true
		stats.Columns[path] = c
	}); err != nil {
		return nil, err
	}
	if err := walkStatValues(root, "", j.MaxValues, func(path string, t Type, v any) {
		c := stats.Columns[path]
		if id := t.TypeID(); id == TypeTimestamp || id == TypeTimestampNtz {
			if n := v.(int64); n <= math.MaxInt64-timestampStatsSlack {
				v = n + timestampStatsSlack
			}
		}
		c.Max, c.HasMax = v, true
		stats.Columns[path] = c
	}); err != nil {
		return nil, err
	}
	if err := walkNullCounts(root, "", j.NullCount, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func walkStatValues(st StructType, prefix string, values map[string]json.RawMessage, set func(string, Type, any)) error {
	for name, raw := range values {
		f := st.FieldByName(name)
		if f == nil || isJSONNull(raw) {
			continue
		}
		path := prefix + name
		if nested, ok := f.Type.(StructType); ok {
			var children map[string]json.RawMessage
			if err := json.Unmarshal(raw, &children); err != nil {
				return malformed("add", "stats."+path, "must be an object for a struct column")
			}
			if err := walkStatValues(nested, path+".", children, set); err != nil {
				return err
			}
			continue
		}
		if !IsPrimitive(f.Type) {
			continue
		}
		v, err := decodeStatValue(f.Type, raw)
		if err != nil {
			return malformed("add", "stats."+path, err.Error())
		}
		set(path, f.Type, v)
	}
	return nil
}

func walkNullCounts(st StructType, prefix string, counts map[string]json.RawMessage, stats *FileStats) error {
	for name, raw := range counts {
		f := st.FieldByName(name)
		if f == nil || isJSONNull(raw) {
			continue
		}
		path := prefix + name
		if nested, ok := f.Type.(StructType); ok {
			var children map[string]json.RawMessage
			if err := json.Unmarshal(raw, &children); err != nil {
				// Some writers record a single count for the whole struct.
				continue
			}
			if err := walkNullCounts(nested, path+".", children, stats); err != nil {
				return err
			}
			continue
		}
		n, err := decodeCount(raw)
		if err != nil {
			return malformed("add", "stats.nullCount."+path, err.Error())
		}
		c := stats.Columns[path]
		c.NullCount, c.HasNullCount = n, true
		stats.Columns[path] = c
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeCount(raw json.RawMessage) (int64, error) {
	var num json.Number
	if err := unmarshalNumber(raw, &num); err != nil {
		return 0, err
	}
	n, err := num.Int64()
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid count %s", string(raw))
	}
	return n, nil
}

func unmarshalNumber(raw json.RawMessage, num *json.Number) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	n, ok := v.(json.Number)
	if !ok {
		return fmt.Errorf("expected a number, got %s", string(raw))
	}
	*num = n
	return nil
}

func unmarshalString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected a string, got %s", string(raw))
	}
	return s, nil
}

// decodeStatValue decodes a min or max literal under the column's logical type.
func decodeStatValue(t Type, raw json.RawMessage) (any, error) {
	switch t.TypeID() {
	case TypeBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("expected a boolean, got %s", string(raw))
		}
		return b, nil

	case TypeByte, TypeShort, TypeInteger, TypeLong:
		var num json.Number
		if err := unmarshalNumber(raw, &num); err != nil {
			return nil, err
		}
		n, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %s", num)
		}
		bits := integralBits(t)
		if bits < 64 && (n < -(1<<(bits-1)) || n >= 1<<(bits-1)) {
			return nil, fmt.Errorf("%d overflows %s", n, t)
		}
		return n, nil

	case TypeFloat, TypeDouble:
		// NaN and infinities are written as strings
		if s, err := unmarshalString(raw); err == nil {
			switch s {
			case "NaN":
				return math.NaN(), nil
			case "Infinity", "+Infinity":
				return math.Inf(1), nil
			case "-Infinity":
				return math.Inf(-1), nil
			}
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		var num json.Number
		if err := unmarshalNumber(raw, &num); err != nil {
			return nil, err
		}
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s", num)
		}
		return fitFloat(t, f), nil

	case TypeDate:
		s, err := unmarshalString(raw)
		if err != nil {
			return nil, err
		}
		return ParseDate(s)

	case TypeTimestamp, TypeTimestampNtz:
		s, err := unmarshalString(raw)
		if err != nil {
			return nil, err
		}
		return ParseTimestamp(s)

	case TypeString:
		return unmarshalString(raw)

	case TypeBinary:
		s, err := unmarshalString(raw)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil

	case TypeDecimal:
		var text string
		if s, err := unmarshalString(raw); err == nil {
			text = s
		} else {
			var num json.Number
			if err := unmarshalNumber(raw, &num); err != nil {
				return nil, err
			}
			text = num.String()
		}
		r, ok := new(big.Rat).SetString(text)
		if !ok {
			return nil, fmt.Errorf("invalid decimal %q", text)
		}
		return r, nil
	}
	return nil, fmt.Errorf("type %s has no statistics", t)
}
