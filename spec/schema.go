package spec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema represents a Delta table schema.
// A schema is the top-level struct type carried in metaData.schemaString.
type Schema struct {
	Fields []StructField
}

// NewSchema creates a new schema with the given fields.
func NewSchema(fields ...StructField) *Schema {
	return &Schema{Fields: fields}
}

// ParseSchema decodes a schemaString value.
func ParseSchema(schemaString string) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal([]byte(schemaString), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AsStruct returns the schema as a struct type.
func (s *Schema) AsStruct() StructType {
	return StructType{Fields: s.Fields}
}

// FieldByName returns the top-level field with the given name, or nil if not found.
func (s *Schema) FieldByName(name string) *StructField {
	return s.AsStruct().FieldByName(name)
}

// FieldIndex returns the position of the named top-level field, or -1.
func (s *Schema) FieldIndex(name string) int {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Names returns the top-level column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// NumFields returns the number of fields in the schema.
func (s *Schema) NumFields() int {
	return len(s.Fields)
}

// Equals checks if two schemas are equal.
func (s *Schema) Equals(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.AsStruct().Equals(other.AsStruct())
}

// ResolvePath resolves a dotted column path through nested structs.
// Statistics name nested leaves this way.
func (s *Schema) ResolvePath(path string) (Type, bool) {
	parts := strings.Split(path, ".")
	var current Type = s.AsStruct()
	for _, p := range parts {
		st, ok := current.(StructType)
		if !ok {
			return nil, false
		}
		f := st.FieldByName(p)
		if f == nil {
			return nil, false
		}
		current = f.Type
	}
	return current, true
}

// String returns the schemaString form of the schema.
func (s *Schema) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("<invalid schema: %v>", err)
	}
	return string(data)
}

type schemaJSON struct {
	Type   string      `json:"type"`
	Fields []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Name     string          `json:"name"`
	Type     json.RawMessage `json:"type"`
	Nullable bool            `json:"nullable"`
	Metadata map[string]any  `json:"metadata"`
}

// MarshalJSON implements json.Marshaler.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return marshalType(s.AsStruct())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schema) UnmarshalJSON(data []byte) error {
	t, err := unmarshalType(data)
	if err != nil {
		return err
	}
	st, ok := t.(StructType)
	if !ok {
		return fmt.Errorf("schema must be a struct, got %s", t.String())
	}
	s.Fields = st.Fields
	return nil
}

// marshalType marshals a Type to its schemaString JSON form.
func marshalType(t Type) ([]byte, error) {
	switch v := t.(type) {
	case PrimitiveType, DecimalType:
		return json.Marshal(v.String())
	case StructType:
		fields := make([]fieldJSON, len(v.Fields))
		for i, f := range v.Fields {
			typeBytes, err := marshalType(f.Type)
			if err != nil {
				return nil, err
			}
			metadata := f.Metadata
			if metadata == nil {
				metadata = map[string]any{}
			}
			fields[i] = fieldJSON{
				Name:     f.Name,
				Type:     typeBytes,
				Nullable: f.Nullable,
				Metadata: metadata,
			}
		}
		return json.Marshal(schemaJSON{Type: "struct", Fields: fields})
	case ArrayType:
		elementBytes, err := marshalType(v.ElementType)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"type":         "array",
			"elementType":  json.RawMessage(elementBytes),
			"containsNull": v.ContainsNull,
		})
	case MapType:
		keyBytes, err := marshalType(v.KeyType)
		if err != nil {
			return nil, err
		}
		valueBytes, err := marshalType(v.ValueType)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"type":              "map",
			"keyType":           json.RawMessage(keyBytes),
			"valueType":         json.RawMessage(valueBytes),
			"valueContainsNull": v.ValueContainsNull,
		})
	default:
		return nil, fmt.Errorf("unknown type: %T", t)
	}
}

// unmarshalType unmarshals a Type from its schemaString JSON form.
func unmarshalType(data json.RawMessage) (Type, error) {
	// Primitive types are plain strings
	var typeStr string
	if err := json.Unmarshal(data, &typeStr); err == nil {
		return ParseType(typeStr)
	}

	var typeObj map[string]json.RawMessage
	if err := json.Unmarshal(data, &typeObj); err != nil {
		return nil, fmt.Errorf("invalid type JSON: %s", string(data))
	}

	typeField, ok := typeObj["type"]
	if !ok {
		return nil, fmt.Errorf("missing type field")
	}

	var typeName string
	if err := json.Unmarshal(typeField, &typeName); err != nil {
		return nil, fmt.Errorf("invalid type field: %w", err)
	}

	switch typeName {
	case "struct":
		var fieldsJSON []fieldJSON
		if err := json.Unmarshal(typeObj["fields"], &fieldsJSON); err != nil {
			return nil, fmt.Errorf("invalid struct fields: %w", err)
		}
		fields := make([]StructField, len(fieldsJSON))
		seen := make(map[string]bool, len(fieldsJSON))
		for i, f := range fieldsJSON {
			if f.Name == "" {
				return nil, fmt.Errorf("struct field %d has no name", i)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("duplicate struct field %q", f.Name)
			}
			seen[f.Name] = true
			t, err := unmarshalType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			fields[i] = StructField{
				Name:     f.Name,
				Type:     t,
				Nullable: f.Nullable,
				Metadata: f.Metadata,
			}
		}
		return StructType{Fields: fields}, nil

	case "array":
		var containsNull bool
		if raw, ok := typeObj["containsNull"]; ok {
			if err := json.Unmarshal(raw, &containsNull); err != nil {
				return nil, fmt.Errorf("invalid array containsNull: %w", err)
			}
		}
		element, err := unmarshalType(typeObj["elementType"])
		if err != nil {
			return nil, fmt.Errorf("invalid array element type: %w", err)
		}
		return ArrayType{ElementType: element, ContainsNull: containsNull}, nil

	case "map":
		var valueContainsNull bool
		if raw, ok := typeObj["valueContainsNull"]; ok {
			if err := json.Unmarshal(raw, &valueContainsNull); err != nil {
				return nil, fmt.Errorf("invalid map valueContainsNull: %w", err)
			}
		}
		key, err := unmarshalType(typeObj["keyType"])
		if err != nil {
			return nil, fmt.Errorf("invalid map key type: %w", err)
		}
		value, err := unmarshalType(typeObj["valueType"])
		if err != nil {
			return nil, fmt.Errorf("invalid map value type: %w", err)
		}
		return MapType{KeyType: key, ValueType: value, ValueContainsNull: valueContainsNull}, nil

	default:
		return ParseType(typeName)
	}
}
