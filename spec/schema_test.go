package spec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedSchemaString = `{"type":"struct","fields":[
	{"name":"id","type":"long","nullable":false,"metadata":{}},
	{"name":"price","type":"decimal(10,2)","nullable":true,"metadata":{}},
	{"name":"tags","type":{"type":"array","elementType":"string","containsNull":true},"nullable":true,"metadata":{}},
	{"name":"attrs","type":{"type":"map","keyType":"string","valueType":"integer","valueContainsNull":false},"nullable":true,"metadata":{}},
	{"name":"address","type":{"type":"struct","fields":[
		{"name":"city","type":"string","nullable":true,"metadata":{}},
		{"name":"zip","type":"integer","nullable":true,"metadata":{}}
	]},"nullable":true,"metadata":{"comment":"postal"}}
]}`

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema(nestedSchemaString)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "price", "tags", "attrs", "address"}, schema.Names())
	assert.False(t, schema.Fields[0].Nullable)
	assert.Equal(t, DecimalType{Precision: 10, Scale: 2}, schema.Fields[1].Type)
	assert.Equal(t, ArrayType{ElementType: StringType, ContainsNull: true}, schema.Fields[2].Type)
	assert.Equal(t, MapType{KeyType: StringType, ValueType: IntegerType}, schema.Fields[3].Type)
	assert.Equal(t, "postal", schema.Fields[4].Metadata["comment"])
	assert.Equal(t, 4, schema.FieldIndex("address"))
	assert.Equal(t, -1, schema.FieldIndex("missing"))
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	schema, err := ParseSchema(nestedSchemaString)
	require.NoError(t, err)

	data, err := json.Marshal(schema)
	require.NoError(t, err)

	again, err := ParseSchema(string(data))
	require.NoError(t, err)
	assert.True(t, schema.Equals(again))
}

func TestSchemaResolvePath(t *testing.T) {
	schema, err := ParseSchema(nestedSchemaString)
	require.NoError(t, err)

	typ, ok := schema.ResolvePath("address.zip")
	require.True(t, ok)
	assert.Equal(t, IntegerType, typ)

	_, ok = schema.ResolvePath("address.street")
	assert.False(t, ok)
	_, ok = schema.ResolvePath("id.x")
	assert.False(t, ok)
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema string
	}{
		{"not json", `{`},
		{"not a struct", `"long"`},
		{"unknown type", `{"type":"struct","fields":[{"name":"a","type":"uuid","nullable":true,"metadata":{}}]}`},
		{"duplicate field", `{"type":"struct","fields":[{"name":"a","type":"long","nullable":true},{"name":"a","type":"long","nullable":true}]}`},
		{"unnamed field", `{"type":"struct","fields":[{"type":"long","nullable":true}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema(tt.schema)
			assert.Error(t, err)
		})
	}
}
