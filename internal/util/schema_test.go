package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lookupArgs struct {
	Account string `json:"account" description:"Account identifier"`
	Limit   int    `json:"limit,omitempty"`
	Verbose *bool  `json:"verbose"`
	Tags    []string `json:"tags,omitempty"`
	Skipped string   `json:"-"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(lookupArgs{})

	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 4)

	account, ok := props["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", account["type"])
	assert.Equal(t, "Account identifier", account["description"])

	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, "boolean", props["verbose"].(map[string]any)["type"])
	assert.Equal(t, "array", props["tags"].(map[string]any)["type"])
	assert.NotContains(t, props, "Skipped")

	// Only the non-pointer, non-omitempty field is required.
	assert.Equal(t, []string{"account"}, schema["required"])
}

func TestCreateSchemaAcceptsPointerAndNonStruct(t *testing.T) {
	schema := CreateSchema(&lookupArgs{})
	assert.Equal(t, "object", schema["type"])

	schema = CreateSchema(42)
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"account": map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer"},
			"mode":    map[string]any{"type": "string", "enum": []any{"fast", "full"}},
		},
		"required": []string{"account"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"account": "a1"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "account", verr.Field)

	err = ValidateParameters(map[string]any{"account": "a1", "limit": "ten"}, schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")

	// JSON numbers arrive as float64; whole values pass as integers.
	assert.NoError(t, ValidateParameters(map[string]any{"account": "a1", "limit": float64(10)}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"account": "a1", "limit": 10.5}, schema))

	assert.NoError(t, ValidateParameters(map[string]any{"account": "a1", "mode": "fast"}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"account": "a1", "mode": "slow"}, schema))

	// Unknown fields pass through.
	assert.NoError(t, ValidateParameters(map[string]any{"account": "a1", "extra": true}, schema))
}

func TestValidateParametersJSONDecodedRequired(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"account": map[string]any{"type": "string"}},
		"required":   []any{"account"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"account": "a1"}, schema))
}
