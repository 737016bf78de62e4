package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadString(t *testing.T) {
	p := Payload{"query": "find users", "count": float64(3)}
	assert.Equal(t, "find users", p.String("query"))
	assert.Empty(t, p.String("count"))
	assert.Empty(t, p.String("missing"))
	assert.Empty(t, Payload(nil).String("query"))
}

func TestPayloadCount(t *testing.T) {
	p := Payload{
		"dependencies": []any{"db", "cache"},
		"triggers":     map[string]any{"on_error": true},
		"name":         "x",
		"empty":        []any{},
	}
	assert.Equal(t, 2, p.Count("dependencies"))
	assert.Equal(t, 1, p.Count("triggers"))
	assert.Zero(t, p.Count("name"))
	assert.Zero(t, p.Count("empty"))
	assert.Zero(t, p.Count("missing"))
	assert.Zero(t, Payload(nil).Count("dependencies"))
}

func TestPayloadMarshalRoundTrip(t *testing.T) {
	original := Payload{
		"query": "deploy service",
		"constraints": map[string]any{
			"region": "us-east-1",
			"canary": nil,
		},
		"attempts": []any{},
		"weights":  []any{float64(1), float64(0.5)},
	}

	raw, err := marshalPayload(original)
	require.NoError(t, err)

	decoded, err := unmarshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestMarshalPayloadNil(t *testing.T) {
	raw, err := marshalPayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)

	decoded, err := unmarshalPayload(raw)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestInt64sRoundTrip(t *testing.T) {
	raw, err := marshalInt64s([]int64{3, 1, 2})
	require.NoError(t, err)
	ids, err := unmarshalInt64s(raw)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, ids)

	raw, err = marshalInt64s(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}
