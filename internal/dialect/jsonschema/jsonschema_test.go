package jsonschema

import (
	"testing"

	"schemaregistry/internal/types"

	"github.com/stretchr/testify/require"
)

const v1Schema = `{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`
const v2AddOptional = `{"type":"object","properties":{"id":{"type":"string"},"age":{"type":"integer"}},"required":["id"]}`
const v2RemoveRequired = `{"type":"object","properties":{},"required":[]}`
const v2ChangeType = `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`

func TestCanonicalizeRejectsInvalidJSON(t *testing.T) {
	d := New()
	_, err := d.Canonicalize(`{not json`)
	require.Error(t, err)
}

func TestAddingOptionalPropertyIsBackwardCompatible(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2AddOptional, v1Schema)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemovingRequiredPropertyBreaksBackwardCompatibility(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2RemoveRequired, v1Schema)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChangingPropertyTypeBreaksCompatibility(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Full, v2ChangeType, v1Schema)
	require.NoError(t, err)
	require.False(t, ok)
}
