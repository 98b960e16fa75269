package avro

import (
	"testing"

	"schemaregistry/internal/types"

	"github.com/stretchr/testify/require"
)

const v1Schema = `{"type":"record","name":"User","fields":[{"name":"id","type":"string"}]}`
const v2AddOptional = `{"type":"record","name":"User","fields":[{"name":"id","type":"string"},{"name":"age","type":["null","int"],"default":null}]}`
const v2RemoveRequired = `{"type":"record","name":"User","fields":[]}`

func TestCanonicalizeRejectsInvalidSchema(t *testing.T) {
	d := New()
	_, err := d.Canonicalize(`not a schema`)
	require.Error(t, err)
}

func TestCanonicalizeIsStableAcrossWhitespace(t *testing.T) {
	d := New()
	a, err := d.Canonicalize(v1Schema)
	require.NoError(t, err)
	b, err := d.Canonicalize(`{ "type" : "record" , "name":"User", "fields":[{"name":"id","type":"string"}] }`)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestAddingOptionalFieldIsBackwardCompatible(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2AddOptional, v1Schema)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemovingRequiredFieldBreaksBackwardCompatibility(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2RemoveRequired, v1Schema)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNoneLevelAlwaysCompatible(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.None, v2RemoveRequired, v1Schema)
	require.NoError(t, err)
	require.True(t, ok)
}
