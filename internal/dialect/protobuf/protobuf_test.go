package protobuf

import (
	"testing"

	"schemaregistry/internal/types"

	"github.com/stretchr/testify/require"
)

const v1Schema = `{
  "name": "test.proto",
  "package": "test.v1",
  "syntax": "proto3",
  "messageType": [
    {
      "name": "User",
      "field": [
        {"name": "id", "number": 1, "label": "LABEL_OPTIONAL", "type": "TYPE_STRING"}
      ]
    }
  ]
}`

const v2AddField = `{
  "name": "test.proto",
  "package": "test.v2",
  "syntax": "proto3",
  "messageType": [
    {
      "name": "User",
      "field": [
        {"name": "id", "number": 1, "label": "LABEL_OPTIONAL", "type": "TYPE_STRING"},
        {"name": "age", "number": 2, "label": "LABEL_OPTIONAL", "type": "TYPE_INT32"}
      ]
    }
  ]
}`

const v2ChangeType = `{
  "name": "test.proto",
  "package": "test.v3",
  "syntax": "proto3",
  "messageType": [
    {
      "name": "User",
      "field": [
        {"name": "id", "number": 1, "label": "LABEL_OPTIONAL", "type": "TYPE_INT32"}
      ]
    }
  ]
}`

const v1Required = `{
  "name": "test.proto",
  "package": "test.v4",
  "syntax": "proto2",
  "messageType": [
    {
      "name": "User",
      "field": [
        {"name": "id", "number": 1, "label": "LABEL_REQUIRED", "type": "TYPE_STRING"}
      ]
    }
  ]
}`

const v2DropRequired = `{
  "name": "test.proto",
  "package": "test.v5",
  "syntax": "proto2",
  "messageType": [
    {
      "name": "User",
      "field": []
    }
  ]
}`

func TestCanonicalizeRejectsInvalidDescriptor(t *testing.T) {
	d := New()
	_, err := d.Canonicalize(`{"messageType": [{"name": "Broken", "field": [{"name":"x","number":1,"type":"TYPE_MESSAGE"}]}]}`)
	require.Error(t, err)
}

func TestAddingFieldIsBackwardCompatible(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2AddField, v1Schema)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChangingFieldTypeBreaksCompatibility(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2ChangeType, v1Schema)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemovingRequiredFieldBreaksBackwardCompatibility(t *testing.T) {
	d := New()
	ok, err := d.IsCompatible(types.Backward, v2DropRequired, v1Required)
	require.NoError(t, err)
	require.False(t, ok)
}
