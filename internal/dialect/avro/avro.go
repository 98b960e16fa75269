// Package avro implements dialect.Dialect for Avro schemas using hamba/avro.
package avro

import (
	"fmt"

	"schemaregistry/internal/types"

	"github.com/hamba/avro/v2"
)

// Dialect canonicalizes and compares Avro schemas.
type Dialect struct{}

// New builds an Avro Dialect.
func New() *Dialect { return &Dialect{} }

// Canonicalize parses text and returns hamba/avro's normalized String()
// rendering, so that equivalent schemas (differing only in whitespace, field
// order metadata, etc.) compare equal.
func (d *Dialect) Canonicalize(text string) (string, error) {
	schema, err := avro.Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse avro schema: %w", err)
	}
	return schema.String(), nil
}

// IsCompatible implements Backward/Forward/Full compatibility by comparing
// record fields: a required field may never be removed (backward) or added
// (forward), and a field's type may only widen in the read direction.
func (d *Dialect) IsCompatible(level types.CompatibilityLevel, newer, older string) (bool, error) {
	oldSchema, err := avro.Parse(older)
	if err != nil {
		return false, fmt.Errorf("parse older schema: %w", err)
	}
	newSchema, err := avro.Parse(newer)
	if err != nil {
		return false, fmt.Errorf("parse newer schema: %w", err)
	}

	switch level {
	case types.None:
		return true, nil
	case types.Backward, types.BackwardTransitive:
		return isBackwardCompatible(oldSchema, newSchema)
	case types.Forward, types.ForwardTransitive:
		return isForwardCompatible(oldSchema, newSchema)
	case types.Full, types.FullTransitive:
		ok, err := isBackwardCompatible(oldSchema, newSchema)
		if err != nil || !ok {
			return false, err
		}
		return isForwardCompatible(oldSchema, newSchema)
	default:
		return false, fmt.Errorf("unsupported compatibility level: %s", level)
	}
}

type fieldInfo struct {
	required bool
	schema   avro.Schema
}

// isBackwardCompatible reports whether a reader using newSchema can read data
// written with oldSchema: every required field of oldSchema must still exist,
// with a type newSchema can read.
func isBackwardCompatible(oldSchema, newSchema avro.Schema) (bool, error) {
	oldFields := recordFields(oldSchema)
	newFields := recordFields(newSchema)

	for name, oldField := range oldFields {
		newField, exists := newFields[name]
		if !exists {
			if oldField.required {
				return false, nil // required field was removed
			}
			continue
		}
		if !isTypeCompatible(oldField.schema, newField.schema) {
			return false, nil
		}
		if !oldField.required && newField.required {
			return false, nil // field became required
		}
	}
	return true, nil
}

// isForwardCompatible reports whether a reader using oldSchema can read data
// written with newSchema.
func isForwardCompatible(oldSchema, newSchema avro.Schema) (bool, error) {
	oldFields := recordFields(oldSchema)
	newFields := recordFields(newSchema)

	for name, newField := range newFields {
		oldField, exists := oldFields[name]
		if !exists {
			if newField.required {
				return false, nil // new required field was added
			}
			continue
		}
		if !isTypeCompatible(newField.schema, oldField.schema) {
			return false, nil
		}
		if oldField.required && !newField.required {
			return false, nil // field became optional
		}
	}
	return true, nil
}

func recordFields(schema avro.Schema) map[string]fieldInfo {
	fields := make(map[string]fieldInfo)
	record, ok := schema.(*avro.RecordSchema)
	if !ok {
		return fields
	}

	for _, field := range record.Fields() {
		required := true
		fieldSchema := field.Type()

		if union, ok := field.Type().(*avro.UnionSchema); ok {
			for _, member := range union.Types() {
				if member.Type() == avro.Null {
					required = false
				} else {
					fieldSchema = member
				}
			}
		}

		fields[field.Name()] = fieldInfo{required: required, schema: fieldSchema}
	}
	return fields
}

// isTypeCompatible reports whether a reader using newSchema can read data
// written with oldSchema's type, recursing into the nested schema for
// structured types rather than stopping at the top-level type kind.
func isTypeCompatible(oldSchema, newSchema avro.Schema) bool {
	switch oldSchema.Type() {
	case avro.Null:
		return newSchema.Type() == avro.Null
	case avro.Boolean:
		return newSchema.Type() == avro.Boolean
	case avro.Int:
		return newSchema.Type() == avro.Int || newSchema.Type() == avro.Long || newSchema.Type() == avro.Float || newSchema.Type() == avro.Double
	case avro.Long:
		return newSchema.Type() == avro.Long || newSchema.Type() == avro.Float || newSchema.Type() == avro.Double
	case avro.Float:
		return newSchema.Type() == avro.Float || newSchema.Type() == avro.Double
	case avro.Double:
		return newSchema.Type() == avro.Double
	case avro.Bytes:
		return newSchema.Type() == avro.Bytes || newSchema.Type() == avro.String
	case avro.String:
		return newSchema.Type() == avro.String
	case avro.Array:
		newArray, ok := newSchema.(*avro.ArraySchema)
		if !ok {
			return false
		}
		return isTypeCompatible(oldSchema.(*avro.ArraySchema).Items(), newArray.Items())
	case avro.Map:
		newMap, ok := newSchema.(*avro.MapSchema)
		if !ok {
			return false
		}
		return isTypeCompatible(oldSchema.(*avro.MapSchema).Values(), newMap.Values())
	case avro.Record:
		newRecord, ok := newSchema.(*avro.RecordSchema)
		if !ok {
			return false
		}
		ok, err := isBackwardCompatible(oldSchema, newRecord)
		return ok && err == nil
	case avro.Enum:
		newEnum, ok := newSchema.(*avro.EnumSchema)
		if !ok {
			return false
		}
		allowed := make(map[string]bool, len(newEnum.Symbols()))
		for _, s := range newEnum.Symbols() {
			allowed[s] = true
		}
		for _, s := range oldSchema.(*avro.EnumSchema).Symbols() {
			if !allowed[s] {
				return false
			}
		}
		return true
	case avro.Union:
		newUnion, ok := newSchema.(*avro.UnionSchema)
		if !ok {
			return false
		}
		allowed := make([]avro.Schema, len(newUnion.Types()))
		copy(allowed, newUnion.Types())
		for _, oldMember := range oldSchema.(*avro.UnionSchema).Types() {
			found := false
			for _, newMember := range allowed {
				if isTypeCompatible(oldMember, newMember) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return false
	}
}
