// Package jsonschema implements dialect.Dialect for JSON Schema using
// santhosh-tekuri/jsonschema.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"schemaregistry/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Dialect canonicalizes and compares JSON Schema documents.
type Dialect struct{}

// New builds a JSON Schema Dialect.
func New() *Dialect { return &Dialect{} }

// Canonicalize compiles text (rejecting anything that isn't a valid JSON
// Schema document) and returns its minified JSON form.
func (d *Dialect) Canonicalize(text string) (string, error) {
	if _, err := compile("schema.json", text); err != nil {
		return "", fmt.Errorf("compile json schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return "", fmt.Errorf("unmarshal json schema: %w", err)
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal canonical json schema: %w", err)
	}
	return string(canonical), nil
}

func compile(resource, text string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, bytes.NewReader([]byte(text))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(resource)
}

// IsCompatible compares the top-level "properties"/"required" shape of older
// and newer: a required property may never be removed (backward) or added
// (forward), and a property's declared "type" may not change.
func (d *Dialect) IsCompatible(level types.CompatibilityLevel, newer, older string) (bool, error) {
	if _, err := compile("old.json", older); err != nil {
		return false, fmt.Errorf("compile older schema: %w", err)
	}
	if _, err := compile("new.json", newer); err != nil {
		return false, fmt.Errorf("compile newer schema: %w", err)
	}

	switch level {
	case types.None:
		return true, nil
	case types.Backward, types.BackwardTransitive:
		return isBackwardCompatible(older, newer)
	case types.Forward, types.ForwardTransitive:
		return isForwardCompatible(older, newer)
	case types.Full, types.FullTransitive:
		ok, err := isBackwardCompatible(older, newer)
		if err != nil || !ok {
			return false, err
		}
		return isForwardCompatible(older, newer)
	default:
		return false, fmt.Errorf("unsupported compatibility level: %s", level)
	}
}

type propertyInfo struct {
	required bool
	typeName string
}

func isBackwardCompatible(older, newer string) (bool, error) {
	oldProps := properties(older)
	newProps := properties(newer)

	for name, info := range oldProps {
		if info.required {
			if _, exists := newProps[name]; !exists {
				return false, nil // required property removed in new schema
			}
		}
	}
	for name, oldInfo := range oldProps {
		if newInfo, exists := newProps[name]; exists && !isTypeCompatible(oldInfo.typeName, newInfo.typeName) {
			return false, nil
		}
	}
	return true, nil
}

func isForwardCompatible(older, newer string) (bool, error) {
	oldProps := properties(older)
	newProps := properties(newer)

	for name, info := range newProps {
		if info.required {
			if _, exists := oldProps[name]; !exists {
				return false, nil // required property added in new schema
			}
		}
	}
	for name, newInfo := range newProps {
		if oldInfo, exists := oldProps[name]; exists && !isTypeCompatible(oldInfo.typeName, newInfo.typeName) {
			return false, nil
		}
	}
	return true, nil
}

func properties(schemaText string) map[string]propertyInfo {
	props := make(map[string]propertyInfo)

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(schemaText), &doc); err != nil {
		return props
	}

	required := make(map[string]bool)
	if reqList, ok := doc["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	propsMap, ok := doc["properties"].(map[string]interface{})
	if !ok {
		return props
	}
	for name, raw := range propsMap {
		propMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		typeName := "object"
		if t, ok := propMap["type"].(string); ok {
			typeName = t
		}
		props[name] = propertyInfo{required: required[name], typeName: typeName}
	}
	return props
}

func isTypeCompatible(oldType, newType string) bool {
	switch oldType {
	case "null", "boolean", "string", "array", "object":
		return newType == oldType
	case "integer":
		return newType == "integer"
	case "number":
		return newType == "number"
	default:
		return false
	}
}
