// Package protobuf implements dialect.Dialect for schemas expressed as a
// serialized FileDescriptorProto (JSON-encoded), using
// google.golang.org/protobuf's descriptor reflection.
package protobuf

import (
	"fmt"

	"schemaregistry/internal/types"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Dialect canonicalizes and compares protobuf schemas expressed as
// protojson-encoded FileDescriptorProto messages.
type Dialect struct{}

// New builds a protobuf Dialect.
func New() *Dialect { return &Dialect{} }

// Canonicalize parses text as a FileDescriptorProto and returns its
// deterministic protojson encoding.
func (d *Dialect) Canonicalize(text string) (string, error) {
	fileDesc, err := parse(text)
	if err != nil {
		return "", err
	}
	fileProto := protodesc.ToFileDescriptorProto(fileDesc)
	canonical, err := protojson.MarshalOptions{}.Marshal(fileProto)
	if err != nil {
		return "", fmt.Errorf("marshal canonical protobuf schema: %w", err)
	}
	return string(canonical), nil
}

func parse(text string) (protoreflect.FileDescriptor, error) {
	var fileDescProto descriptorpb.FileDescriptorProto
	if err := protojson.Unmarshal([]byte(text), &fileDescProto); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	// A fresh, private registry keeps independently-registered subjects from
	// colliding on shared proto package names.
	fileDesc, err := protodesc.NewFile(&fileDescProto, nil)
	if err != nil {
		return nil, fmt.Errorf("create file descriptor: %w", err)
	}
	return fileDesc, nil
}

// IsCompatible compares the first message type declared in each schema.
func (d *Dialect) IsCompatible(level types.CompatibilityLevel, newer, older string) (bool, error) {
	oldFile, err := parse(older)
	if err != nil {
		return false, fmt.Errorf("parse older schema: %w", err)
	}
	newFile, err := parse(newer)
	if err != nil {
		return false, fmt.Errorf("parse newer schema: %w", err)
	}

	if oldFile.Messages().Len() == 0 {
		return false, fmt.Errorf("no message type found in older schema")
	}
	if newFile.Messages().Len() == 0 {
		return false, fmt.Errorf("no message type found in newer schema")
	}
	oldMessage := oldFile.Messages().Get(0)
	newMessage := newFile.Messages().Get(0)

	switch level {
	case types.None:
		return true, nil
	case types.Backward, types.BackwardTransitive:
		return isBackwardCompatible(oldMessage, newMessage)
	case types.Forward, types.ForwardTransitive:
		return isForwardCompatible(oldMessage, newMessage)
	case types.Full, types.FullTransitive:
		ok, err := isBackwardCompatible(oldMessage, newMessage)
		if err != nil || !ok {
			return false, err
		}
		return isForwardCompatible(oldMessage, newMessage)
	default:
		return false, fmt.Errorf("unsupported compatibility level: %s", level)
	}
}

type fieldInfo struct {
	required bool
	kind     string
}

func isBackwardCompatible(oldMessage, newMessage protoreflect.MessageDescriptor) (bool, error) {
	oldFields := fields(oldMessage)
	newFields := fields(newMessage)

	for name, oldField := range oldFields {
		newField, exists := newFields[name]
		if !exists {
			if oldField.required {
				return false, nil // required field was removed
			}
			continue
		}
		if !isTypeCompatible(oldField.kind, newField.kind) {
			return false, nil
		}
		if !oldField.required && newField.required {
			return false, nil // field became required
		}
	}
	return true, nil
}

func isForwardCompatible(oldMessage, newMessage protoreflect.MessageDescriptor) (bool, error) {
	oldFields := fields(oldMessage)
	newFields := fields(newMessage)

	for name, newField := range newFields {
		oldField, exists := oldFields[name]
		if !exists {
			if newField.required {
				return false, nil // new required field was added
			}
			continue
		}
		if !isTypeCompatible(newField.kind, oldField.kind) {
			return false, nil
		}
		if oldField.required && !newField.required {
			return false, nil // field became optional
		}
	}
	return true, nil
}

func fields(message protoreflect.MessageDescriptor) map[string]fieldInfo {
	out := make(map[string]fieldInfo, message.Fields().Len())
	for i := 0; i < message.Fields().Len(); i++ {
		field := message.Fields().Get(i)
		out[string(field.Name())] = fieldInfo{
			required: field.Cardinality() == protoreflect.Required,
			kind:     field.Kind().String(),
		}
	}
	return out
}

func isTypeCompatible(oldKind, newKind string) bool {
	switch oldKind {
	case "double":
		return newKind == "double"
	case "float":
		return newKind == "float" || newKind == "double"
	case "int32", "sint32":
		return newKind == oldKind || newKind == "int64" || newKind == "sint64"
	case "int64", "sint64":
		return newKind == oldKind
	case "uint32":
		return newKind == "uint32" || newKind == "uint64"
	case "uint64":
		return newKind == "uint64"
	case "fixed32":
		return newKind == "fixed32" || newKind == "fixed64" || newKind == "uint32" || newKind == "uint64"
	case "fixed64":
		return newKind == "fixed64" || newKind == "uint64"
	case "sfixed32":
		return newKind == "sfixed32" || newKind == "sfixed64" || newKind == "int32" || newKind == "int64"
	case "sfixed64":
		return newKind == "sfixed64" || newKind == "int64"
	case "bool", "string", "bytes", "enum", "message", "group":
		return newKind == oldKind
	default:
		return false
	}
}
