package store

import "schemaregistry/internal/types"

// ValueKind discriminates the tagged-union variants of a registry value.
type ValueKind string

const (
	ValueKindSchema ValueKind = "SCHEMA"
	ValueKindConfig ValueKind = "CONFIG"
)

// Value is the sum type for everything that can appear as a value in the
// materialized view: SchemaValue or ConfigValue.
type Value interface {
	Kind() ValueKind
}

// SchemaValue is the durable record for one registered schema version.
type SchemaValue struct {
	Subject    string
	Version    int32
	ID         int32
	Schema     string
	SchemaType types.SchemaType
	Deleted    bool
}

func (SchemaValue) Kind() ValueKind { return ValueKindSchema }

// ConfigValue carries the compatibility level stored at a ConfigKey. The
// latest ConfigValue written for a given key wins in the materialized view.
type ConfigValue struct {
	Level types.CompatibilityLevel
}

func (ConfigValue) Kind() ValueKind { return ValueKindConfig }
