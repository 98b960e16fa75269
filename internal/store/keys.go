package store

import "fmt"

// KeyKind discriminates the tagged-union variants of a registry key on the
// wire. See the versioned wire form note in SPEC_FULL.md §3.
type KeyKind string

const (
	KeyKindSchema KeyKind = "SCHEMA"
	KeyKindConfig KeyKind = "CONFIG"
	KeyKindNoop   KeyKind = "NOOP"
)

// Key is the sum type for everything that can appear as a key in the
// materialized view: SchemaKey, ConfigKey, or NoopKey.
type Key interface {
	Kind() KeyKind
	// Less reports whether k orders strictly before other under the total
	// order required by I1 (subject asc, version asc); keys of different
	// kinds are ordered by kind name, which only matters for getAllKeys
	// enumeration order, not for any invariant.
	Less(other Key) bool
	String() string
}

// SchemaKey identifies one version of a subject's schema history.
type SchemaKey struct {
	Subject string
	Version int32
}

func (k SchemaKey) Kind() KeyKind { return KeyKindSchema }

func (k SchemaKey) Less(other Key) bool {
	o, ok := other.(SchemaKey)
	if !ok {
		return k.Kind() < other.Kind()
	}
	if k.Subject != o.Subject {
		return k.Subject < o.Subject
	}
	return k.Version < o.Version
}

func (k SchemaKey) String() string {
	return fmt.Sprintf("schema:%s:%d", k.Subject, k.Version)
}

// ConfigKey identifies a compatibility-level record. A nil Subject denotes
// the cluster-wide default.
type ConfigKey struct {
	Subject *string
}

func (k ConfigKey) Kind() KeyKind { return KeyKindConfig }

func (k ConfigKey) Less(other Key) bool {
	o, ok := other.(ConfigKey)
	if !ok {
		return k.Kind() < other.Kind()
	}
	switch {
	case k.Subject == nil && o.Subject == nil:
		return false
	case k.Subject == nil:
		return true
	case o.Subject == nil:
		return false
	default:
		return *k.Subject < *o.Subject
	}
}

func (k ConfigKey) String() string {
	if k.Subject == nil {
		return "config:*global*"
	}
	return "config:" + *k.Subject
}

// NoopKey is a synthetic key appended solely to mark a readback offset during
// bootstrap; it never appears in any materialized index.
type NoopKey struct {
	Nonce string
}

func (k NoopKey) Kind() KeyKind { return KeyKindNoop }

func (k NoopKey) Less(other Key) bool {
	o, ok := other.(NoopKey)
	if !ok {
		return k.Kind() < other.Kind()
	}
	return k.Nonce < o.Nonce
}

func (k NoopKey) String() string { return "noop:" + k.Nonce }
