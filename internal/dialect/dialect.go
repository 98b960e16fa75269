// Package dialect abstracts the format-specific schema parser and
// compatibility checker the registration algorithm calls out to
// (SPEC_FULL.md §D.3, spec.md's SchemaDialect capability). Each supported
// schema.SchemaType has its own Dialect implementation in a subpackage.
package dialect

import (
	"fmt"

	"schemaregistry/internal/types"
)

// Dialect parses a schema string into its canonical form and decides
// compatibility between two canonical forms under a named policy.
type Dialect interface {
	// Canonicalize parses text and returns its canonical textual form.
	// Equal schemas under this dialect have equal canonical forms. Returns
	// an error if text does not parse as a valid schema of this dialect.
	Canonicalize(text string) (string, error)

	// IsCompatible reports whether newer is compatible with older under
	// level. Both arguments are canonical forms previously returned by
	// Canonicalize.
	IsCompatible(level types.CompatibilityLevel, newer, older string) (bool, error)
}

// Registry looks up the Dialect registered for a schema.SchemaType.
type Registry struct {
	dialects map[types.SchemaType]Dialect
}

// NewRegistry builds an empty Registry; use Register to populate it.
func NewRegistry() *Registry {
	return &Registry{dialects: make(map[types.SchemaType]Dialect)}
}

// Register associates d with t, overwriting any prior registration.
func (r *Registry) Register(t types.SchemaType, d Dialect) {
	r.dialects[t] = d
}

// For returns the Dialect registered for t.
func (r *Registry) For(t types.SchemaType) (Dialect, error) {
	d, ok := r.dialects[t]
	if !ok {
		return nil, fmt.Errorf("dialect: no dialect registered for schema type %q", t)
	}
	return d, nil
}
