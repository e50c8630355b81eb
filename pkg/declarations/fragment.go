package declarations

import (
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// Fragment is one partial class definition contributed by a blok: a set of
// declared fields, plain properties, and the registry names of other
// namespaces it inherits from. Several bloks contribute fragments under the
// same namespace key; the registry folds them into one composed model.
//
// A fragment is immutable once handed to a declaration context.
type Fragment struct {
	// Name labels the fragment for diagnostics. It carries no semantics.
	Name string

	// Bases lists cross-namespace parents by registry name, e.g.
	// "Mixin.IOMixin". They are resolved recursively at synthesis time.
	Bases []string

	// Fields maps attribute name to its field descriptor. A model namespace
	// with at least one field anywhere in its effective base chain becomes
	// storage-backed.
	Fields map[string]fields.Field

	// Properties are plain values merged into the namespace, e.g.
	// "tablename". A property shadows a field of the same name.
	Properties map[string]any
}
