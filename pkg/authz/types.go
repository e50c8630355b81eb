// Package authz provides the authorization-policy capability for the
// registry. Authorization is checked at the edge of the system: user
// identity is never passed into the core layers. Bloks instead associate
// policies with models, and edge code calls the check and filter facilities
// that apply the relevant policy.
package authz

import (
	"fmt"

	"gorm.io/gorm"
)

// Association identifies which policy applies to a model, optionally
// narrowed to a single permission. An empty Permission makes the policy the
// default for the model.
type Association struct {
	Model      string
	Permission string
}

// Policy checks permissions on records and filters queries according to a
// permission. Policies are declared once per blok and copied per registry
// during assembly, with the owning registry bound on the copy: policies may
// carry registry-specific state through that back-reference.
type Policy interface {
	// Check reports whether one of the principals has the permission on the
	// target, which is either a record or a model class. Policies that only
	// make sense on records return PolicyNotForModelClassesError when handed
	// a class-level target.
	Check(target any, principals []string, permission string) (bool, error)

	// Filter returns the query restricted to records the principals may
	// access. The boolean is false for flat denial: no query should be
	// executed at all.
	Filter(model string, query *gorm.DB, principals []string, permission string) (*gorm.DB, bool, error)

	// Clone returns a copy of the policy suitable for binding to one
	// registry.
	Clone() Policy

	// Bind attaches the owning registry to the policy copy.
	Bind(registry any)
}

// PostFilterer is implemented by policies that cannot express the full
// permission in the query and filter fetched records one by one. Policies
// without it are assumed to filter entirely in the query, which permits
// operations such as counting.
type PostFilterer interface {
	PostFilter(record map[string]any, principals []string, permission string) (bool, error)
}

// PolicyNotForModelClassesError reports a configuration error: a
// record-oriented policy was invoked against a model class.
type PolicyNotForModelClassesError struct {
	Policy Policy
	Model  string
}

func (e *PolicyNotForModelClassesError) Error() string {
	return fmt.Sprintf("policy %T cannot be used on model class %q", e.Policy, e.Model)
}

// Base carries the registry back-reference shared by policy
// implementations. Embed it and implement the rest of the Policy interface.
type Base struct {
	Registry any
}

// Bind implements Policy.
func (b *Base) Bind(registry any) { b.Registry = registry }

// IsDeclaration reports whether the policy is still the declared prototype,
// not yet bound to a registry.
func (b *Base) IsDeclaration() bool { return b.Registry == nil }
