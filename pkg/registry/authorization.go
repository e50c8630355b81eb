package registry

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Gnonpi/anyblok/pkg/authz"
)

// assemblePolicies merges the per-blok policy associations in load order —
// a later blok's association overrides an earlier blok's for the same key —
// then copies each policy for this registry and binds the registry on the
// copy. Policies are never shared across registries: they carry
// registry-specific state through the back-reference.
func (r *Registry) assemblePolicies() {
	merged := map[authz.Association]authz.Policy{}
	for _, name := range r.ordered {
		record, ok := r.store.Blok(name)
		if !ok {
			continue
		}
		for key, policy := range record.Associations() {
			merged[key] = policy
		}
	}

	r.policies = make(map[authz.Association]authz.Policy, len(merged))
	for key, policy := range merged {
		bound := policy.Clone()
		bound.Bind(r)
		r.policies[key] = bound
	}
}

// Policy returns the policy associated with (model, permission), falling
// back to the model's default association.
func (r *Registry) Policy(model, permission string) (authz.Policy, bool) {
	if p, ok := r.policies[authz.Association{Model: model, Permission: permission}]; ok {
		return p, true
	}
	p, ok := r.policies[authz.Association{Model: model}]
	return p, ok
}

// Check applies the model's policy to the target. The target is either a
// record or the model class itself; record-oriented policies reject class
// targets with a PolicyNotForModelClassesError.
func (r *Registry) Check(model string, target any, principals []string, permission string) (bool, error) {
	p, ok := r.Policy(model, permission)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoPolicyAssociated, model)
	}
	return p.Check(target, principals, permission)
}

// FilterQuery opens a query on the model restricted by its policy. The
// boolean is false for flat denial: no query was opened at all.
func (r *Registry) FilterQuery(model string, principals []string, permission string) (*gorm.DB, bool, error) {
	p, ok := r.Policy(model, permission)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrNoPolicyAssociated, model)
	}
	query, err := r.Query(model)
	if err != nil {
		return nil, false, err
	}
	return p.Filter(model, query, principals, permission)
}
