package registry

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// mergedNamespace accumulates one namespace key across bloks: the ordered
// base-fragment list and the merged property map.
type mergedNamespace struct {
	bases      []*declarations.Fragment
	properties map[string]any
}

// buildState carries one registry build from blok loading to model
// synthesis. It works on a snapshot of the declaration store, so nothing a
// build does can leak back into the live ledger.
type buildState struct {
	reg      *Registry
	snapshot *declarations.Store

	merged      map[string]*mergedNamespace
	modelNames  []string
	loadedCores map[declarations.CoreKind][]*declarations.Fragment
	ordered     []string

	// inProgress marks namespaces being resolved, to detect true
	// cross-namespace cycles instead of recursing forever.
	inProgress map[string]bool
}

func newBuildState(r *Registry) *buildState {
	b := &buildState{
		reg:         r,
		snapshot:    r.store,
		merged:      map[string]*mergedNamespace{},
		loadedCores: map[declarations.CoreKind][]*declarations.Fragment{},
		inProgress:  map[string]bool{},
	}
	for _, kind := range declarations.CoreKinds {
		b.loadedCores[kind] = nil
	}
	return b
}

// toLoad computes the blok set for this build: bloks recorded as installed
// (or pending install/update) in the database, plus every auto-install
// blok. Iteration order is name-sorted; the effective load order comes from
// dependency resolution, not from this set.
func (b *buildState) toLoad() []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, name := range b.reg.installedFromDatabase() {
		set.Add(name)
	}
	for _, name := range b.reg.bloks.AutoInstall() {
		set.Add(name)
	}
	for _, name := range b.reg.install {
		set.Add(name)
	}
	names := set.ToSlice()
	sort.Strings(names)
	return names
}

// loadBlok resolves the blok's dependencies and folds its declarations into
// the build. It returns false when the blok cannot be found; already-loaded
// bloks short-circuit to true. The short-circuit also truncates mutual
// requirements instead of reporting them.
func (b *buildState) loadBlok(name string) (bool, error) {
	if slices.Contains(b.ordered, name) {
		return true, nil
	}

	desc, ok := b.reg.bloks.Get(name)
	if !ok {
		return false, nil
	}
	// A blok known to the manager but whose declarations never ran is as
	// unloadable as an unknown one. Both checks are kept distinct on
	// purpose: the first means "not installed", this one "not declared".
	if !b.snapshot.HasBlok(name) {
		return false, nil
	}

	for _, required := range desc.Required {
		ok, err := b.loadBlok(required)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%w: %s (required by %s)", ErrRequiredBlokMissing, required, name)
		}
	}

	for _, optional := range desc.Optional {
		// A missing optional blok is swallowed; deeper configuration
		// errors still propagate.
		if _, err := b.loadBlok(optional); err != nil {
			return false, err
		}
	}

	record, _ := b.snapshot.Blok(name)
	b.loadCores(record)
	if err := b.loadEntries(record); err != nil {
		return false, err
	}

	b.ordered = append(b.ordered, name)
	b.reg.logger.Debug("blok loaded", "blok", name)
	return true, nil
}

// loadCores folds the blok's core fragments: within-blok declaration order
// is preserved and the whole block is prepended ahead of the cores of bloks
// loaded earlier, so the latest-loaded blok's cores come first.
func (b *buildState) loadCores(record *declarations.BlokRecord) {
	for _, kind := range declarations.CoreKinds {
		frags := record.Cores(kind)
		if len(frags) == 0 {
			continue
		}
		b.loadedCores[kind] = append(slices.Clone(frags), b.loadedCores[kind]...)
	}
}

// loadEntries folds the blok's entry records, one entry type at a time, in
// the blok's key registration order. For each key the blok's just-recorded
// bases are placed before the previously accumulated ones: fragments from
// bloks loaded later take precedence in attribute resolution. Properties
// merge as a plain update, so later bloks win per property name.
func (b *buildState) loadEntries(record *declarations.BlokRecord) error {
	for _, et := range b.snapshot.EntryTypes() {
		for _, key := range record.Keys(et.Name) {
			rec, ok := record.Entry(et.Name, key)
			if !ok {
				continue
			}

			ns, ok := b.merged[key]
			if !ok {
				ns = &mergedNamespace{properties: map[string]any{}}
				b.merged[key] = ns
			}
			for name, value := range rec.Properties {
				ns.properties[name] = value
			}
			old := ns.bases
			ns.bases = append(slices.Clone(rec.Bases), old...)

			if !et.MustBeLoaded {
				continue
			}
			if et.Name == declarations.EntryModel {
				if !slices.Contains(b.modelNames, key) {
					b.modelNames = append(b.modelNames, key)
				}
			} else if et.OnLoad != nil {
				et.OnLoad(key)
			}
		}
	}
	return nil
}

// resolveNamespace resolves one namespace into its effective base-fragment
// list and property remainder, memoized through the registry's synthesized
// models: an already-synthesized model resolves to a one-element reference
// list with no remainder.
//
// Cross-namespace parents are resolved depth-first per base, accumulating
// left to right; the caller's already-accumulated properties take
// precedence over properties resolved from parents.
func (b *buildState) resolveNamespace(key string) ([]*declarations.Fragment, map[string]any, error) {
	if m, ok := b.reg.loadedNamespaces[key]; ok {
		return []*declarations.Fragment{m.refFrag}, map[string]any{}, nil
	}
	if b.inProgress[key] {
		return nil, nil, fmt.Errorf("%w: %s", ErrNamespaceCycle, key)
	}
	ns, ok := b.merged[key]
	if !ok {
		return nil, nil, &NamespaceNotLoadedError{Namespace: key}
	}

	b.inProgress[key] = true
	defer delete(b.inProgress, key)

	var bases []*declarations.Fragment
	properties := map[string]any{}

	for _, frag := range ns.bases {
		bases = append(bases, frag)
		mergeUnder(properties, ns.properties)

		for _, parent := range frag.Bases {
			parentBases, parentProps, err := b.resolveNamespace(parent)
			if err != nil {
				return nil, nil, err
			}
			bases = append(bases, parentBases...)
			mergeUnder(properties, parentProps)
		}
	}

	if slices.Contains(b.modelNames, key) {
		model, err := b.synthesizeModel(key, bases, properties)
		if err != nil {
			return nil, nil, err
		}
		// Storage-backed or not, the model consumed its properties; the
		// remainder must not leak to dependents.
		return []*declarations.Fragment{model.refFrag}, map[string]any{}, nil
	}

	return bases, properties, nil
}

// mergeUnder merges src into dst without overwriting keys dst already
// holds.
func mergeUnder(dst, src map[string]any) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

// synthesizeModel builds the composed model record for a namespace
// registered as a Model. Storage mapping is an opt-in side effect of
// finding at least one field descriptor anywhere in the effective base
// chain: with fields, the SqlBase cores join the composition and every
// discovered field becomes a column unless shadowed by a plain property;
// without fields, the model stays a plain composed record. The Base cores
// and the registry back-reference apply unconditionally.
func (b *buildState) synthesizeModel(key string, bases []*declarations.Fragment, properties map[string]any) (*Model, error) {
	tableName := tableNameFor(key)
	if v, ok := properties["tablename"].(string); ok && v != "" {
		tableName = v
	}

	// Storage mapping opts in on the presence of any field descriptor in the
	// effective base chain. Shadowing by a plain property suppresses the
	// column, never the detection.
	storage := false
	fieldSet := map[string]fields.Field{}
	var fieldOrder []string
	for _, frag := range bases {
		if len(frag.Fields) > 0 {
			storage = true
		}
		for _, name := range sortedFieldNames(frag.Fields) {
			if _, ok := fieldSet[name]; ok {
				continue
			}
			if _, ok := properties[name]; ok {
				// A plain property shadows the field.
				continue
			}
			fieldSet[name] = frag.Fields[name]
			fieldOrder = append(fieldOrder, name)
		}
	}

	if storage {
		bases = append(bases, b.loadedCores[declarations.CoreSqlBase]...)
	}
	bases = append(bases, b.loadedCores[declarations.CoreBase]...)
	bases = append(bases, b.reg.refFragment())

	model := &Model{
		RegistryName: key,
		TableName:    tableName,
		Storage:      storage,
		Bases:        dedupFragments(bases),
		Properties:   properties,
		Fields:       fieldSet,
		fieldOrder:   fieldOrder,
		registry:     b.reg,
	}
	model.refFrag = &declarations.Fragment{Name: key}

	path := strings.Split(key, ".")
	if len(path) > 1 {
		path = path[1:]
	}
	insertNode(b.reg.tree, path, model)

	b.reg.loadedNamespaces[key] = model
	b.reg.modelOrder = append(b.reg.modelOrder, key)
	b.reg.logger.Debug("namespace synthesized", "namespace", key, "table", tableName, "storage", storage)
	return model, nil
}

// sortedFieldNames gives a deterministic discovery order for one fragment's
// declared-fields table.
func sortedFieldNames(m map[string]fields.Field) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dedupFragments(frags []*declarations.Fragment) []*declarations.Fragment {
	seen := map[*declarations.Fragment]bool{}
	out := frags[:0:0]
	for _, f := range frags {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
