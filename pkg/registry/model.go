package registry

import (
	"slices"
	"strings"

	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// Node is a resolvable entry in the namespace tree: either a composed model
// or an intermediate container.
type Node interface {
	NodeName() string
	Child(name string) (Node, bool)
	Children() []string
}

// Model is the composed record synthesized for one namespace key. It is the
// arena variant of a dynamically built class: storage-backed when at least
// one field descriptor appears in its effective base chain, plain
// otherwise. Models are immutable for the lifetime of their registry.
type Model struct {
	// RegistryName is the full namespace key, e.g. "Model.System.Blok".
	RegistryName string

	// TableName is the derived (or configured) table name. It is only
	// meaningful for storage-backed models.
	TableName string

	// Storage reports whether the model is bound to a table.
	Storage bool

	// Bases is the final effective base-fragment order: fragments from
	// bloks loaded later precede fragments from bloks loaded earlier.
	Bases []*declarations.Fragment

	// Properties are the plain merged properties.
	Properties map[string]any

	// Fields maps attribute name to the field descriptor it was discovered
	// from. Field discovery order is preserved in fieldOrder.
	Fields map[string]fields.Field

	// Columns are the materialized storage columns, in field discovery
	// order. Populated during schema binding.
	Columns []fields.Column

	registry   *Registry
	fieldOrder []string
	refFrag    *declarations.Fragment

	childNames []string
	children   map[string]Node
}

// Registry returns the registry the model was synthesized for.
func (m *Model) Registry() *Registry { return m.registry }

// Property returns a merged plain property.
func (m *Model) Property(name string) (any, bool) {
	v, ok := m.Properties[name]
	return v, ok
}

// Column returns the materialized column for an attribute name.
func (m *Model) Column(name string) (fields.Column, bool) {
	for _, col := range m.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return fields.Column{}, false
}

// FieldNames returns the discovered field names in discovery order.
func (m *Model) FieldNames() []string {
	return slices.Clone(m.fieldOrder)
}

// NodeName implements Node.
func (m *Model) NodeName() string {
	parts := strings.Split(m.RegistryName, ".")
	return parts[len(parts)-1]
}

// Child implements Node: models can carry child namespaces, e.g.
// Model.System.Blok under the concrete Model.System.
func (m *Model) Child(name string) (Node, bool) {
	c, ok := m.children[name]
	return c, ok
}

// Children implements Node.
func (m *Model) Children() []string {
	return slices.Clone(m.childNames)
}

func (m *Model) addChild(n Node) {
	if m.children == nil {
		m.children = map[string]Node{}
	}
	if _, ok := m.children[n.NodeName()]; !ok {
		m.childNames = append(m.childNames, n.NodeName())
	}
	m.children[n.NodeName()] = n
}

// Namespace is an intermediate container node, created as a placeholder
// when a dotted namespace key is registered before (or without) a concrete
// model at that path.
type Namespace struct {
	name       string
	childNames []string
	children   map[string]Node
}

// NodeName implements Node.
func (n *Namespace) NodeName() string { return n.name }

// Child implements Node.
func (n *Namespace) Child(name string) (Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Children implements Node.
func (n *Namespace) Children() []string {
	return slices.Clone(n.childNames)
}

func (n *Namespace) addChild(c Node) {
	if n.children == nil {
		n.children = map[string]Node{}
	}
	if _, ok := n.children[c.NodeName()]; !ok {
		n.childNames = append(n.childNames, c.NodeName())
	}
	n.children[c.NodeName()] = c
}

type childAdder interface {
	Node
	addChild(Node)
}

// insertNode registers a model under the tree rooted at root. The path is
// the namespace key minus its entry-type segment. A pre-existing placeholder
// at the final path is taken over: its children are transplanted onto the
// model.
func insertNode(root childAdder, path []string, m *Model) {
	parent := root
	for _, seg := range path[:len(path)-1] {
		child, ok := parent.Child(seg)
		if !ok {
			ns := &Namespace{name: seg}
			parent.addChild(ns)
			parent = ns
			continue
		}
		ca, ok := child.(childAdder)
		if !ok {
			// Unreachable: both node kinds implement childAdder.
			return
		}
		parent = ca
	}

	last := path[len(path)-1]
	if prev, ok := parent.Child(last); ok {
		for _, name := range prev.Children() {
			if c, ok := prev.Child(name); ok {
				m.addChild(c)
			}
		}
	}
	parent.addChild(m)
}

// lookupNode walks a dotted path from the root.
func lookupNode(root Node, path string) (Node, bool) {
	node := root
	for _, seg := range strings.Split(path, ".") {
		child, ok := node.Child(seg)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// tableNameFor derives a table name from a namespace key: the entry-type
// segment is dropped and the rest is lowercased and joined with
// underscores. "Model.System.Blok" becomes "system_blok".
func tableNameFor(registryName string) string {
	parts := strings.Split(registryName, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "_"))
}
