package declarations

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Gnonpi/anyblok/pkg/authz"
)

// ErrContextClosed is returned when a declaration context is used after its
// blok's declaration phase ended.
var ErrContextClosed = errors.New("declaration context closed")

// Context is the write handle a blok's declaration code receives. It is
// scoped to exactly one blok and becomes unusable once the declaration
// phase ends, so a failing blok can never leak writes into another blok's
// record.
type Context struct {
	store  *Store
	blok   string
	record *BlokRecord
	closed bool
}

// Blok returns the name of the blok the context is scoped to.
func (c *Context) Blok() string { return c.blok }

// Close ends the declaration phase. Further writes fail with
// ErrContextClosed. Close is idempotent.
func (c *Context) Close() { c.closed = true }

// AddCore appends a core fragment under the blok for the given kind.
func (c *Context) AddCore(kind CoreKind, frag *Fragment) error {
	if c.closed {
		return ErrContextClosed
	}
	if _, ok := c.record.cores[kind]; !ok {
		return fmt.Errorf("unknown core kind %q", kind)
	}
	c.record.cores[kind] = append(c.record.cores[kind], frag)
	return nil
}

// RemoveCore removes an exact core fragment. Removing a fragment that was
// never added is a silent no-op, mirroring the lookup-miss policy of the
// whole ledger.
func (c *Context) RemoveCore(kind CoreKind, frag *Fragment) {
	if c.closed {
		return
	}
	frags := c.record.cores[kind]
	if i := slices.Index(frags, frag); i >= 0 {
		c.record.cores[kind] = slices.Delete(frags, i, i+1)
	}
}

// AddEntry records a fragment under (entryType, key). The fragment is
// inserted at the front of the key's base list — most recently declared
// first, the same order as inheritance resolution — and its properties are
// merged into the key's property map, last declaration winning. The key is
// appended to the blok's ordered key list on first sight.
func (c *Context) AddEntry(entryType, key string, frag *Fragment) error {
	if c.closed {
		return ErrContextClosed
	}
	decl, ok := c.record.entries[entryType]
	if !ok {
		return fmt.Errorf("unknown entry type %q", entryType)
	}

	rec, ok := decl.records[key]
	if !ok {
		rec = &EntryRecord{Properties: map[string]any{}}
		decl.records[key] = rec
	}
	for name, value := range frag.Properties {
		rec.Properties[name] = value
	}
	rec.Bases = append([]*Fragment{frag}, rec.Bases...)

	if !slices.Contains(decl.keys, key) {
		decl.keys = append(decl.keys, key)
	}
	return nil
}

// RemoveEntry removes an exact fragment from (entryType, key). A miss is a
// silent no-op.
func (c *Context) RemoveEntry(entryType, key string, frag *Fragment) {
	if c.closed {
		return
	}
	decl, ok := c.record.entries[entryType]
	if !ok {
		return
	}
	rec, ok := decl.records[key]
	if !ok {
		return
	}
	if i := slices.Index(rec.Bases, frag); i >= 0 {
		rec.Bases = slices.Delete(rec.Bases, i, i+1)
	}
}

// AssociatePolicy records that the policy governs the model, optionally for
// one permission only. An empty permission declares the model default. A
// later blok's association for the same key overrides an earlier blok's.
func (c *Context) AssociatePolicy(model, permission string, policy authz.Policy) error {
	if c.closed {
		return ErrContextClosed
	}
	c.record.associations[authz.Association{Model: model, Permission: permission}] = policy
	return nil
}
