// Package declarations holds the process-wide ledger of class fragments
// submitted by bloks. Declarations are written through an explicit Context
// scoped to one blok, so the assembly phase never relies on ambient
// "current blok" state and can be reproduced in isolation.
package declarations

import (
	"maps"
	"slices"

	"github.com/Gnonpi/anyblok/pkg/authz"
)

// CoreKind names one of the fixed core composition targets every blok
// record carries.
type CoreKind string

const (
	CoreBase    CoreKind = "Base"
	CoreSqlBase CoreKind = "SqlBase"
	CoreSession CoreKind = "Session"
)

// CoreKinds lists the fixed core targets in composition order.
var CoreKinds = []CoreKind{CoreBase, CoreSqlBase, CoreSession}

// EntryModel is the reserved entry type whose keys drive model synthesis.
const EntryModel = "Model"

// EntryMixin is the entry type for reusable fragments that are referenced
// as bases but never synthesized on their own.
const EntryMixin = "Mixin"

// OnLoadFunc is invoked for each registered key of a must-be-loaded entry
// type while a registry folds the declaring blok.
type OnLoadFunc func(key string)

// EntryType describes one declared entry type.
type EntryType struct {
	Name         string
	MustBeLoaded bool
	OnLoad       OnLoadFunc
}

// EntryTypeOption configures DeclareEntryType.
type EntryTypeOption func(*EntryType)

// MustBeLoaded marks the entry type as one the registry folds eagerly.
func MustBeLoaded() EntryTypeOption {
	return func(e *EntryType) { e.MustBeLoaded = true }
}

// WithOnLoad registers a callback invoked per key when the entry is folded.
func WithOnLoad(fn OnLoadFunc) EntryTypeOption {
	return func(e *EntryType) { e.OnLoad = fn }
}

// EntryRecord accumulates the contributions of one blok for one namespace
// key: the ordered base fragments (most recently declared first) and the
// merged property map.
type EntryRecord struct {
	Bases      []*Fragment
	Properties map[string]any
}

type entryDecl struct {
	records map[string]*EntryRecord

	// keys preserves registration order within the blok.
	keys []string
}

// BlokRecord is the per-blok slice of the ledger.
type BlokRecord struct {
	cores        map[CoreKind][]*Fragment
	entries      map[string]*entryDecl
	associations map[authz.Association]authz.Policy
}

// Cores returns the core fragments declared by the blok for the given kind,
// in declaration order.
func (b *BlokRecord) Cores(kind CoreKind) []*Fragment {
	return b.cores[kind]
}

// Keys returns the namespace keys the blok registered for the entry type,
// in registration order.
func (b *BlokRecord) Keys(entryType string) []string {
	decl, ok := b.entries[entryType]
	if !ok {
		return nil
	}
	return decl.keys
}

// Entry returns the blok's record for one (entry type, key) pair.
func (b *BlokRecord) Entry(entryType, key string) (*EntryRecord, bool) {
	decl, ok := b.entries[entryType]
	if !ok {
		return nil, false
	}
	rec, ok := decl.records[key]
	return rec, ok
}

// Associations returns the blok's policy associations.
func (b *BlokRecord) Associations() map[authz.Association]authz.Policy {
	return b.associations
}

// Store is the declaration ledger. Writes happen through blok-scoped
// contexts during the strictly sequential assembly phase; registry builds
// consume an immutable Snapshot, never the live store.
type Store struct {
	entryTypes []EntryType
	entryIndex map[string]int
	bloks      map[string]*BlokRecord
}

// NewStore creates a ledger with the framework entry types pre-declared:
// "Model" (must be loaded, drives synthesis) and "Mixin".
func NewStore() *Store {
	s := &Store{
		entryIndex: map[string]int{},
		bloks:      map[string]*BlokRecord{},
	}
	s.DeclareEntryType(EntryModel, MustBeLoaded())
	s.DeclareEntryType(EntryMixin)
	return s
}

// DeclareEntryType registers a new entry type. Repeat declarations of the
// same name are ignored.
func (s *Store) DeclareEntryType(name string, opts ...EntryTypeOption) {
	if _, ok := s.entryIndex[name]; ok {
		return
	}
	et := EntryType{Name: name}
	for _, opt := range opts {
		opt(&et)
	}
	s.entryIndex[name] = len(s.entryTypes)
	s.entryTypes = append(s.entryTypes, et)

	// Bloks initialized before this declaration still need a keys list for
	// the new entry type.
	for _, rec := range s.bloks {
		if _, ok := rec.entries[name]; !ok {
			rec.entries[name] = &entryDecl{records: map[string]*EntryRecord{}}
		}
	}
}

// EntryTypes returns the declared entry types in declaration order.
func (s *Store) EntryTypes() []EntryType {
	return slices.Clone(s.entryTypes)
}

// HasBlok reports whether the blok has a record in the ledger.
func (s *Store) HasBlok(name string) bool {
	_, ok := s.bloks[name]
	return ok
}

// Blok returns the blok's record.
func (s *Store) Blok(name string) (*BlokRecord, bool) {
	rec, ok := s.bloks[name]
	return rec, ok
}

// InitBlok creates (or resets) the per-blok record and returns the
// declaration context scoped to it. Resetting supports blok reload: the
// fresh record replaces all previous declarations of the blok.
func (s *Store) InitBlok(name string) *Context {
	rec := &BlokRecord{
		cores:        map[CoreKind][]*Fragment{},
		entries:      map[string]*entryDecl{},
		associations: map[authz.Association]authz.Policy{},
	}
	for _, kind := range CoreKinds {
		rec.cores[kind] = nil
	}
	for _, et := range s.entryTypes {
		rec.entries[et.Name] = &entryDecl{records: map[string]*EntryRecord{}}
	}
	s.bloks[name] = rec

	return &Context{store: s, blok: name, record: rec}
}

// Snapshot returns a deep copy of the ledger's records. Fragments are
// shared: they are immutable once declared. Registry builds work on a
// snapshot so merge steps never mutate the live ledger.
func (s *Store) Snapshot() *Store {
	cp := &Store{
		entryTypes: slices.Clone(s.entryTypes),
		entryIndex: maps.Clone(s.entryIndex),
		bloks:      make(map[string]*BlokRecord, len(s.bloks)),
	}
	for name, rec := range s.bloks {
		nrec := &BlokRecord{
			cores:        make(map[CoreKind][]*Fragment, len(rec.cores)),
			entries:      make(map[string]*entryDecl, len(rec.entries)),
			associations: maps.Clone(rec.associations),
		}
		for kind, frags := range rec.cores {
			nrec.cores[kind] = slices.Clone(frags)
		}
		for entry, decl := range rec.entries {
			ndecl := &entryDecl{
				records: make(map[string]*EntryRecord, len(decl.records)),
				keys:    slices.Clone(decl.keys),
			}
			for key, er := range decl.records {
				ndecl.records[key] = &EntryRecord{
					Bases:      slices.Clone(er.Bases),
					Properties: maps.Clone(er.Properties),
				}
			}
			nrec.entries[entry] = ndecl
		}
		cp.bloks[name] = nrec
	}
	return cp
}
