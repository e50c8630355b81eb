// Package registry implements the registry assembly engine: it folds the
// per-blok declarations into merged namespaces, synthesizes one composed
// model record per namespace key, wires storage-backed models into the
// database schema and exposes the result behind a Registry facade bound to
// a live connection.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Gnonpi/anyblok/pkg/authz"
	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// SystemBlokModel is the namespace of the installed-blok bookkeeping model
// declared by the core blok.
const SystemBlokModel = "Model.System.Blok"

// Connector opens the storage engine connection for a database name. The
// config package provides a URL-driven implementation.
type Connector func(dbName string) (*gorm.DB, error)

// Registry is the composed object registry for one database: the
// synthesized namespace tree, the models cache, and the scoped session
// factory, all bound to one engine connection. Once built, its tree and
// models are immutable and safe for concurrent reads.
type Registry struct {
	dbName string
	logger *slog.Logger
	engine *gorm.DB

	store *declarations.Store
	bloks *blok.Manager

	loadedNamespaces map[string]*Model
	modelOrder       []string
	tree             *Namespace
	ordered          []string

	install      []string
	sessionCores []*declarations.Fragment
	sessions     *sessionFactory

	policies map[authz.Association]authz.Policy

	refFrag *declarations.Fragment
	closed  bool
}

func newRegistry(dbName string, store *declarations.Store, bloks *blok.Manager, connector Connector, scope ScopeFunc, install []string, logger *slog.Logger) (*Registry, error) {
	engine, err := connector(dbName)
	if err != nil {
		return nil, fmt.Errorf("connecting database %s: %w", dbName, err)
	}

	r := &Registry{
		dbName:           dbName,
		logger:           logger.With("db", dbName),
		engine:           engine,
		store:            store.Snapshot(),
		bloks:            bloks,
		loadedNamespaces: map[string]*Model{},
		install:          install,
		tree:             &Namespace{name: ""},
		refFrag:          &declarations.Fragment{Name: "RegistryBase"},
	}

	if err := r.load(scope); err != nil {
		r.dispose()
		return nil, err
	}
	return r, nil
}

// load runs the whole assembly: blok loading, namespace synthesis, schema
// binding, session factory, install-state bookkeeping, and policy
// assembly. Any failure aborts the build; the caller never caches a
// partially built registry.
func (r *Registry) load(scope ScopeFunc) error {
	b := newBuildState(r)

	for _, name := range b.toLoad() {
		if _, err := b.loadBlok(name); err != nil {
			return fmt.Errorf("loading blok %s: %w", name, err)
		}
	}

	for _, namespace := range b.modelNames {
		if _, _, err := b.resolveNamespace(namespace); err != nil {
			return fmt.Errorf("synthesizing namespace %s: %w", namespace, err)
		}
	}

	r.ordered = b.ordered
	r.sessionCores = b.loadedCores[declarations.CoreSession]

	if err := r.materializeColumns(); err != nil {
		return err
	}
	// Several processes may build against the same database at once; only
	// one of them runs the schema pass at a time.
	if err := newSchemaLocker(r.engine).WithLock(context.Background(), r.createSchema); err != nil {
		return err
	}
	r.sessions = newSessionFactory(r, scope, r.sessionProperties())

	if err := r.applyBlokBookkeeping(); err != nil {
		return err
	}

	r.assemblePolicies()
	r.logger.Info("registry loaded", "bloks", len(r.ordered), "namespaces", len(r.loadedNamespaces))
	return nil
}

// refFragment is the registry-back-reference base appended to every
// composed model.
func (r *Registry) refFragment() *declarations.Fragment { return r.refFrag }

// materializeColumns resolves every discovered field into its storage
// column, once per field per storage-backed model. It runs after all
// namespaces are synthesized so relation fields can resolve forward
// references.
func (r *Registry) materializeColumns() error {
	for _, key := range r.modelOrder {
		m := r.loadedNamespaces[key]
		if !m.Storage {
			continue
		}
		for _, name := range m.fieldOrder {
			col, err := m.Fields[name].Materialize(r, m.TableName, name, m.Properties)
			if err != nil {
				return fmt.Errorf("materializing %s.%s: %w", key, name, err)
			}
			m.Columns = append(m.Columns, col)
		}
	}
	return nil
}

// TableFor implements fields.Registry.
func (r *Registry) TableFor(registryName string) (string, bool) {
	m, ok := r.loadedNamespaces[registryName]
	if !ok || !m.Storage {
		return "", false
	}
	return m.TableName, true
}

// PrimaryKeyFor implements fields.Registry.
func (r *Registry) PrimaryKeyFor(registryName string) (fields.Column, bool) {
	m, ok := r.loadedNamespaces[registryName]
	if !ok || !m.Storage {
		return fields.Column{}, false
	}
	for _, name := range m.fieldOrder {
		pk, ok := m.Fields[name].(fields.PrimaryKeyed)
		if !ok || !pk.IsPrimaryKey() {
			continue
		}
		col, err := m.Fields[name].Materialize(r, m.TableName, name, m.Properties)
		if err != nil {
			return fields.Column{}, false
		}
		return col, true
	}
	return fields.Column{}, false
}

// DBName returns the database identifier the registry is bound to.
func (r *Registry) DBName() string { return r.dbName }

// Engine returns the storage engine handle.
func (r *Registry) Engine() *gorm.DB { return r.engine }

// LoadedBloks returns the blok load order of this build.
func (r *Registry) LoadedBloks() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ModelNames returns the synthesized namespace keys in synthesis order.
func (r *Registry) ModelNames() []string {
	out := make([]string, len(r.modelOrder))
	copy(out, r.modelOrder)
	return out
}

// Model returns the composed model for a namespace key.
func (r *Registry) Model(registryName string) (*Model, error) {
	m, ok := r.loadedNamespaces[registryName]
	if !ok {
		return nil, &NamespaceNotLoadedError{Namespace: registryName}
	}
	return m, nil
}

// Lookup resolves a dotted path with the two-tier rule: the namespace tree
// first (composed models and containers), then the session facade. Session
// access before the registry finished loading fails with
// ErrSessionNotInitialized.
func (r *Registry) Lookup(path string) (any, error) {
	if node, ok := lookupNode(r.tree, path); ok {
		return node, nil
	}
	if path == "session" {
		return r.Session()
	}
	return nil, &NamespaceNotLoadedError{Namespace: path}
}

// Session returns the session for the current scope, creating it on first
// use.
func (r *Registry) Session() (*Session, error) {
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if r.sessions == nil {
		return nil, ErrSessionNotInitialized
	}
	return r.sessions.session()
}

// Query opens a query on a model through the current scoped session.
func (r *Registry) Query(registryName string) (*gorm.DB, error) {
	m, err := r.Model(registryName)
	if err != nil {
		return nil, err
	}
	s, err := r.Session()
	if err != nil {
		return nil, err
	}
	return s.Query(m), nil
}

// Close tears the registry down: active sessions are rolled back and the
// engine connection is disposed. Close is best-effort and consistent about
// it: failures are logged and swallowed.
func (r *Registry) Close() {
	if r.closed {
		return
	}
	r.closed = true
	if r.sessions != nil {
		r.sessions.closeAll()
	}
	r.dispose()
	r.logger.Info("registry closed")
}

func (r *Registry) dispose() {
	sqlDB, err := r.engine.DB()
	if err != nil {
		r.logger.Warn("engine dispose failed", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		r.logger.Warn("connection close failed", "error", err)
	}
}
