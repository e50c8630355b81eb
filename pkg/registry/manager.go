package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/declarations"
)

// Manager is the registry-of-registries: one Registry per database
// identifier, built on first request and cached on full success only.
// Assembly for one database runs under the manager lock, so a reload never
// races an in-flight build.
type Manager struct {
	mu         sync.Mutex
	store      *declarations.Store
	bloks      *blok.Manager
	connector  Connector
	scope      ScopeFunc
	install    []string
	logger     *slog.Logger
	registries map[string]*Registry
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithScope sets the session scoping function handed to every registry
// build.
func WithScope(scope ScopeFunc) ManagerOption {
	return func(m *Manager) { m.scope = scope }
}

// WithInstall adds bloks to the to-load set of every build, on top of the
// auto-install bloks and the bloks already recorded as installed in the
// database. Loaded bloks are marked installed afterwards, so the addition
// is persistent per database.
func WithInstall(names ...string) ManagerOption {
	return func(m *Manager) { m.install = append(m.install, names...) }
}

// NewManager creates a registry manager over a declaration store, a blok
// manager and a database connector.
func NewManager(store *declarations.Store, bloks *blok.Manager, connector Connector, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		bloks:      bloks,
		connector:  connector,
		logger:     slog.Default(),
		registries: map[string]*Registry{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the registry for a database, building it on first request.
// A failed build caches nothing: the caller retries the whole Get.
func (m *Manager) Get(dbName string) (*Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.registries[dbName]; ok {
		return r, nil
	}

	r, err := newRegistry(dbName, m.store, m.bloks, m.connector, m.scope, m.install, m.logger)
	if err != nil {
		return nil, fmt.Errorf("building registry for %s: %w", dbName, err)
	}
	m.registries[dbName] = r
	return r, nil
}

// Clear closes and evicts every cached registry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dbName, r := range m.registries {
		r.Close()
		delete(m.registries, dbName)
	}
}

// Reload re-executes the blok's declaration code under a fresh context,
// then closes and evicts every registry whose installed-blok set contains
// it. The next Get for those databases rebuilds from scratch against the
// new declarations.
func (m *Manager) Reload(blokName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.bloks.RunDeclarations(m.store, blokName); err != nil {
		return err
	}

	for dbName, r := range m.registries {
		installed, err := r.InstalledBloks()
		if err != nil {
			return fmt.Errorf("inspecting registry %s: %w", dbName, err)
		}
		for _, name := range installed {
			if name == blokName {
				r.Close()
				delete(m.registries, dbName)
				m.logger.Info("registry evicted for reload", "db", dbName, "blok", blokName)
				break
			}
		}
	}
	return nil
}
