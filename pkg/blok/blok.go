// Package blok defines blok descriptors and the process-wide blok manager.
// A blok is an installable unit contributing model fragments, core bases
// and policies to the registry. Bloks register themselves via init() using
// Register, and their declaration code runs against an explicit
// declarations.Context during assembly.
package blok

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Gnonpi/anyblok/pkg/declarations"
)

// State is a blok's install state in one database.
type State string

const (
	StateNotInstalled State = "not-installed"
	StateToInstall    State = "to-install"
	StateInstalled    State = "installed"
	StateToUpdate     State = "to-update"
	StateToUninstall  State = "to-uninstall"
)

// ErrDuplicateBlok is returned when two bloks register under the same name.
var ErrDuplicateBlok = errors.New("blok already registered")

// ErrUnknownBlok is returned for operations on a blok name the manager does
// not know.
var ErrUnknownBlok = errors.New("unknown blok")

// Blok describes one installable unit.
type Blok struct {
	// Name is the unique blok name, e.g. "anyblok-core".
	Name string

	// Version is informative only.
	Version string

	// Required bloks are loaded before this one; a missing required blok
	// aborts the registry build.
	Required []string

	// Optional bloks are attempted before this one; failures are swallowed.
	Optional []string

	// AutoInstall bloks are loaded into every registry.
	AutoInstall bool

	// Declare runs the blok's declaration code against the given context.
	// It is executed once at registration time and again on reload.
	Declare func(ctx *declarations.Context) error
}

// Manager is the process-wide blok catalog.
type Manager struct {
	mu    sync.RWMutex
	bloks map[string]*Blok
	order []string
}

// NewManager creates an empty blok manager.
func NewManager() *Manager {
	return &Manager{bloks: map[string]*Blok{}}
}

// Register adds a blok to the manager.
func (m *Manager) Register(b *Blok) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bloks[b.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlok, b.Name)
	}
	m.bloks[b.Name] = b
	m.order = append(m.order, b.Name)
	return nil
}

// Get returns a registered blok.
func (m *Manager) Get(name string) (*Blok, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bloks[name]
	return b, ok
}

// Names returns all registered blok names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// AutoInstall returns the names of bloks loaded into every registry, in
// registration order.
func (m *Manager) AutoInstall() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, name := range m.order {
		if m.bloks[name].AutoInstall {
			names = append(names, name)
		}
	}
	return names
}

// RunDeclarations executes the blok's declaration code against a fresh
// context in the store. The context is closed when the declaration phase
// ends, even when the declaration code fails or panics, so no stale write
// handle survives a broken blok.
func (m *Manager) RunDeclarations(store *declarations.Store, name string) (err error) {
	b, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBlok, name)
	}

	ctx := store.InitBlok(name)
	defer func() {
		ctx.Close()
		if r := recover(); r != nil {
			err = fmt.Errorf("declarations of blok %s panicked: %v", name, r)
		}
	}()

	if b.Declare == nil {
		return nil
	}
	if err := b.Declare(ctx); err != nil {
		return fmt.Errorf("declarations of blok %s: %w", name, err)
	}
	return nil
}

// RunAll executes the declaration code of every registered blok in
// registration order. Call it once after all bloks registered, before the
// first registry build.
func (m *Manager) RunAll(store *declarations.Store) error {
	for _, name := range m.Names() {
		if err := m.RunDeclarations(store, name); err != nil {
			return err
		}
	}
	return nil
}

// Default is the process-wide manager bloks register into from init().
var Default = NewManager()

// Register adds a blok to the default manager and panics on conflict, the
// conventional behavior for init()-time registration.
func Register(b *Blok) {
	if err := Default.Register(b); err != nil {
		panic(err)
	}
}
