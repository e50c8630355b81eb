package registry

import (
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// ScopeFunc returns the scope key the session factory hands out sessions
// by. The default scope is a single process-wide key; callers serving
// concurrent requests supply their own (per request, per job, ...) so each
// logical caller gets an independent session and transaction.
type ScopeFunc func() any

type globalScope struct{}

func defaultScope() any { return globalScope{} }

// Session is the explicit session facade: one transaction against the
// engine, carrying the properties composed from the merged Session core
// fragments.
type Session struct {
	registry *Registry
	tx       *gorm.DB
	props    map[string]any
	ended    bool
}

// Registry returns the owning registry.
func (s *Session) Registry() *Registry { return s.registry }

// Property returns a property composed from the Session core fragments.
func (s *Session) Property(name string) (any, bool) {
	v, ok := s.props[name]
	return v, ok
}

// Query opens a query on the model's table within this session.
func (s *Session) Query(m *Model) *gorm.DB {
	return s.tx.Table(m.TableName)
}

// Insert stores one record for a storage-backed model.
func (s *Session) Insert(m *Model, values map[string]any) error {
	if !m.Storage {
		return fmt.Errorf("model %s is not storage-backed", m.RegistryName)
	}
	if err := s.tx.Table(m.TableName).Create(values).Error; err != nil {
		return fmt.Errorf("inserting into %s: %w", m.TableName, err)
	}
	return nil
}

// All returns every record of a storage-backed model.
func (s *Session) All(m *Model) ([]map[string]any, error) {
	var rows []map[string]any
	if err := s.tx.Table(m.TableName).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying %s: %w", m.TableName, err)
	}
	return rows, nil
}

// Commit ends the session's transaction. The next scoped access opens a
// fresh session.
func (s *Session) Commit() error {
	s.ended = true
	return s.tx.Commit().Error
}

// Rollback aborts the session's transaction.
func (s *Session) Rollback() error {
	s.ended = true
	return s.tx.Rollback().Error
}

// sessionFactory hands out sessions keyed by the scope function.
type sessionFactory struct {
	mu       sync.Mutex
	registry *Registry
	scope    ScopeFunc
	props    map[string]any
	sessions map[any]*Session
}

func newSessionFactory(r *Registry, scope ScopeFunc, props map[string]any) *sessionFactory {
	if scope == nil {
		scope = defaultScope
	}
	return &sessionFactory{
		registry: r,
		scope:    scope,
		props:    props,
		sessions: map[any]*Session{},
	}
}

func (f *sessionFactory) session() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Ended sessions are dead weight even for scope keys never requested
	// again; drop them all before handing one out.
	for k, s := range f.sessions {
		if s.ended {
			delete(f.sessions, k)
		}
	}

	key := f.scope()
	if s, ok := f.sessions[key]; ok {
		return s, nil
	}

	tx := f.registry.engine.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("opening session: %w", tx.Error)
	}
	s := &Session{registry: f.registry, tx: tx, props: f.props}
	f.sessions[key] = s
	return s, nil
}

// closeAll rolls back every live session. Best effort: rollback failures
// are logged, not raised.
func (f *sessionFactory) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, s := range f.sessions {
		if !s.ended {
			if err := s.Rollback(); err != nil {
				f.registry.logger.Warn("session rollback failed", "error", err)
			}
		}
		delete(f.sessions, key)
	}
}

// sessionProperties composes the property map of the Session record from
// the merged Session core fragments, later-loaded bloks' fragments taking
// precedence.
func (r *Registry) sessionProperties() map[string]any {
	props := map[string]any{}
	for _, frag := range r.sessionCores {
		mergeUnder(props, frag.Properties)
	}
	return props
}

// createSchema issues the schema-creation pass: one CREATE TABLE IF NOT
// EXISTS per storage-backed model, each table exactly once even when
// several namespaces resolve to it.
func (r *Registry) createSchema() error {
	created := map[string]bool{}
	for _, key := range r.modelOrder {
		m := r.loadedNamespaces[key]
		if !m.Storage || created[m.TableName] {
			continue
		}
		// A storage model whose fields are all shadowed by properties has no
		// columns to map.
		if len(m.Columns) == 0 {
			continue
		}
		ddl := createTableDDL(m.TableName, m.Columns)
		if err := r.engine.Exec(ddl).Error; err != nil {
			return fmt.Errorf("creating table %s: %w", m.TableName, err)
		}
		created[m.TableName] = true
	}
	return nil
}

func createTableDDL(table string, cols []fields.Column) string {
	var defs []string
	var pks []string
	var constraints []string

	for _, col := range cols {
		def := col.Name + " " + col.SQLType
		if !col.Nullable && !col.PrimaryKey {
			def += " NOT NULL"
		}
		if col.Unique {
			def += " UNIQUE"
		}
		if col.Default != nil {
			def += " DEFAULT " + sqlLiteral(col.Default)
		}
		defs = append(defs, def)

		if col.PrimaryKey {
			pks = append(pks, col.Name)
		}
		if col.ForeignTable != "" {
			constraints = append(constraints, fmt.Sprintf(
				"FOREIGN KEY (%s) REFERENCES %s(%s)", col.Name, col.ForeignTable, col.ForeignColumn))
		}
	}
	if len(pks) > 0 {
		constraints = append([]string{"PRIMARY KEY (" + strings.Join(pks, ", ") + ")"}, constraints...)
	}

	defs = append(defs, constraints...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
}

func sqlLiteral(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// installedFromDatabase reads the blok names recorded as installed (or
// pending install/update) in the database, before the registry is built.
// A database without the bookkeeping table yields none.
func (r *Registry) installedFromDatabase() []string {
	if !r.engine.Migrator().HasTable(systemBlokTable) {
		return nil
	}
	var names []string
	err := r.engine.Table(systemBlokTable).
		Where("state IN ?", []string{string(blok.StateInstalled), string(blok.StateToInstall), string(blok.StateToUpdate)}).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		r.logger.Warn("reading installed bloks failed", "error", err)
		return nil
	}
	return names
}

const systemBlokTable = "system_blok"

// InstalledBloks returns the blok names recorded as installed for this
// registry, or nil when the bookkeeping model is not loaded.
func (r *Registry) InstalledBloks() ([]string, error) {
	m, ok := r.loadedNamespaces[SystemBlokModel]
	if !ok || !m.Storage {
		return nil, nil
	}
	var names []string
	err := r.engine.Table(m.TableName).
		Where("state = ?", string(blok.StateInstalled)).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("listing installed bloks: %w", err)
	}
	return names, nil
}

// applyBlokBookkeeping refreshes the installed-blok table: every blok known
// to the manager gets a row (not-installed by default) and the bloks of
// this build are marked installed.
func (r *Registry) applyBlokBookkeeping() error {
	m, ok := r.loadedNamespaces[SystemBlokModel]
	if !ok || !m.Storage {
		return nil
	}

	s, err := r.sessions.session()
	if err != nil {
		return err
	}

	for _, name := range r.bloks.Names() {
		var count int64
		if err := s.Query(m).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("refreshing blok list: %w", err)
		}
		if count > 0 {
			continue
		}
		desc, _ := r.bloks.Get(name)
		row := map[string]any{
			"name":  name,
			"state": string(blok.StateNotInstalled),
		}
		if desc != nil && desc.Version != "" {
			row["version"] = desc.Version
		}
		if err := s.Insert(m, row); err != nil {
			return fmt.Errorf("refreshing blok list: %w", err)
		}
	}

	if len(r.ordered) > 0 {
		err := s.Query(m).
			Where("name IN ?", r.ordered).
			Update("state", string(blok.StateInstalled)).Error
		if err != nil {
			return fmt.Errorf("applying blok states: %w", err)
		}
	}

	return s.Commit()
}
