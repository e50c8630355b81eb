package registry_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/fields"
	"github.com/Gnonpi/anyblok/pkg/registry"
)

func fragmentIndex(m *registry.Model, frag *declarations.Fragment) int {
	return slices.Index(m.Bases, frag)
}

func TestLoadOrder_RequiredBeforeRequirer(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{Name: "alpha", AutoInstall: true})
	f.addBlok(&blok.Blok{Name: "beta", AutoInstall: true, Required: []string{"alpha"}})

	reg := f.build()
	order := reg.LoadedBloks()
	assert.Less(t, slices.Index(order, "alpha"), slices.Index(order, "beta"))
}

func TestOptionalMissingIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{Name: "demo", AutoInstall: true, Optional: []string{"ghost"}})

	reg := f.build()
	assert.Contains(t, reg.LoadedBloks(), "demo")
	assert.NotContains(t, reg.LoadedBloks(), "ghost")
}

func TestFragmentPrecedence_LaterBlokFirst(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()

	fragA := &declarations.Fragment{Name: "from-alpha"}
	fragB := &declarations.Fragment{Name: "from-beta"}
	f.addBlok(&blok.Blok{
		Name:        "alpha",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", fragA)
		},
	})
	f.addBlok(&blok.Blok{
		Name:        "beta",
		AutoInstall: true,
		Required:    []string{"alpha"},
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", fragB)
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)

	idxB := fragmentIndex(m, fragB)
	idxA := fragmentIndex(m, fragA)
	require.GreaterOrEqual(t, idxB, 0)
	require.GreaterOrEqual(t, idxA, 0)
	assert.Less(t, idxB, idxA)
}

func TestPropertyPrecedence_LaterBlokWins(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "alpha",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Properties: map[string]any{"label": "a", "kept": true},
			})
		},
	})
	f.addBlok(&blok.Blok{
		Name:        "beta",
		AutoInstall: true,
		Required:    []string{"alpha"},
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Properties: map[string]any{"label": "b"},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)
	assert.Equal(t, "b", m.Properties["label"])
	assert.Equal(t, true, m.Properties["kept"])
}

func TestCoreComposition_LaterBlokCoresFirst(t *testing.T) {
	f := newFixture(t)

	x := &declarations.Fragment{Name: "X"}
	y := &declarations.Fragment{Name: "Y"}
	f.addBlok(&blok.Blok{
		Name:        "first",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddCore(declarations.CoreBase, x)
		},
	})
	f.addBlok(&blok.Blok{
		Name:        "second",
		AutoInstall: true,
		Required:    []string{"first"},
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddCore(declarations.CoreBase, y); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{Name: "Thing"})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)

	idxY := fragmentIndex(m, y)
	idxX := fragmentIndex(m, x)
	require.GreaterOrEqual(t, idxY, 0)
	require.GreaterOrEqual(t, idxX, 0)
	assert.Less(t, idxY, idxX)
}

func TestSqlBaseCores_OnlyForStorageModels(t *testing.T) {
	f := newFixture(t)

	sqlCore := &declarations.Fragment{Name: "sql-core"}
	f.addBlok(&blok.Blok{
		Name:        "core",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddCore(declarations.CoreSqlBase, sqlCore)
		},
	})
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry(declarations.EntryModel, "Model.Plain", &declarations.Fragment{
				Name: "Plain",
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.Stored", &declarations.Fragment{
				Name:   "Stored",
				Fields: map[string]fields.Field{"name": fields.String{}},
			})
		},
	})

	reg := f.build()
	plain, err := reg.Model("Model.Plain")
	require.NoError(t, err)
	stored, err := reg.Model("Model.Stored")
	require.NoError(t, err)

	assert.Equal(t, -1, fragmentIndex(plain, sqlCore))
	assert.GreaterOrEqual(t, fragmentIndex(stored, sqlCore), 0)
}

func TestMixinContributesFieldsWithoutSynthesis(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry(declarations.EntryMixin, "Mixin.Tracked", &declarations.Fragment{
				Name:   "Tracked",
				Fields: map[string]fields.Field{"x": fields.Integer{}},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Name:   "Thing",
				Bases:  []string{"Mixin.Tracked"},
				Fields: map[string]fields.Field{"y": fields.String{}},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)
	assert.True(t, m.Storage)
	assert.Equal(t, []string{"y", "x"}, m.FieldNames())

	// The mixin namespace never becomes a model of its own.
	_, err = reg.Model("Mixin.Tracked")
	var nsErr *registry.NamespaceNotLoadedError
	assert.ErrorAs(t, err, &nsErr)
	assert.NotContains(t, reg.ModelNames(), "Mixin.Tracked")
}

func TestParentModelResolvedOnce(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry(declarations.EntryModel, "Model.Parent", &declarations.Fragment{
				Name: "Parent",
			}); err != nil {
				return err
			}
			if err := ctx.AddEntry(declarations.EntryModel, "Model.ChildA", &declarations.Fragment{
				Name:  "ChildA",
				Bases: []string{"Model.Parent"},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.ChildB", &declarations.Fragment{
				Name:  "ChildB",
				Bases: []string{"Model.Parent"},
			})
		},
	})

	reg := f.build()
	childA, err := reg.Model("Model.ChildA")
	require.NoError(t, err)
	childB, err := reg.Model("Model.ChildB")
	require.NoError(t, err)

	refOf := func(m *registry.Model) *declarations.Fragment {
		for _, frag := range m.Bases {
			if frag.Name == "Model.Parent" {
				return frag
			}
		}
		return nil
	}

	// Both children reference the already-synthesized parent through the
	// same one-element reference fragment.
	refA := refOf(childA)
	refB := refOf(childB)
	require.NotNil(t, refA)
	assert.Same(t, refA, refB)
}

func TestParentPropertiesDoNotLeakIntoDependents(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry(declarations.EntryModel, "Model.Parent", &declarations.Fragment{
				Name:       "Parent",
				Properties: map[string]any{"origin": "parent"},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.Child", &declarations.Fragment{
				Name:  "Child",
				Bases: []string{"Model.Parent"},
			})
		},
	})

	reg := f.build()
	child, err := reg.Model("Model.Child")
	require.NoError(t, err)
	assert.NotContains(t, child.Properties, "origin")
}

func TestMixinPropertiesYieldToCaller(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry(declarations.EntryMixin, "Mixin.Labeled", &declarations.Fragment{
				Name:       "Labeled",
				Properties: map[string]any{"label": "mixin", "extra": "kept"},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Name:       "Thing",
				Bases:      []string{"Mixin.Labeled"},
				Properties: map[string]any{"label": "own"},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)
	assert.Equal(t, "own", m.Properties["label"])
	assert.Equal(t, "kept", m.Properties["extra"])
}

func TestNamespaceCycleFailsBuild(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry(declarations.EntryModel, "Model.A", &declarations.Fragment{
				Name:  "A",
				Bases: []string{"Model.B"},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.B", &declarations.Fragment{
				Name:  "B",
				Bases: []string{"Model.A"},
			})
		},
	})

	_, err := f.manager().Get("test")
	require.ErrorIs(t, err, registry.ErrNamespaceCycle)
}

func TestUnknownBaseNamespaceFailsBuild(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Name:  "Thing",
				Bases: []string{"Mixin.Nope"},
			})
		},
	})

	_, err := f.manager().Get("test")
	var nsErr *registry.NamespaceNotLoadedError
	require.ErrorAs(t, err, &nsErr)
	assert.Equal(t, "Mixin.Nope", nsErr.Namespace)
}

func TestPropertyShadowsField(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Name:       "Thing",
				Fields:     map[string]fields.Field{"name": fields.String{}},
				Properties: map[string]any{"name": "static"},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)

	// The plain property suppresses the column, not the storage detection:
	// declaring a field anywhere in the base chain makes the model
	// storage-backed even when every field is shadowed.
	assert.True(t, m.Storage)
	assert.Empty(t, m.FieldNames())
	assert.Empty(t, m.Columns)
	assert.Equal(t, "static", m.Properties["name"])

	// With no columns left there is no table to map.
	assert.False(t, reg.Engine().Migrator().HasTable("thing"))
}

func TestShadowedFieldLeavesOthersMapped(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Name: "Thing",
				Fields: map[string]fields.Field{
					"name":  fields.String{},
					"title": fields.String{},
				},
				Properties: map[string]any{"name": "static"},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)

	assert.True(t, m.Storage)
	assert.Equal(t, []string{"title"}, m.FieldNames())
	require.Len(t, m.Columns, 1)
	assert.Equal(t, "title", m.Columns[0].Name)
	assert.True(t, reg.Engine().Migrator().HasTable("thing"))
}

func TestTablenameProperty_OverridesDerivedName(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddEntry(declarations.EntryModel, "Model.Thing", &declarations.Fragment{
				Name:       "Thing",
				Fields:     map[string]fields.Field{"name": fields.String{}},
				Properties: map[string]any{"tablename": "legacy_things"},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Thing")
	require.NoError(t, err)
	assert.Equal(t, "legacy_things", m.TableName)
	assert.True(t, reg.Engine().Migrator().HasTable("legacy_things"))
	assert.False(t, reg.Engine().Migrator().HasTable("thing"))
}

func TestMany2One_ForwardReferenceResolves(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			// The referring model registers before its target.
			if err := ctx.AddEntry(declarations.EntryModel, "Model.Ref", &declarations.Fragment{
				Name: "Ref",
				Fields: map[string]fields.Field{
					"id":     fields.Integer{PrimaryKey: true},
					"target": fields.Many2One{Model: "Model.Target"},
				},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.Target", &declarations.Fragment{
				Name:   "Target",
				Fields: map[string]fields.Field{"id": fields.Integer{PrimaryKey: true}},
			})
		},
	})

	reg := f.build()
	m, err := reg.Model("Model.Ref")
	require.NoError(t, err)

	col, ok := m.Column("target")
	require.True(t, ok)
	assert.Equal(t, "INTEGER", col.SQLType)
	assert.Equal(t, "target", col.ForeignTable)
	assert.Equal(t, "id", col.ForeignColumn)
}

func TestPlaceholderTakeover(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()
	f.addBlok(&blok.Blok{
		Name:        "demo",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			// The child registers before its container model, leaving a
			// placeholder at "System" until the concrete model lands.
			if err := ctx.AddEntry(declarations.EntryModel, "Model.System.Blok", &declarations.Fragment{
				Name:   "Blok",
				Fields: map[string]fields.Field{"name": fields.String{PrimaryKey: true}},
			}); err != nil {
				return err
			}
			return ctx.AddEntry(declarations.EntryModel, "Model.System", &declarations.Fragment{
				Name: "System",
			})
		},
	})

	reg := f.build()
	node, err := reg.Lookup("System")
	require.NoError(t, err)
	sys, ok := node.(*registry.Model)
	require.True(t, ok)
	assert.Contains(t, sys.Children(), "Blok")

	child, ok := sys.Child("Blok")
	require.True(t, ok)
	assert.Equal(t, "Blok", child.NodeName())
}

func TestCustomEntryType_OnLoadCallback(t *testing.T) {
	f := newFixture(t)
	f.addEmptyCores()

	var folded []string
	f.store.DeclareEntryType("Report",
		declarations.MustBeLoaded(),
		declarations.WithOnLoad(func(key string) { folded = append(folded, key) }))

	f.addBlok(&blok.Blok{
		Name:        "reports",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			if err := ctx.AddEntry("Report", "Report.Sales", &declarations.Fragment{Name: "Sales"}); err != nil {
				return err
			}
			return ctx.AddEntry("Report", "Report.Stock", &declarations.Fragment{Name: "Stock"})
		},
	})

	f.build()
	assert.Equal(t, []string{"Report.Sales", "Report.Stock"}, folded)
}

func TestSessionProperties_FromSessionCores(t *testing.T) {
	f := newFixture(t)
	f.addBlok(&blok.Blok{
		Name:        "core",
		AutoInstall: true,
		Declare: func(ctx *declarations.Context) error {
			return ctx.AddCore(declarations.CoreSession, &declarations.Fragment{
				Name:       "session-core",
				Properties: map[string]any{"isolation": "default"},
			})
		},
	})

	reg := f.build()
	s, err := reg.Session()
	require.NoError(t, err)
	v, ok := s.Property("isolation")
	require.True(t, ok)
	assert.Equal(t, "default", v)
}
