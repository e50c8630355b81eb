// Package core is the auto-installed core blok. It contributes the empty
// Base/SqlBase/Session core fragments every registry composes over and the
// Model.System.Blok bookkeeping model the session binder uses to track
// install states.
package core

import (
	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// Name is the core blok's name.
const Name = "anyblok-core"

func init() {
	blok.Register(&blok.Blok{
		Name:        Name,
		Version:     "0.1.0",
		AutoInstall: true,
		Declare:     declare,
	})
}

func declare(ctx *declarations.Context) error {
	if err := ctx.AddCore(declarations.CoreBase, &declarations.Fragment{Name: "Base"}); err != nil {
		return err
	}
	if err := ctx.AddCore(declarations.CoreSqlBase, &declarations.Fragment{Name: "SqlBase"}); err != nil {
		return err
	}
	if err := ctx.AddCore(declarations.CoreSession, &declarations.Fragment{Name: "Session"}); err != nil {
		return err
	}

	if err := ctx.AddEntry(declarations.EntryModel, "Model.System", &declarations.Fragment{
		Name: "System",
	}); err != nil {
		return err
	}

	return ctx.AddEntry(declarations.EntryModel, "Model.System.Blok", &declarations.Fragment{
		Name: "Blok",
		Fields: map[string]fields.Field{
			"name":    fields.String{Size: 64, PrimaryKey: true},
			"state":   fields.String{Size: 32, Default: "not-installed"},
			"version": fields.String{Size: 32, Nullable: true},
		},
	})
}
