// Package io is the import/export blok: it declares the Model.IO.Importer
// model over a reusable IOMixin, and a mapping model linking external
// identifiers to records.
package io

import (
	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/fields"
)

// Name is the io blok's name.
const Name = "anyblok-io"

func init() {
	blok.Register(&blok.Blok{
		Name:     Name,
		Version:  "0.1.0",
		Required: []string{"anyblok-core"},
		Declare:  declare,
	})
}

func intp(v int64) *int64 { return &v }

func boolp(v bool) *bool { return &v }

func declare(ctx *declarations.Context) error {
	if err := ctx.AddEntry(declarations.EntryMixin, "Mixin.IOMixin", &declarations.Fragment{
		Name: "IOMixin",
		Fields: map[string]fields.Field{
			"id":    fields.Integer{PrimaryKey: true},
			"model": fields.String{Size: 64},
			"mode":  fields.String{Size: 32},
		},
	}); err != nil {
		return err
	}

	if err := ctx.AddEntry(declarations.EntryModel, "Model.IO", &declarations.Fragment{
		Name: "IO",
	}); err != nil {
		return err
	}

	if err := ctx.AddEntry(declarations.EntryModel, "Model.IO.Importer", &declarations.Fragment{
		Name:  "Importer",
		Bases: []string{"Mixin.IOMixin"},
		Fields: map[string]fields.Field{
			"file_to_import":         fields.Text{},
			"file_format":            fields.String{Size: 32, Default: "csv"},
			"line_offset":            fields.Integer{Default: intp(0)},
			"nb_grouped_lines":       fields.Integer{Default: intp(50)},
			"commit_at_each_grouped": fields.Boolean{Default: boolp(true)},
			"check_import":           fields.Boolean{Default: boolp(false)},
		},
	}); err != nil {
		return err
	}

	return ctx.AddEntry(declarations.EntryModel, "Model.IO.Mapping", &declarations.Fragment{
		Name: "Mapping",
		Fields: map[string]fields.Field{
			"id":          fields.Integer{PrimaryKey: true},
			"external_id": fields.String{Size: 128},
			"model":       fields.String{Size: 64},
			"record_key":  fields.String{Size: 128},
			"blokname":    fields.Many2One{Model: "Model.System.Blok", Nullable: true},
		},
	})
}
