package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Gnonpi/anyblok/pkg/blok"
)

func newBloksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bloks",
		Short: "List registered bloks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range blok.Default.Names() {
				b, _ := blok.Default.Get(name)
				var notes []string
				if b.AutoInstall {
					notes = append(notes, "auto-install")
				}
				if len(b.Required) > 0 {
					notes = append(notes, "requires: "+strings.Join(b.Required, ", "))
				}
				line := fmt.Sprintf("%-20s %s", b.Name, b.Version)
				if len(notes) > 0 {
					line += "  (" + strings.Join(notes, "; ") + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}
