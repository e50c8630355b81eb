package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Assemble the registry for a database and print its namespaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := newRegistryManager()
			if err != nil {
				return err
			}
			defer mgr.Clear()

			reg, err := mgr.Get(dbFlag)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Loaded bloks:")
			for _, name := range reg.LoadedBloks() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Namespaces:")
			for _, namespace := range reg.ModelNames() {
				m, err := reg.Model(namespace)
				if err != nil {
					return err
				}
				if m.Storage {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-32s table=%s columns=%d\n",
						namespace, m.TableName, len(m.Columns))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-32s (plain)\n", namespace)
				}
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show blok install states for a database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := newRegistryManager()
			if err != nil {
				return err
			}
			defer mgr.Clear()

			reg, err := mgr.Get(dbFlag)
			if err != nil {
				return err
			}

			installed, err := reg.InstalledBloks()
			if err != nil {
				return err
			}
			if installed == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No blok bookkeeping model loaded")
				return nil
			}
			for _, name := range installed {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s installed\n", name)
			}
			return nil
		},
	}
}
