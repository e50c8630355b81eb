// Package main provides the anyblok CLI: inspect registered bloks and
// assemble registries for a database.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Gnonpi/anyblok/pkg/blok"
	"github.com/Gnonpi/anyblok/pkg/config"
	"github.com/Gnonpi/anyblok/pkg/declarations"
	"github.com/Gnonpi/anyblok/pkg/registry"

	// Bloks register themselves via init().
	_ "github.com/Gnonpi/anyblok/bloks/core"
	_ "github.com/Gnonpi/anyblok/bloks/io"
)

var (
	version = "dev"

	dbFlag      string
	installFlag []string
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "anyblok",
		Short:         "Assemble and inspect blok registries",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "anyblok", "Database name to operate on")
	rootCmd.PersistentFlags().StringSliceVar(&installFlag, "install", nil, "Additional bloks to install into the registry")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newBloksCmd())
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRegistryManager wires the default blok set into a registry manager
// backed by the process configuration.
func newRegistryManager() (*registry.Manager, error) {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store := declarations.NewStore()
	if err := blok.Default.RunAll(store); err != nil {
		return nil, fmt.Errorf("running blok declarations: %w", err)
	}

	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	opts := []registry.ManagerOption{registry.WithLogger(logger)}
	if len(installFlag) > 0 {
		opts = append(opts, registry.WithInstall(installFlag...))
	}
	return registry.NewManager(store, blok.Default, cfg.Connector(), opts...), nil
}
