// Command media-window drives the windowed media-resource manager against a
// simulated backend and a SQLite feed catalog.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sho7650/media-window/internal/config"
	"github.com/sho7650/media-window/internal/logging"
)

// Version is the version of media-window.
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "media-window",
		Short:         "Sliding window media resource manager",
		Long:          `Keeps playable resources open around the current item of a feed, under a cap on concurrent opens.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().String("config", "", "config file (.yaml, .yml or .toml); defaults apply when empty")

	root.AddCommand(
		newSimulateCmd(),
		newValidateCmd(),
		newSeedCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "media-window v%s\n", Version)
		},
	}
}

// loadConfig reads the --config file, or returns the defaults when the flag
// is empty.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Manager, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	manager := config.NewManager(nil)
	if path == "" {
		return config.Default(), manager, nil
	}
	cfg, err := manager.LoadFromFile(cmd.Context(), path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, manager, nil
}

func newLogger(w io.Writer, cfg *config.Config) logging.Logger {
	return logging.New(w, logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
}
