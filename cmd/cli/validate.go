package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sho7650/media-window/internal/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
	cmd.Flags().Bool("watch", false, "keep watching the file and report every reload")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return errors.New("--config is required")
	}
	cfg, manager, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, okStyle.Render("config ok: "+path))
	fmt.Fprint(out, renderConfig(cfg))

	watch, _ := cmd.Flags().GetBool("watch")
	if !watch {
		return nil
	}

	ctx := cmd.Context()
	changes := make(chan config.ChangeEvent, 1)
	if err := manager.WatchForChanges(ctx, path, changes); err != nil {
		return err
	}
	fmt.Fprintln(out, faintStyle.Render("watching for changes, interrupt to stop"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-changes:
			if event.Type == config.EventConfigError {
				fmt.Fprintln(out, errStyle.Render("config error: "+event.Error))
				continue
			}
			fmt.Fprintln(out, okStyle.Render("config reloaded"))
			fmt.Fprint(out, renderConfig(event.Config))
		}
	}
}
