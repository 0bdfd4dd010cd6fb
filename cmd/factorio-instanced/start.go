package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"factorio-instanced/internal/coordinator"
	"factorio-instanced/internal/supervisor"
)

var startCmd = &cobra.Command{
	Use:   "start NAME",
	Short: "Spawn a previously prepared instance and wait for it to reach Running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		root, _, _ := rootFlags(cmd)

		settings, err := readSidecar(root, name)
		if err != nil {
			return err
		}

		c, _, _, err := buildCoordinator(cmd)
		if err != nil {
			return err
		}

		prepared := coordinator.PreparedInstance{
			Name:     name,
			Path:     filepath.Join(root, "instances", name),
			Settings: settings,
		}

		sup, err := c.Start(prepared)
		if err != nil {
			return fmt.Errorf("starting %s: %w", name, err)
		}

		waitCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := sup.WaitFor(waitCtx, func(s supervisor.Status) bool { return s == supervisor.StatusRunning }); err != nil {
			return fmt.Errorf("waiting for %s to reach Running: %w", name, err)
		}

		// Persist the resolved settings (in particular the ephemeral RCON
		// port Start() just allocated) so a later stop/kill invocation can
		// reach this instance without this Coordinator's in-memory state.
		if err := writeSidecar(root, name, sup.Settings()); err != nil {
			return err
		}

		pterm.Success.Printf("%s is running (rcon %s:%d)\n", name, sup.Settings().RconHost, sup.Settings().RconPort)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
