package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"factorio-instanced/internal/rcon"
	"factorio-instanced/internal/supervisor"
)

// stop and kill act on an instance from a fresh CLI invocation, so they
// cannot reuse the in-process Supervisor state machine start built (that
// object and its child-process handle live only inside the process that
// called Start). Both instead work off the instance's pidfile; stop also
// reads its persisted settings sidecar for the RCON address and password,
// the same way a second `systemctl stop` invocation would reach a daemon
// it did not itself fork.
var stopCmd = &cobra.Command{
	Use:   "stop NAME",
	Short: "Ask a running instance to save and exit gracefully over RCON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		root, _, _ := rootFlags(cmd)
		instancePath := filepath.Join(root, "instances", name)

		running, err := supervisor.CheckRunning(instancePath)
		if err != nil {
			return err
		}
		if !running {
			pterm.Info.Printf("%s is not running\n", name)
			return nil
		}

		settings, err := readSidecar(root, name)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		addr := fmt.Sprintf("%s:%d", settings.RconHost, settings.RconPort)
		if _, err := rcon.SendCommand(ctx, addr, settings.RconPass, "/quit"); err != nil {
			pterm.Warning.Printf("rcon /quit to %s failed (%v); the process may already be exiting\n", name, err)
		}

		deadline := time.Now().Add(30 * time.Second)
		for time.Now().Before(deadline) {
			running, err := supervisor.CheckRunning(instancePath)
			if err != nil {
				return err
			}
			if !running {
				pterm.Success.Printf("%s stopped\n", name)
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}

		return fmt.Errorf("%s did not stop within 30s of /quit", name)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
