package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"factorio-instanced/internal/supervisor"
)

var killCmd = &cobra.Command{
	Use:   "kill NAME",
	Short: "Force-kill a running instance without giving it a chance to save",
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

		pidData, err := os.ReadFile(filepath.Join(instancePath, "factorio.pid"))
		if err != nil {
			return fmt.Errorf("reading pidfile for %s: %w", name, err)
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
		if err != nil {
			return fmt.Errorf("parsing pidfile for %s: %w", name, err)
		}

		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			return fmt.Errorf("locating process %d for %s: %w", pid, name, err)
		}
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("killing %s (pid %d): %w", name, pid, err)
		}

		_ = os.Remove(filepath.Join(instancePath, "factorio.pid"))
		pterm.Success.Printf("%s killed\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
