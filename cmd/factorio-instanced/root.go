package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"factorio-instanced/internal/artifactcache"
	"factorio-instanced/internal/coordinator"
	"factorio-instanced/internal/instancesettings"
)

var rootCmd = &cobra.Command{
	Use:   "factorio-instanced",
	Short: "Runs isolated Factorio dedicated-server instances from a shared artifact cache",
	Long:  `A cobra front-end over the instanced Factorio server lifecycle engine: fetches engine builds and mods into a content-addressed cache, composes per-instance directories from them, and supervises the spawned processes.`,
}

// Execute initializes the root command tree and delegates to Cobra.
func Execute() {
	if !term.IsTerminal(int(os.Stdout.Fd())) || os.Getenv("NO_COLOR") != "" {
		pterm.DisableStyling()
		pterm.RawOutput = true
	}
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("root", "r", "./factorio-instanced-data", "Root directory holding cache/, data/, and instances/")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log every tailed line from supervised instances")
	rootCmd.PersistentFlags().StringP("username", "u", "", "factorio.com username, for mod/engine downloads that require auth")
	rootCmd.PersistentFlags().StringP("token", "t", "", "factorio.com API token")
}

func rootFlags(cmd *cobra.Command) (root string, verbose bool, creds artifactcache.Credentials) {
	root, _ = cmd.Flags().GetString("root")
	verbose, _ = cmd.Flags().GetBool("verbose")
	username, _ := cmd.Flags().GetString("username")
	token, _ := cmd.Flags().GetString("token")
	return root, verbose, artifactcache.Credentials{Username: username, Token: token}
}

func buildCoordinator(cmd *cobra.Command) (*coordinator.Coordinator, bool, artifactcache.Credentials, error) {
	root, verbose, creds := rootFlags(cmd)
	if verbose {
		pterm.EnableDebugMessages()
	}
	c, err := coordinator.New(root, verbose)
	return c, verbose, creds, err
}

// sidecarPath is where the CLI persists the InstanceSettings a prepare
// (and later start) produced, so a separate invocation of stop/kill can
// reconstruct enough state to act on the instance without keeping a
// Coordinator's in-memory bookkeeping alive across process boundaries.
func sidecarPath(root, name string) string {
	return filepath.Join(root, "instances", name, ".cli-settings.json")
}

func writeSidecar(root, name string, settings instancesettings.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings for %s: %w", name, err)
	}
	return os.WriteFile(sidecarPath(root, name), data, 0o644)
}

func readSidecar(root, name string) (instancesettings.Settings, error) {
	var settings instancesettings.Settings
	data, err := os.ReadFile(sidecarPath(root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return settings, fmt.Errorf("instance %q was never prepared by this CLI (no settings on record)", name)
		}
		return settings, fmt.Errorf("reading settings for %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parsing settings for %s: %w", name, err)
	}
	return settings, nil
}
