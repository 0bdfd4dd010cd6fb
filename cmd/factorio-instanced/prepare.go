package main

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"factorio-instanced/internal/factorioversion"
	"factorio-instanced/internal/instancesettings"
	"factorio-instanced/internal/progress"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare NAME",
	Short: "Fetch an engine build and declared mods, then compose instances/NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		version, _ := cmd.Flags().GetString("version")
		save, _ := cmd.Flags().GetString("save")
		modFlags, _ := cmd.Flags().GetStringSlice("mod")
		baseMods, _ := cmd.Flags().GetStringSlice("base-mods")

		engineVersion, err := factorioversion.Parse(version)
		if err != nil {
			return fmt.Errorf("parsing --version: %w", err)
		}

		mods, err := parseMods(modFlags)
		if err != nil {
			return err
		}

		settings := instancesettings.New(engineVersion, save).
			WithMods(mods).
			WithBaseMods(parseBaseMods(baseMods))

		c, _, creds, err := buildCoordinator(cmd)
		if err != nil {
			return err
		}

		var sink progress.Sink = progress.Noop()
		var multi *pterm.MultiPrinter
		if !pterm.RawOutput {
			multi, _ = pterm.DefaultMultiPrinter.Start()
			bar := progress.NewBar(fmt.Sprintf("Preparing %s", name), multi)
			defer bar.Stop()
			sink = bar
		} else {
			pterm.Info.Printf("Preparing %s (engine %s, %d mod(s))...\n", name, engineVersion, len(mods))
		}

		prepared, err := c.PrepareInstance(cmd.Context(), name, settings, creds, sink)
		if multi != nil {
			_, _ = multi.Stop()
		}
		if err != nil {
			return fmt.Errorf("preparing %s: %w", name, err)
		}

		root, _, _ := rootFlags(cmd)
		if err := writeSidecar(root, name, prepared.Settings); err != nil {
			return err
		}

		pterm.Success.Printf("Composed %s at %s\n", name, prepared.Path)
		return nil
	},
}

func parseMods(flags []string) ([]instancesettings.Mod, error) {
	mods := make([]instancesettings.Mod, 0, len(flags))
	for _, f := range flags {
		nameVer := strings.SplitN(f, "@", 2)
		if len(nameVer) != 2 || nameVer[0] == "" || nameVer[1] == "" {
			return nil, fmt.Errorf("invalid --mod %q, want NAME@VERSION", f)
		}
		mods = append(mods, instancesettings.Mod{Name: nameVer[0], Version: nameVer[1]})
	}
	return mods, nil
}

func parseBaseMods(flags []string) instancesettings.BaseMods {
	var b instancesettings.BaseMods
	for _, f := range flags {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "base":
			b.Base = true
		case "elevated-rails":
			b.ElevatedRails = true
		case "quality":
			b.Quality = true
		case "space-age":
			b.SpaceAge = true
		}
	}
	return b
}

func init() {
	prepareCmd.Flags().String("version", "", "Factorio engine version to run (major.minor.patch)")
	prepareCmd.Flags().String("save", "", "Save name under the shared saves folder")
	prepareCmd.Flags().StringSlice("mod", nil, "Mod to install, NAME@VERSION (repeatable)")
	prepareCmd.Flags().StringSlice("base-mods", nil, "Base-game DLC modules to enable on engine >= 2.0.0: base,elevated-rails,quality,space-age")
	_ = prepareCmd.MarkFlagRequired("version")
	_ = prepareCmd.MarkFlagRequired("save")
	rootCmd.AddCommand(prepareCmd)
}
