package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"factorio-instanced/internal/coordinator"
)

// statusCmd mirrors the teacher's cmd/list.go pattern of a read-only
// inspection command kept separate from anything that mutates state.
var statusCmd = &cobra.Command{
	Use:   "status [NAME]",
	Short: "Report whether instances under the root directory are running",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, _, err := buildCoordinator(cmd)
		if err != nil {
			return err
		}

		infos, err := c.ListInstances()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			return printOne(infos, args[0])
		}
		printAll(infos)
		return nil
	},
}

func printOne(infos []coordinator.InstanceInfo, name string) error {
	for _, info := range infos {
		if info.Name == name {
			if info.Running {
				pterm.Success.Printf("%s is running\n", name)
			} else {
				pterm.Info.Printf("%s is stopped\n", name)
			}
			return nil
		}
	}
	return fmt.Errorf("no instance named %q under this root", name)
}

func printAll(infos []coordinator.InstanceInfo) {
	running, stopped := 0, 0
	tableData := pterm.TableData{{"Instance", "Status"}}
	for _, info := range infos {
		status := pterm.Red("Stopped")
		if info.Running {
			status = pterm.Green("Running")
			running++
		} else {
			stopped++
		}
		tableData = append(tableData, []string{info.Name, status})
	}

	if pterm.RawOutput {
		for _, info := range infos {
			pterm.Printf("%s running=%v\n", info.Name, info.Running)
		}
		fmt.Printf("\nSummary: %d running, %d stopped (%d total)\n", running, stopped, len(infos))
		return
	}

	_ = pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
	pterm.Printf("Summary: %d running, %d stopped (%d total)\n", running, stopped, len(infos))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
