package main

import (
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var listVersionsCmd = &cobra.Command{
	Use:   "list-versions",
	Short: "List Factorio engine versions, locally cached or available from the public archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, _, err := buildCoordinator(cmd)
		if err != nil {
			return err
		}

		versions, err := c.Cache().ListVersions(cmd.Context())
		if err != nil {
			return err
		}

		names := make([]string, 0, len(versions))
		for v := range versions {
			names = append(names, v)
		}
		sort.Strings(names)

		tableData := pterm.TableData{{"Version", "Cached Locally", "Available Remotely"}}
		for _, v := range names {
			av := versions[v]
			tableData = append(tableData, []string{v, boolMark(av.PresentLocal), boolMark(av.AvailableRemote)})
		}

		if pterm.RawOutput {
			for _, v := range names {
				av := versions[v]
				pterm.Printf("%s local=%v remote=%v\n", v, av.PresentLocal, av.AvailableRemote)
			}
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()
	},
}

func boolMark(b bool) string {
	if b {
		return pterm.Green("yes")
	}
	return pterm.Red("no")
}

func init() {
	rootCmd.AddCommand(listVersionsCmd)
}
