package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/catalog"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and catalog status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			enabled := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", enabled) {
				fmt.Fprintln(stdout, line)
			}
			running := colorize(ansiGreen, "running", enabled)
			if !status.Running {
				running = colorize(ansiRed, "stopped", enabled)
			}
			fmt.Fprintf(stdout, "  State:      %s\n", running)
			fmt.Fprintf(stdout, "  Queue:      %d / %d\n", status.QueueDepth, status.QueueCapacity)
			fmt.Fprintf(stdout, "  Catalog:    %s\n", status.CatalogDBPath)
			fmt.Fprintf(stdout, "  Lock file:  %s\n", status.LockFilePath)
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Assets", enabled) {
				fmt.Fprintln(stdout, line)
			}
			rows := make([][]string, 0, len(status.Assets))
			for _, s := range catalog.AllAssetStatuses() {
				count, ok := status.Assets[s]
				if !ok || count == 0 {
					continue
				}
				rows = append(rows, []string{colorize(statusColor(string(s)), string(s), enabled), fmt.Sprintf("%d", count)})
			}
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No assets in the catalog")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, 1))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of tables")
	return cmd
}
