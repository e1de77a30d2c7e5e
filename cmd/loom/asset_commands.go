package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List video assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			assets, err := client.assets(cmd.Context(), statuses)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, assets)
			}

			stdout := cmd.OutOrStdout()
			if len(assets) == 0 {
				fmt.Fprintln(stdout, "No assets found")
				return nil
			}
			enabled := shouldColorize(stdout)
			rows := make([][]string, 0, len(assets))
			for _, asset := range assets {
				rows = append(rows, []string{
					asset.ID,
					truncate(asset.Title, 40),
					colorize(statusColor(string(asset.Status)), string(asset.Status), enabled),
					formatDuration(asset.DurationSecs),
					formatTimestamp(asset.CreatedAt),
				})
			}
			fmt.Fprintln(stdout, renderTable([]string{"ID", "Title", "Status", "Duration", "Created"}, rows))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by asset status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of tables")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Show one asset with its jobs, variants, and moderation record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			detail, err := client.asset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, detail)
			}

			stdout := cmd.OutOrStdout()
			enabled := shouldColorize(stdout)
			asset := detail.Asset

			for _, line := range renderSectionHeader("Asset", enabled) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintf(stdout, "  ID:        %s\n", asset.ID)
			fmt.Fprintf(stdout, "  Title:     %s\n", asset.Title)
			fmt.Fprintf(stdout, "  Status:    %s\n", colorize(statusColor(string(asset.Status)), string(asset.Status), enabled))
			fmt.Fprintf(stdout, "  Source:    %s\n", asset.SourcePath)
			if asset.ManifestPath != "" {
				fmt.Fprintf(stdout, "  Manifest:  %s\n", asset.ManifestPath)
			}
			if asset.DurationSecs > 0 {
				fmt.Fprintf(stdout, "  Duration:  %s\n", formatDuration(asset.DurationSecs))
			}
			if asset.ErrorMessage != "" {
				fmt.Fprintf(stdout, "  Error:     %s\n", colorize(ansiRed, asset.ErrorMessage, enabled))
			}

			if mod := detail.Moderation; mod != nil {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Moderation", enabled) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintf(stdout, "  Malware:   %s\n", colorize(statusColor(string(mod.Malware)), string(mod.Malware), enabled))
				fmt.Fprintf(stdout, "  Safety:    %s\n", colorize(statusColor(string(mod.Safety)), string(mod.Safety), enabled))
				for _, reason := range mod.Reasons {
					fmt.Fprintf(stdout, "  Reason:    %s\n", reason)
				}
			}

			if len(detail.Jobs) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Pipeline", enabled) {
					fmt.Fprintln(stdout, line)
				}
				rows := make([][]string, 0, len(detail.Jobs))
				for _, job := range detail.Jobs {
					lastError := job.LastError
					if lastError == "" {
						lastError = "-"
					}
					rows = append(rows, []string{
						job.Stage.Label(),
						colorize(statusColor(string(job.Status)), string(job.Status), enabled),
						fmt.Sprintf("%d", job.Attempts),
						truncate(lastError, 48),
					})
				}
				fmt.Fprintln(stdout, renderTable([]string{"Stage", "Status", "Attempts", "Last Error"}, rows, 2))
			}

			if len(detail.Variants) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Variants", enabled) {
					fmt.Fprintln(stdout, line)
				}
				rows := make([][]string, 0, len(detail.Variants))
				for _, variant := range detail.Variants {
					rows = append(rows, []string{
						variant.Quality,
						fmt.Sprintf("%dx%d", variant.Width, variant.Height),
						fmt.Sprintf("%d kbps", variant.VideoBitrateKbps),
						colorize(statusColor(string(variant.Status)), string(variant.Status), enabled),
						fmt.Sprintf("%d", variant.SegmentCount),
						formatBytes(variant.ByteSize),
					})
				}
				fmt.Fprintln(stdout, renderTable([]string{"Quality", "Resolution", "Bitrate", "Status", "Segments", "Size"}, rows, 4, 5))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of tables")
	return cmd
}
