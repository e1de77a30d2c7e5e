package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chunked upload sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			sessions, err := client.sessions(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, sessions)
			}

			stdout := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(stdout, "No upload sessions")
				return nil
			}
			enabled := shouldColorize(stdout)
			rows := make([][]string, 0, len(sessions))
			for _, session := range sessions {
				rows = append(rows, []string{
					session.ID,
					truncate(session.FileName, 32),
					colorize(statusColor(string(session.Status)), string(session.Status), enabled),
					fmt.Sprintf("%d/%d", session.CommittedChunks, session.TotalChunks),
					formatBytes(session.FileSize),
					formatTimestamp(session.ExpiresAt),
				})
			}
			fmt.Fprintln(stdout, renderTable([]string{"ID", "File", "Status", "Chunks", "Size", "Expires"}, rows, 3, 4))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of tables")
	return cmd
}
