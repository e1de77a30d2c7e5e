package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var contentType string
	var chunkSizeMiB int64
	var owner string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a video file through the daemon in chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			path := args[0]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()

			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			resolvedType := contentType
			if resolvedType == "" {
				resolvedType = mime.TypeByExtension(filepath.Ext(path))
			}
			if resolvedType == "" {
				return fmt.Errorf("cannot infer content type for %s; pass --content-type", path)
			}

			req := map[string]any{
				"file_name":    filepath.Base(path),
				"content_type": resolvedType,
				"file_size":    info.Size(),
			}
			if chunkSizeMiB > 0 {
				req["chunk_size"] = chunkSizeMiB * 1024 * 1024
			}
			if owner != "" {
				req["owner"] = owner
			}

			session, err := client.createUpload(cmd.Context(), req)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Session %s: %d chunks of %s\n",
				session.ID, session.TotalChunks, formatBytes(session.ChunkSize))

			buf := make([]byte, session.ChunkSize)
			for index := 0; index < session.TotalChunks; index++ {
				n, err := io.ReadFull(file, buf)
				if err != nil && err != io.ErrUnexpectedEOF {
					return fmt.Errorf("read chunk %d: %w", index, err)
				}
				if _, err := client.commitChunk(cmd.Context(), session.ID, index, buf[:n]); err != nil {
					return fmt.Errorf("upload chunk %d: %w", index, err)
				}
				fmt.Fprintf(stdout, "\rUploaded %d/%d chunks", index+1, session.TotalChunks)
			}
			fmt.Fprintln(stdout)

			asset, err := client.completeUpload(cmd.Context(), session.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Asset %s queued for processing\n", asset.ID)
			fmt.Fprintf(stdout, "Track progress with `loom show %s`\n", asset.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "Override the detected content type")
	cmd.Flags().Int64Var(&chunkSizeMiB, "chunk-size", 0, "Chunk size in MiB (0 uses the server default)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner recorded on the upload session")
	return cmd
}
