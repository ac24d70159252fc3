package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/brightfile/chunkupload/internal/dispatcher"
)

// Size unit constants for human-readable progress output, in the teacher's
// formatSize style.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func newClientCmd() *cobra.Command {
	var (
		serverURL   string
		concurrency int
		maxRetries  int
	)

	cmd := &cobra.Command{
		Use:   "client <file>...",
		Short: "Upload one or more files to a running chunked-upload server",
		Long:  "The reference Chunk Dispatcher (C5): slices each file per the server's sizing decision, uploads chunks concurrently with retry/backoff, and reports progress — for manual or scripted testing against a running `serve` instance.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, args, serverURL, concurrency, maxRetries)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the ingest endpoint")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "max chunk uploads in flight per file")
	cmd.Flags().IntVar(&maxRetries, "retry-attempts", 3, "per-chunk retry budget")

	return cmd
}

func runClient(cmd *cobra.Command, paths []string, serverURL string, concurrency, maxRetries int) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	d := dispatcher.New(serverURL, &http.Client{Timeout: 0}, dispatcher.Config{
		Concurrency: concurrency,
		MaxRetries:  maxRetries,
	})

	animated := isatty.IsTerminal(os.Stdout.Fd())

	progress := func(uploaded, total int64) {
		if animated {
			fmt.Printf("\r%s / %s", formatSize(uploaded), formatSize(total))
		} else {
			logger.Info("upload progress", "uploaded", uploaded, "total", total)
		}
	}

	ctx := cmd.Context()

	if len(paths) == 1 {
		result, err := d.Upload(ctx, paths[0], progress)
		if animated {
			fmt.Println()
		}

		if err != nil {
			return fmt.Errorf("uploading %s: %w", paths[0], err)
		}

		fmt.Printf("uploaded %s -> %s (upload_id %s)\n", paths[0], result.Path, result.UploadID)

		return nil
	}

	started := time.Now()

	batch, err := d.UploadBatch(ctx, paths, progress)
	if animated {
		fmt.Println()
	}

	if err != nil {
		return fmt.Errorf("uploading batch: %w", err)
	}

	fmt.Printf("uploaded %d file(s) in %s (multi-file: %t): %v\n", len(paths), time.Since(started).Round(time.Millisecond), batch.MultiFile, batch.CompletedUploadIDs)

	return nil
}
