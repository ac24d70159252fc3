package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one pass of the expired-session janitor and exit",
		Long:  "Deletes every session past its TTL along with its temp file, then exits. Intended for cron-driven deployments; `serve` also runs this on a ticker.",
		RunE:  runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	handler, closeStore, err := buildHandler(cmd.Context(), cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer closeStore()

	swept, err := handler.Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Printf("swept %d expired session(s)\n", swept)

	return nil
}
