// Package signalctx derives a context that cancels on the first
// SIGINT/SIGTERM and force-exits on the second, giving the ingest server
// time to drain in-flight chunk writes before the process dies.
package signalctx

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// WithShutdown returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. This gives a serving goroutine time to
// finish in-flight fsyncs and close the session store cleanly, while
// letting an operator force-quit if shutdown hangs.
func WithShutdown(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
