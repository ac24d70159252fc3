package ingest

import (
	"context"
	"time"
)

// Sweep deletes every session store's ListExpired returns as of now,
// cleaning up their temp files first. Grounded on the teacher's
// SessionStore.CleanStale/cleanIfDue throttled-cleanup pattern, resolving
// spec.md §9's open question ("a janitor is hinted at but unspecified")
// as a ticker loop (Handler.RunSweeper) and a one-shot call (the sweep
// subcommand).
func (h *Handler) Sweep(ctx context.Context) (int, error) {
	expired, err := h.store.ListExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	swept := 0

	for _, rec := range expired {
		if !rec.Complete {
			if err := h.writer.Cleanup(rec.UploadID, extensionOf(rec.FileInfo.Name)); err != nil {
				h.logger.Warn("cleaning up expired upload's temp file", "error", err, "upload_id", rec.UploadID)
			}
		}

		if err := h.store.Delete(ctx, rec.UploadID); err != nil {
			h.logger.Warn("deleting expired session", "error", err, "upload_id", rec.UploadID)
			continue
		}

		swept++
	}

	if swept > 0 {
		h.logger.Info("swept expired upload sessions", "count", swept)
	}

	return swept, nil
}

// RunSweeper runs Sweep on a ticker until ctx is cancelled.
func (h *Handler) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := h.Sweep(ctx); err != nil {
				h.logger.Error("sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
