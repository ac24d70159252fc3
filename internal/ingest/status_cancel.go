package ingest

import (
	"errors"
	"net/http"

	"github.com/brightfile/chunkupload/internal/chunkerr"
	"github.com/brightfile/chunkupload/internal/store"
)

// Status answers GET requests for an upload's progress without touching
// received_chunks (seen in file.cheap's GetUploadStatusHandler and
// go-file-explorer's equivalent status call).
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("upload_id")
	if uploadID == "" {
		writeError(w, chunkerr.New(chunkerr.ErrMalformedRequest, "", "upload_id is required"))
		return
	}

	session, err := h.store.Get(r.Context(), uploadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, chunkerr.New(chunkerr.ErrSessionMissing, uploadID, "session not found or expired"))
			return
		}

		h.logger.Error("loading session for status", "error", err, "upload_id", uploadID)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "session store unavailable"))

		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		UploadID:       session.UploadID,
		Received:       session.ReceivedCount(),
		Total:          session.TotalChunks,
		Complete:       session.Complete,
		Path:           session.FinalPath,
		ReceivedChunks: sortedIndices(session.ReceivedChunks),
	})
}

// Cancel is explicit client-initiated abandonment: it deletes the temp
// file and session record ahead of TTL expiry (seen in file.cheap's
// CancelUploadHandler), distinct from finalization failure cleanup, which
// the server triggers on its own.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("upload_id")
	if uploadID == "" {
		writeError(w, chunkerr.New(chunkerr.ErrMalformedRequest, "", "upload_id is required"))
		return
	}

	ctx := r.Context()

	session, err := h.store.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.logger.Error("loading session for cancel", "error", err, "upload_id", uploadID)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "session store unavailable"))

		return
	}

	if !session.Complete {
		if err := h.writer.Cleanup(uploadID, extensionOf(session.FileInfo.Name)); err != nil {
			h.logger.Warn("cleaning up temp file on cancel", "error", err, "upload_id", uploadID)
		}
	}

	if err := h.store.Delete(ctx, uploadID); err != nil {
		h.logger.Error("deleting session on cancel", "error", err, "upload_id", uploadID)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "could not delete session"))

		return
	}

	h.logger.Info("chunked upload cancelled", "upload_id", uploadID)

	w.WriteHeader(http.StatusNoContent)
}
