package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/brightfile/chunkupload/internal/chunkerr"
	"github.com/brightfile/chunkupload/internal/store"
)

// chunkHashLen is the exact length of a hex-encoded SHA-256 digest.
const chunkHashLen = sha256.Size * 2

const multipartMemoryLimit = 32 << 20

// Chunk implements the Ingest Endpoint (C4, spec.md §4.4). The caller's
// outer middleware is assumed to have already gated the request on
// signature/auth (spec.md §1 — "treated as opaque gates in front of the
// ingest endpoint"); this handler starts at step 2 of the algorithm.
func (h *Handler) Chunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, chunkerr.New(chunkerr.ErrMalformedRequest, "", "could not parse multipart form"))
		return
	}

	uploadID := r.FormValue("upload_id")
	chunkIndexStr := r.FormValue("chunk_index")
	chunkHash := r.FormValue("chunk_hash")

	chunkIndex, err := strconv.ParseInt(chunkIndexStr, 10, 64)
	if uploadID == "" || err != nil || chunkIndex < 0 || len(chunkHash) != chunkHashLen {
		writeError(w, chunkerr.New(chunkerr.ErrMalformedRequest, uploadID, "malformed chunk ingest request"))
		return
	}

	file, _, err := r.FormFile("chunk_data")
	if err != nil {
		writeError(w, chunkerr.New(chunkerr.ErrMalformedRequest, uploadID, "missing chunk_data"))
		return
	}
	defer file.Close()

	ctx := r.Context()

	session, err := h.store.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, chunkerr.New(chunkerr.ErrSessionMissing, uploadID, "session not found or expired"))
			return
		}

		h.logger.Error("loading session", "error", err, "upload_id", uploadID)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "session store unavailable"))
		return
	}

	if session.Complete {
		writeJSON(w, http.StatusOK, ChunkResponse{Complete: true, Path: session.FinalPath})
		return
	}

	if chunkIndex >= session.TotalChunks {
		writeError(w, chunkerr.NewChunk(chunkerr.ErrMalformedRequest, uploadID, int(chunkIndex), "chunk index out of range"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, chunkerr.NewChunk(chunkerr.ErrMalformedRequest, uploadID, int(chunkIndex), "could not read chunk body"))
		return
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != chunkHash {
		writeError(w, chunkerr.NewChunk(chunkerr.ErrHashMismatch, uploadID, int(chunkIndex), "chunk hash mismatch"))
		return
	}

	ext := extensionOf(session.FileInfo.Name)
	if err := h.writer.StoreChunk(uploadID, ext, chunkIndex, session.ChunkSize, bytesReader(data)); err != nil {
		h.logger.Error("storing chunk", "error", err, "upload_id", uploadID, "chunk_index", chunkIndex)
		writeError(w, err)
		return
	}

	updated, err := addChunk(ctx, h.store, uploadID, chunkIndex, h.sessionTTL, h.retryAttempts)
	if err != nil {
		h.logger.Error("recording received chunk", "error", err, "upload_id", uploadID, "chunk_index", chunkIndex)
		writeError(w, err)
		return
	}

	h.broadcastProgress(uploadID, updated)

	if updated.ReceivedCount() < int(updated.TotalChunks) {
		writeJSON(w, http.StatusOK, ChunkResponse{
			Progress: progressPercent(updated),
			Received: int64(updated.ReceivedCount()),
			Total:    updated.TotalChunks,
		})
		return
	}

	h.finalize(ctx, w, uploadID, updated)
}

// finalize is reached by the one request that observes the completing
// chunk. It re-reads the session first so a concurrent finalizer's
// final_path short-circuits every loser (spec.md §5 "Completion race").
func (h *Handler) finalize(ctx context.Context, w http.ResponseWriter, uploadID string, session *store.SessionRecord) {
	current, err := h.store.Get(ctx, uploadID)
	if err != nil {
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "re-reading session before finalize"))
		return
	}

	if current.Complete {
		writeJSON(w, http.StatusOK, ChunkResponse{Complete: true, Path: current.FinalPath})
		return
	}

	if h.sizeCapBytes > 0 && current.FileInfo.Size > h.sizeCapBytes {
		writeError(w, chunkerr.New(chunkerr.ErrSizeExceeded, uploadID,
			fmt.Sprintf("declared size %d exceeds cap %d", current.FileInfo.Size, h.sizeCapBytes)))

		_ = h.writer.Cleanup(uploadID, extensionOf(current.FileInfo.Name))

		return
	}

	ext := extensionOf(current.FileInfo.Name)

	finalPath, err := h.writer.AssembleFile(uploadID, ext, current.FileInfo.Name, current.FileInfo.Type, current.FileInfo.Size,
		func(tempPath string) error {
			if h.ruleset == nil {
				return nil
			}

			return h.ruleset.Validate(uploadID, tempPath, ext, current.FileInfo.Size)
		})
	if err != nil {
		h.logger.Error("assembling file", "error", err, "upload_id", uploadID)
		writeError(w, err)

		return
	}

	// Clients get the path relative to the uploads directory.
	finalPath = filepath.Base(finalPath)

	current.Complete = true
	current.FinalPath = finalPath

	if err := h.store.Put(ctx, current, h.sessionTTL); err != nil {
		h.logger.Error("persisting completed session", "error", err, "upload_id", uploadID)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "could not persist completed session"))

		return
	}

	h.broadcastProgress(uploadID, current)

	writeJSON(w, http.StatusOK, ChunkResponse{Complete: true, Path: finalPath})
}

func progressPercent(rec *store.SessionRecord) float64 {
	if rec.TotalChunks == 0 {
		return 0
	}

	return float64(rec.ReceivedCount()) / float64(rec.TotalChunks) * 100
}
