package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/brightfile/chunkupload/internal/chunkerr"
	"github.com/brightfile/chunkupload/internal/sizing"
	"github.com/brightfile/chunkupload/internal/store"
)

// uploadIDBytes random bytes, hex-encoded at two characters per byte, give
// the 64-hex-char token spec.md §3 requires.
const uploadIDBytes = 32

// Initiate decides whether a file should be chunked and, if so, returns
// either a brand-new session or — when the client supplied a file hash
// that matches an in-flight session — the existing one, so the dispatcher
// can resume instead of re-uploading everything (spec.md §8 S3).
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Size < 0 {
		writeError(w, chunkerr.New(chunkerr.ErrMalformedRequest, "", "invalid initiate request body"))
		return
	}

	decision, err := sizing.Decide(req.Size, h.maxChunkKB, h.minChunks, h.chunkingOn, true, false)
	if err != nil {
		writeError(w, err)
		return
	}

	if !decision.ShouldChunk {
		writeJSON(w, http.StatusOK, InitiateResponse{ShouldChunk: false})
		return
	}

	ctx := r.Context()

	if req.Hash != "" {
		if existing, err := h.store.FindByFileHash(ctx, req.Hash); err == nil {
			writeJSON(w, http.StatusOK, resumeResponse(existing))
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("looking up existing session by file hash", "error", err)
			writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, "", "session store unavailable"))
			return
		}
	}

	uploadID, err := newUploadID()
	if err != nil {
		h.logger.Error("generating upload id", "error", err)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, "", "could not generate upload id"))
		return
	}

	record := &store.SessionRecord{
		UploadID: uploadID,
		FileInfo: store.FileInfo{
			Name: req.Name,
			Type: req.Type,
			Size: req.Size,
			Hash: req.Hash,
		},
		ChunkSize:      decision.ChunkSize,
		TotalChunks:    decision.TotalChunks,
		ReceivedChunks: make(map[int64]bool),
		CreatedAt:      time.Now(),
	}

	if err := h.store.Put(ctx, record, h.sessionTTL); err != nil {
		h.logger.Error("persisting new session", "error", err, "upload_id", uploadID)
		writeError(w, chunkerr.New(chunkerr.ErrWriteFailure, uploadID, "could not persist session"))
		return
	}

	writeJSON(w, http.StatusOK, InitiateResponse{
		ShouldChunk: true,
		UploadID:    uploadID,
		ChunkSize:   decision.ChunkSize,
		TotalChunks: decision.TotalChunks,
	})
}

func resumeResponse(rec *store.SessionRecord) InitiateResponse {
	return InitiateResponse{
		ShouldChunk:    true,
		UploadID:       rec.UploadID,
		ChunkSize:      rec.ChunkSize,
		TotalChunks:    rec.TotalChunks,
		ReceivedChunks: sortedIndices(rec.ReceivedChunks),
	}
}

func sortedIndices(set map[int64]bool) []int64 {
	indices := make([]int64, 0, len(set))
	for i, present := range set {
		if present {
			indices = append(indices, i)
		}
	}

	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	return indices
}

func newUploadID() (string, error) {
	buf := make([]byte, uploadIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
