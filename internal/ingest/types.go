// Package ingest implements the Ingest Endpoint (C4): the HTTP handler
// that validates, hash-checks, writes, and assembles chunked uploads, plus
// the status/cancel endpoints and live progress hub that a complete
// server around this core needs.
package ingest

import (
	"log/slog"
	"time"

	"github.com/brightfile/chunkupload/internal/chunkwriter"
	"github.com/brightfile/chunkupload/internal/store"
	"github.com/brightfile/chunkupload/internal/validate"
)

// Deps bundles everything the Handler needs from the rest of the core. It
// is a plain struct, not an interface, because the concrete store.Store
// and chunkwriter.Writer/validate.Ruleset types are already the minimal
// contracts — see Handler's fields for the parts tests substitute.
type Deps struct {
	Store         store.Store
	Writer        *chunkwriter.Writer
	Ruleset       *validate.Ruleset
	Hub           *Hub // nil disables progress broadcast
	Logger        *slog.Logger
	SessionTTL    time.Duration
	RetryAttempts int
	SizeCapBytes  int64
	MaxChunkKB    int64
	MinChunks     int
	ChunkingOn    bool
}

// Handler implements the HTTP surface around the chunked upload core.
type Handler struct {
	store         store.Store
	writer        *chunkwriter.Writer
	ruleset       *validate.Ruleset
	hub           *Hub
	logger        *slog.Logger
	sessionTTL    time.Duration
	retryAttempts int
	sizeCapBytes  int64
	maxChunkKB    int64
	minChunks     int
	chunkingOn    bool
}

// New builds a Handler from Deps.
func New(d Deps) *Handler {
	return &Handler{
		store:         d.Store,
		writer:        d.Writer,
		ruleset:       d.Ruleset,
		hub:           d.Hub,
		logger:        d.Logger,
		sessionTTL:    d.SessionTTL,
		retryAttempts: d.RetryAttempts,
		sizeCapBytes:  d.SizeCapBytes,
		maxChunkKB:    d.MaxChunkKB,
		minChunks:     d.MinChunks,
		chunkingOn:    d.ChunkingOn,
	}
}

// InitiateRequest is the JSON body the framework sends to start a chunked
// upload. The core is the one issuing upload_id here — see spec.md §2's
// note that "the framework asks C3 per file to decide the strategy and
// issues an upload_id"; in this standalone server, initiation and sizing
// are one HTTP round trip.
type InitiateRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Hash string `json:"hash,omitempty"`
}

// InitiateResponse tells the client whether to chunk at all, and if so,
// the session to resume or a freshly created one.
type InitiateResponse struct {
	ShouldChunk    bool    `json:"should_chunk"`
	UploadID       string  `json:"upload_id,omitempty"`
	ChunkSize      int64   `json:"chunk_size,omitempty"`
	TotalChunks    int64   `json:"total_chunks,omitempty"`
	ReceivedChunks []int64 `json:"received_chunks,omitempty"`
}

// ChunkResponse is the ingest endpoint's 200 response (spec.md §6), for
// both the partial and the completing case.
type ChunkResponse struct {
	Progress float64 `json:"progress,omitempty"`
	Received int64   `json:"received,omitempty"`
	Total    int64   `json:"total,omitempty"`
	Complete bool    `json:"complete,omitempty"`
	Path     string  `json:"path,omitempty"`
}

// ChunkConflict is the 409 body identifying which chunk must be retried.
type ChunkConflict struct {
	ChunkIndex int64 `json:"chunkIndex"`
}

// StatusResponse answers GET requests against an in-flight or completed
// upload without mutating received_chunks.
type StatusResponse struct {
	UploadID       string  `json:"upload_id"`
	Received       int     `json:"received"`
	Total          int64   `json:"total"`
	Complete       bool    `json:"complete"`
	Path           string  `json:"path,omitempty"`
	ReceivedChunks []int64 `json:"received_chunks"`
}
