package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightfile/chunkupload/internal/chunkerr"
	"github.com/brightfile/chunkupload/internal/store"
)

// S1: every chunk arrives once, in order, and the final chunk completes and
// assembles the file.
func TestChunk_HappyPathAssemblesFile(t *testing.T) {
	h, fs, dir := newTestHandler(t)

	const uploadID = "upload-happy"
	seedSession(t, fs, uploadID, 4, 2, 8)

	data0 := []byte{0, 1, 2, 3}
	data1 := []byte{4, 5, 6, 7}

	rec0 := httptest.NewRecorder()
	h.Chunk(rec0, chunkRequest(t, uploadID, 0, data0, false))
	require.Equal(t, http.StatusOK, rec0.Code)

	var resp0 ChunkResponse
	require.NoError(t, json.NewDecoder(rec0.Body).Decode(&resp0))
	assert.False(t, resp0.Complete)
	assert.Equal(t, int64(1), resp0.Received)

	rec1 := httptest.NewRecorder()
	h.Chunk(rec1, chunkRequest(t, uploadID, 1, data1, false))
	require.Equal(t, http.StatusOK, rec1.Code)

	var resp1 ChunkResponse
	require.NoError(t, json.NewDecoder(rec1.Body).Decode(&resp1))
	require.True(t, resp1.Complete)
	require.NotEmpty(t, resp1.Path)

	info, err := os.Stat(filepath.Join(dir, resp1.Path))
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size())

	sidecar, err := os.ReadFile(filepath.Join(dir, resp1.Path) + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(sidecar), `"video.bin"`)
}

// S2: a wrong chunk_hash must be rejected with a 409 naming the offending
// chunk, never partially written into the session's received set.
func TestChunk_HashMismatchReturnsConflict(t *testing.T) {
	h, fs, _ := newTestHandler(t)

	const uploadID = "upload-badhash"
	seedSession(t, fs, uploadID, 4, 1, 4)

	rec := httptest.NewRecorder()
	h.Chunk(rec, chunkRequest(t, uploadID, 0, []byte{1, 2, 3, 4}, true))

	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict ChunkConflict
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&conflict))
	assert.Equal(t, int64(0), conflict.ChunkIndex)

	updated, err := fs.Get(context.Background(), uploadID)
	require.NoError(t, err)
	assert.False(t, updated.HasChunk(0))
}

// S3: resending an already-recorded chunk (the dispatcher's resumability
// policy — "always resend the last received chunk") must be idempotent and
// must not advance completion past what was truly received.
func TestChunk_DuplicateChunkIsIdempotent(t *testing.T) {
	h, fs, _ := newTestHandler(t)

	const uploadID = "upload-dup"
	seedSession(t, fs, uploadID, 4, 2, 8)

	data0 := []byte{9, 9, 9, 9}

	for range 2 {
		rec := httptest.NewRecorder()
		h.Chunk(rec, chunkRequest(t, uploadID, 0, data0, false))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ChunkResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.False(t, resp.Complete)
		assert.Equal(t, int64(1), resp.Received)
	}

	current, err := fs.Get(context.Background(), uploadID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.ReceivedCount())
}

// S4: two requests racing to deliver the last two missing chunks must
// produce exactly one assembled file and exactly one sidecar. FileStore's
// AddChunkCAS serializes the two updates, so only the request whose chunk
// completes the set observes completion; the other reports 2 of 3.
func TestChunk_ConcurrentCompletionOnlyOneAssembles(t *testing.T) {
	h, fs, dir := newTestHandler(t)

	const uploadID = "upload-race"
	rec := seedSession(t, fs, uploadID, 4, 3, 12)
	rec.ReceivedChunks[0] = true
	require.NoError(t, fs.Put(context.Background(), rec, time.Hour))
	require.NoError(t, h.writer.StoreChunk(uploadID, "bin", 0, 4, bytes.NewReader([]byte{0, 0, 0, 0})))

	data1 := []byte{1, 1, 1, 1}
	data2 := []byte{2, 2, 2, 2}

	var wg sync.WaitGroup
	recorders := make([]*httptest.ResponseRecorder, 2)

	wg.Add(2)

	go func() {
		defer wg.Done()
		recorders[0] = httptest.NewRecorder()
		h.Chunk(recorders[0], chunkRequest(t, uploadID, 1, data1, false))
	}()

	go func() {
		defer wg.Done()
		recorders[1] = httptest.NewRecorder()
		h.Chunk(recorders[1], chunkRequest(t, uploadID, 2, data2, false))
	}()

	wg.Wait()

	var paths []string

	for _, r := range recorders {
		require.Equal(t, http.StatusOK, r.Code)

		var resp ChunkResponse
		require.NoError(t, json.NewDecoder(r.Body).Decode(&resp))

		if resp.Complete {
			require.NotEmpty(t, resp.Path)
			paths = append(paths, resp.Path)
		} else {
			assert.Equal(t, int64(2), resp.Received)
		}
	}

	require.Len(t, paths, 1, "only the racer that records the last missing chunk observes completion")
	assert.FileExists(t, filepath.Join(dir, paths[0]), "the completing racer's path must name the assembled file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	sidecars := 0

	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			sidecars++
		}
	}

	assert.Equal(t, 1, sidecars, "exactly one sidecar must be written despite the race")
}

// S5: a session whose declared size exceeds the configured cap is rejected
// at finalize time and its temp file is cleaned up, never assembled.
func TestFinalize_OversizeRejected(t *testing.T) {
	h, fs, dir := newTestHandlerCapped(t, 4)

	const uploadID = "upload-oversize"
	seedSession(t, fs, uploadID, 8, 1, 8)

	rec := httptest.NewRecorder()
	h.Chunk(rec, chunkRequest(t, uploadID, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8}, false))

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	_, err := os.Stat(filepath.Join(dir, uploadID+".bin"))
	assert.True(t, os.IsNotExist(err), "temp file must be cleaned up when the size cap rejects finalize")
}

func TestChunk_UnknownSessionReturnsNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Chunk(rec, chunkRequest(t, "does-not-exist", 0, []byte{1, 2, 3, 4}, false))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// S3 continued: Initiate must hand back the in-flight session (with its
// received chunks) when the client supplies a matching file hash instead of
// minting a second upload_id for the same file.
func TestInitiate_NewSessionThenResumeByHash(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body, err := json.Marshal(InitiateRequest{Name: "movie.mp4", Type: "video/mp4", Size: 50 << 20, Hash: "abc123"})
	require.NoError(t, err)

	rec1 := httptest.NewRecorder()
	h.Initiate(rec1, httptest.NewRequest(http.MethodPost, "/initiate", bytesReader(body)))
	require.Equal(t, http.StatusOK, rec1.Code)

	var first InitiateResponse
	require.NoError(t, json.NewDecoder(rec1.Body).Decode(&first))
	require.True(t, first.ShouldChunk)
	require.NotEmpty(t, first.UploadID)
	require.Greater(t, first.TotalChunks, int64(0))

	rec2 := httptest.NewRecorder()
	h.Initiate(rec2, httptest.NewRequest(http.MethodPost, "/initiate", bytesReader(body)))
	require.Equal(t, http.StatusOK, rec2.Code)

	var second InitiateResponse
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&second))
	assert.Equal(t, first.UploadID, second.UploadID)
	assert.Empty(t, second.ReceivedChunks)
}

func TestStatus_ReturnsProgressWithoutMutating(t *testing.T) {
	h, fs, _ := newTestHandler(t)

	const uploadID = "upload-status"
	seedSession(t, fs, uploadID, 4, 2, 8)

	chunkRec := httptest.NewRecorder()
	h.Chunk(chunkRec, chunkRequest(t, uploadID, 0, []byte{1, 2, 3, 4}, false))
	require.Equal(t, http.StatusOK, chunkRec.Code)

	statusReq := httptest.NewRequest(http.MethodGet, "/status?upload_id="+uploadID, nil)
	statusRec := httptest.NewRecorder()
	h.Status(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(statusRec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Received)
	assert.False(t, resp.Complete)

	after, err := fs.Get(context.Background(), uploadID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.ReceivedCount(), "Status must not mutate received_chunks")
}

func TestCancel_DeletesSessionAndTempFile(t *testing.T) {
	h, fs, dir := newTestHandler(t)

	const uploadID = "upload-cancel"
	seedSession(t, fs, uploadID, 4, 2, 8)

	chunkRec := httptest.NewRecorder()
	h.Chunk(chunkRec, chunkRequest(t, uploadID, 0, []byte{1, 2, 3, 4}, false))
	require.Equal(t, http.StatusOK, chunkRec.Code)

	cancelReq := httptest.NewRequest(http.MethodPost, "/cancel?upload_id="+uploadID, nil)
	cancelRec := httptest.NewRecorder()
	h.Cancel(cancelRec, cancelReq)

	assert.Equal(t, http.StatusNoContent, cancelRec.Code)

	_, err := fs.Get(context.Background(), uploadID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = os.Stat(filepath.Join(dir, uploadID+".bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_DeletesExpiredSessions(t *testing.T) {
	h, fs, _ := newTestHandler(t)

	const uploadID = "upload-expired"
	rec := &store.SessionRecord{
		UploadID:       uploadID,
		FileInfo:       store.FileInfo{Name: "old.bin", Size: 4},
		ChunkSize:      4,
		TotalChunks:    1,
		ReceivedChunks: make(map[int64]bool),
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, fs.Put(context.Background(), rec, -time.Minute))

	swept, err := h.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = fs.Get(context.Background(), uploadID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Unit coverage for the read-modify-write-with-verify fallback (rmw.go),
// exercised directly against a Store that does not implement CASStore —
// FileStore always does, so the handler-level tests above never take this
// branch.
func TestAddChunk_FallsBackToRMWWithoutCAS(t *testing.T) {
	fs := newFakeStore()

	rec := &store.SessionRecord{
		UploadID:       "fallback",
		ChunkSize:      4,
		TotalChunks:    2,
		ReceivedChunks: make(map[int64]bool),
	}
	require.NoError(t, fs.Put(context.Background(), rec, time.Hour))

	updated, err := addChunk(context.Background(), fs, "fallback", 0, time.Hour, 3)
	require.NoError(t, err)
	assert.True(t, updated.HasChunk(0))

	persisted, err := fs.Get(context.Background(), "fallback")
	require.NoError(t, err)
	assert.True(t, persisted.HasChunk(0))
}

func TestAddChunk_RetriesExhaustedSurfacesChunkErr(t *testing.T) {
	fs := newFakeStore()

	rec := &store.SessionRecord{
		UploadID:       "frozen",
		ChunkSize:      4,
		TotalChunks:    2,
		ReceivedChunks: make(map[int64]bool),
	}
	require.NoError(t, fs.Put(context.Background(), rec, time.Hour))

	// Freeze writes only after the session exists, so every RMW attempt's
	// verify-read still observes the chunk missing and the loop exhausts
	// its retry budget.
	fs.freezeAfterGet = true

	_, err := addChunk(context.Background(), fs, "frozen", 0, time.Hour, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, chunkerr.ErrRetriesExhausted)
}
