package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightfile/chunkupload/internal/chunkwriter"
	"github.com/brightfile/chunkupload/internal/store"
	"github.com/brightfile/chunkupload/internal/validate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) (*Handler, *store.FileStore, string) {
	t.Helper()

	dir := t.TempDir()

	sessDir := dir + "/.sessions"
	require.NoError(t, os.MkdirAll(sessDir, 0o755))

	fs, err := store.NewFileStore(sessDir, discardLogger())
	require.NoError(t, err)

	h := New(Deps{
		Store:         fs,
		Writer:        chunkwriter.New(dir),
		Ruleset:       validate.NewRuleset(0, nil, nil),
		Logger:        discardLogger(),
		SessionTTL:    time.Hour,
		RetryAttempts: 3,
		MaxChunkKB:    4096,
		MinChunks:     1,
		ChunkingOn:    true,
	})

	return h, fs, dir
}

func newTestHandlerCapped(t *testing.T, sizeCapBytes int64) (*Handler, *store.FileStore, string) {
	t.Helper()

	dir := t.TempDir()

	sessDir := dir + "/.sessions"
	require.NoError(t, os.MkdirAll(sessDir, 0o755))

	fs, err := store.NewFileStore(sessDir, discardLogger())
	require.NoError(t, err)

	h := New(Deps{
		Store:         fs,
		Writer:        chunkwriter.New(dir),
		Ruleset:       validate.NewRuleset(0, nil, nil),
		Logger:        discardLogger(),
		SessionTTL:    time.Hour,
		RetryAttempts: 3,
		SizeCapBytes:  sizeCapBytes,
		MaxChunkKB:    4096,
		MinChunks:     1,
		ChunkingOn:    true,
	})

	return h, fs, dir
}

func seedSession(t *testing.T, fs *store.FileStore, uploadID string, chunkSize, totalChunks, size int64) *store.SessionRecord {
	t.Helper()

	rec := &store.SessionRecord{
		UploadID:       uploadID,
		FileInfo:       store.FileInfo{Name: "video.bin", Type: "application/octet-stream", Size: size},
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		ReceivedChunks: make(map[int64]bool),
		CreatedAt:      time.Now(),
	}

	require.NoError(t, fs.Put(context.Background(), rec, time.Hour))

	return rec
}

func chunkRequest(t *testing.T, uploadID string, chunkIndex int64, data []byte, badHash bool) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	require.NoError(t, mw.WriteField("upload_id", uploadID))
	require.NoError(t, mw.WriteField("chunk_index", itoa(chunkIndex)))

	hash := hashOf(data)
	if badHash {
		hash = hashOf([]byte("wrong bytes entirely"))
	}

	require.NoError(t, mw.WriteField("chunk_hash", hash))

	part, err := mw.CreateFormFile("chunk_data", "chunk.bin")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func itoa(i int64) string {
	return strconv.FormatInt(i, 10)
}

// fakeStore is a minimal in-memory store.Store that deliberately does not
// implement store.CASStore, so addChunk (rmw.go) always takes the
// read-modify-write-with-verify fallback path rather than FileStore's CAS
// shortcut. freezeAfterGet, once set, makes Put a silent no-op so a
// verify-read never observes the write, exhausting the retry budget.
type fakeStore struct {
	mu             sync.Mutex
	records        map[string]*store.SessionRecord
	freezeAfterGet bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*store.SessionRecord)}
}

func (f *fakeStore) Put(_ context.Context, record *store.SessionRecord, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.freezeAfterGet {
		return nil
	}

	f.records[record.UploadID] = record.Clone()

	return nil
}

func (f *fakeStore) Get(_ context.Context, uploadID string) (*store.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[uploadID]
	if !ok {
		return nil, store.ErrNotFound
	}

	return rec.Clone(), nil
}

func (f *fakeStore) FindByFileHash(context.Context, string) (*store.SessionRecord, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) Delete(_ context.Context, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.records, uploadID)

	return nil
}

func (f *fakeStore) ListExpired(context.Context, time.Time) ([]*store.SessionRecord, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)
