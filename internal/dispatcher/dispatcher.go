// Package dispatcher implements the reference Chunk Dispatcher (C5,
// spec.md §4.5): slices a local file into the chunk layout the server's
// sizing policy chose, uploads chunks concurrently with bounded
// parallelism, retries transient failures with exponential backoff, and
// reports progress. It is the Go-side half of the wire protocol the
// browser-side dispatcher in spec.md implements in JavaScript.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrNotChunked is returned by Upload when the server's sizing policy
// decided the file should not be chunked (spec.md §4.1) — the framework's
// ordinary single-request upload path handles it instead, and that path
// is out of scope for this core (spec.md §1).
var ErrNotChunked = errors.New("dispatcher: file does not qualify for chunked upload")

// ErrRetriesExhausted mirrors chunkerr.ErrRetriesExhausted on the client
// side: a chunk failed every retry attempt and the whole upload is
// abandoned (spec.md §7).
var ErrRetriesExhausted = errors.New("dispatcher: chunk retries exhausted")

// Config controls the dispatcher's concurrency and retry behavior.
type Config struct {
	Concurrency int           // max in-flight chunk uploads; 0 defaults to 4
	MaxRetries  int           // per-chunk retry budget; 0 defaults to 3
	BaseDelay   time.Duration // backoff unit; 0 defaults to 200ms
}

// Dispatcher uploads files to a running chunked-upload server.
type Dispatcher struct {
	client      *http.Client
	baseURL     string
	concurrency int64
	maxRetries  int
	baseDelay   time.Duration

	cancelled chan struct{}
}

const (
	defaultConcurrency = 4
	defaultMaxRetries  = 3
	defaultBaseDelay   = 200 * time.Millisecond
)

// New returns a Dispatcher targeting baseURL (the ingest endpoint's host,
// e.g. "http://localhost:8080"). httpClient may be nil to use
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client, cfg Config) *Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	return &Dispatcher{
		client:      httpClient,
		baseURL:     baseURL,
		concurrency: int64(concurrency),
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		cancelled:   make(chan struct{}),
	}
}

// Cancel interrupts all in-flight and future chunk uploads for every
// Upload call sharing this Dispatcher (spec.md §5 "Cancellation
// semantics"). Idempotent; safe to call more than once.
func (d *Dispatcher) Cancel() {
	select {
	case <-d.cancelled:
	default:
		close(d.cancelled)
	}
}

// ProgressFunc is called after each chunk completes with the running
// uploaded-byte count and the file's total size.
type ProgressFunc func(uploadedBytes, totalBytes int64)

// Result is the outcome of a single file's chunked upload.
type Result struct {
	UploadID string
	Path     string // final path relative to the server's uploads directory
}

// initiateRequest/initiateResponse/chunkResponse/chunkConflict mirror the
// ingest package's wire types without importing it — the dispatcher is a
// standalone client that only knows the HTTP contract in spec.md §6.
type initiateRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Hash string `json:"hash,omitempty"`
}

type initiateResponse struct {
	ShouldChunk    bool    `json:"should_chunk"`
	UploadID       string  `json:"upload_id,omitempty"`
	ChunkSize      int64   `json:"chunk_size,omitempty"`
	TotalChunks    int64   `json:"total_chunks,omitempty"`
	ReceivedChunks []int64 `json:"received_chunks,omitempty"`
}

type chunkResponse struct {
	Progress float64 `json:"progress,omitempty"`
	Received int64   `json:"received,omitempty"`
	Total    int64   `json:"total,omitempty"`
	Complete bool    `json:"complete,omitempty"`
	Path     string  `json:"path,omitempty"`
}

type chunkConflict struct {
	ChunkIndex int64 `json:"chunkIndex"`
}

// Upload slices path according to the server's sizing decision, uploads
// every pending chunk with bounded concurrency, and returns the final
// server path once assembly succeeds. Returns ErrNotChunked if the server
// decided this file is too small to chunk.
func (d *Dispatcher) Upload(ctx context.Context, path string, progress ProgressFunc) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("dispatcher: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("dispatcher: statting %s: %w", path, err)
	}

	fileHash, err := sha256OfFile(f)
	if err != nil {
		return Result{}, fmt.Errorf("dispatcher: hashing %s: %w", path, err)
	}

	init, err := d.initiate(ctx, info.Name(), info.Size(), fileHash)
	if err != nil {
		return Result{}, err
	}

	if !init.ShouldChunk {
		return Result{}, ErrNotChunked
	}

	pending := pendingIndices(init.TotalChunks, init.ReceivedChunks)

	// lastReceived is re-sent (spec.md §9 "re-send the last chunk"), so it
	// must not be double-counted against the already-received bytes below.
	lastReceived := int64(-1)
	receivedSet := make(map[int64]bool, len(init.ReceivedChunks))

	for _, i := range init.ReceivedChunks {
		receivedSet[i] = true

		if i > lastReceived {
			lastReceived = i
		}
	}

	var uploaded int64

	for i := range receivedSet {
		if i == lastReceived {
			continue
		}

		uploaded += chunkLen(i, init.ChunkSize, info.Size())
	}

	if progress != nil && uploaded > 0 {
		progress(uploaded, info.Size())
	}

	result := Result{UploadID: init.UploadID}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(d.concurrency)

	var mu gosync.Mutex

	for _, idx := range pending {
		idx := idx

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			n := chunkLen(idx, init.ChunkSize, info.Size())

			resp, err := d.uploadChunkWithRetry(gctx, init.UploadID, idx, init.ChunkSize, path, info.Size())
			if err != nil {
				return err
			}

			mu.Lock()
			uploaded += n
			if resp.Complete {
				result.Path = resp.Path
			}
			snapshot := uploaded
			mu.Unlock()

			if progress != nil {
				progress(snapshot, info.Size())
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if result.Path == "" {
		// No chunk response reported completion, so there is no final
		// path to return; the upload is reported as an error rather than
		// queried again.
		return Result{}, errors.New("dispatcher: upload did not reach completion")
	}

	return result, nil
}

func (d *Dispatcher) initiate(ctx context.Context, name string, size int64, hash string) (initiateResponse, error) {
	body, err := json.Marshal(initiateRequest{Name: name, Size: size, Hash: hash})
	if err != nil {
		return initiateResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/initiate", bytes.NewReader(body))
	if err != nil {
		return initiateResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return initiateResponse{}, fmt.Errorf("dispatcher: initiate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return initiateResponse{}, fmt.Errorf("dispatcher: initiate failed with status %d", resp.StatusCode)
	}

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return initiateResponse{}, fmt.Errorf("dispatcher: decoding initiate response: %w", err)
	}

	return out, nil
}

// uploadChunkWithRetry sends one chunk, retrying on a 409 hash-mismatch
// response or a network error with exponential backoff
// 2^attempt*baseDelay, up to maxRetries (spec.md §4.5 step 2d).
func (d *Dispatcher) uploadChunkWithRetry(ctx context.Context, uploadID string, idx, chunkSize int64, path string, fileSize int64) (chunkResponse, error) {
	// Cancel aborts a request that is already in flight, not only the
	// attempts after it.
	ctx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	go func() {
		select {
		case <-d.cancelled:
			cancelReq()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		select {
		case <-d.cancelled:
			return chunkResponse{}, errors.New("dispatcher: upload cancelled")
		default:
		}

		resp, status, err := d.sendChunk(ctx, uploadID, idx, chunkSize, path, fileSize)
		if err == nil && status == http.StatusOK {
			return resp, nil
		}

		retriable := err != nil || status == http.StatusConflict
		if !retriable {
			if err == nil {
				err = fmt.Errorf("dispatcher: chunk %d upload failed with status %d", idx, status)
			}

			return chunkResponse{}, err
		}

		backoff := time.Duration(1<<uint(attempt)) * d.baseDelay

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return chunkResponse{}, ctx.Err()
		case <-d.cancelled:
			return chunkResponse{}, errors.New("dispatcher: upload cancelled")
		}
	}

	return chunkResponse{}, fmt.Errorf("%w: chunk %d after %d attempts", ErrRetriesExhausted, idx, d.maxRetries)
}

func (d *Dispatcher) sendChunk(ctx context.Context, uploadID string, idx, chunkSize int64, path string, fileSize int64) (chunkResponse, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return chunkResponse{}, 0, err
	}
	defer f.Close()

	start := idx * chunkSize
	length := chunkLen(idx, chunkSize, fileSize)
	section := io.NewSectionReader(f, start, length)

	data, err := io.ReadAll(section)
	if err != nil {
		return chunkResponse{}, 0, err
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	_ = mw.WriteField("upload_id", uploadID)
	_ = mw.WriteField("chunk_index", strconv.FormatInt(idx, 10))
	_ = mw.WriteField("chunk_hash", hash)

	part, err := mw.CreateFormFile("chunk_data", "chunk")
	if err != nil {
		return chunkResponse{}, 0, err
	}

	if _, err := part.Write(data); err != nil {
		return chunkResponse{}, 0, err
	}

	if err := mw.Close(); err != nil {
		return chunkResponse{}, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chunk", &buf)
	if err != nil {
		return chunkResponse{}, 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return chunkResponse{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var conflict chunkConflict
		_ = json.NewDecoder(resp.Body).Decode(&conflict)

		return chunkResponse{}, resp.StatusCode, nil
	}

	if resp.StatusCode != http.StatusOK {
		return chunkResponse{}, resp.StatusCode, nil
	}

	var out chunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chunkResponse{}, 0, err
	}

	return out, resp.StatusCode, nil
}

// pendingIndices returns [0,total) minus received, with the highest
// received index appended once more at the front — spec.md §9's
// "re-send the last chunk" resumability policy guards against a torn
// write from a prior crashed client.
func pendingIndices(total int64, received []int64) []int64 {
	receivedSet := make(map[int64]bool, len(received))

	var lastReceived int64 = -1

	for _, i := range received {
		receivedSet[i] = true

		if i > lastReceived {
			lastReceived = i
		}
	}

	var pending []int64

	if lastReceived >= 0 {
		pending = append(pending, lastReceived)
	}

	for i := int64(0); i < total; i++ {
		if !receivedSet[i] {
			pending = append(pending, i)
		}
	}

	return pending
}

func chunkLen(idx, chunkSize, fileSize int64) int64 {
	start := idx * chunkSize
	end := start + chunkSize

	if end > fileSize {
		end = fileSize
	}

	return end - start
}

func sha256OfFile(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// BatchResult is returned by UploadBatch: the framework's "notify on batch
// completion" step (spec.md §4.5 step 3) needs the list of completed
// upload IDs and whether more than one file was involved.
type BatchResult struct {
	CompletedUploadIDs []string
	MultiFile          bool
}

// UploadBatch uploads every path with the same bounded concurrency as a
// single Upload call, and returns once every file has completed or the
// first terminal error occurs. progress is handed to each file's Upload,
// so every call reports that one file's uploaded bytes and size; the
// counts are not summed across the batch.
func (d *Dispatcher) UploadBatch(ctx context.Context, paths []string, progress ProgressFunc) (BatchResult, error) {
	results := make([]Result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(d.concurrency)

	for i, p := range paths {
		i, p := i, p

		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			res, err := d.Upload(gctx, p, progress)
			if err != nil {
				return fmt.Errorf("dispatcher: uploading %s: %w", p, err)
			}

			results[i] = res

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.UploadID
	}

	sort.Strings(ids)

	return BatchResult{CompletedUploadIDs: ids, MultiFile: len(paths) > 1}, nil
}
