package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brightfile/chunkupload/internal/chunkerr"
	"github.com/brightfile/chunkupload/internal/store"
)

// addChunk records chunkIndex as received, using the store's CAS escape
// hatch when available and falling back to the read-modify-write-with-
// verify loop from spec.md §5 otherwise. On the read-modify-write path ttl
// re-arms the session's lifetime on every write. The CAS path takes no ttl
// and leaves the session's expiry where it was (FileStore rewrites the
// record with its remaining lifetime). Returns the up-to-date record.
func addChunk(ctx context.Context, s store.Store, uploadID string, chunkIndex int64, ttl time.Duration, retryAttempts int) (*store.SessionRecord, error) {
	if cas, ok := s.(store.CASStore); ok {
		rec, err := cas.AddChunkCAS(ctx, uploadID, chunkIndex)
		if err != nil {
			return nil, fmt.Errorf("ingest: CAS add chunk: %w", err)
		}

		return rec, nil
	}

	return addChunkRMW(ctx, s, uploadID, chunkIndex, ttl, retryAttempts)
}

func addChunkRMW(ctx context.Context, s store.Store, uploadID string, chunkIndex int64, ttl time.Duration, retryAttempts int) (*store.SessionRecord, error) {
	var last *store.SessionRecord

	for attempt := 0; attempt < retryAttempts; attempt++ {
		rec, err := s.Get(ctx, uploadID)
		if err != nil {
			return nil, err
		}

		if rec.HasChunk(chunkIndex) {
			return rec, nil
		}

		rec.ReceivedChunks[chunkIndex] = true
		last = rec

		if err := s.Put(ctx, rec, ttl); err != nil {
			return nil, fmt.Errorf("ingest: writing back received chunk: %w", err)
		}

		verify, err := s.Get(ctx, uploadID)
		if err != nil {
			return nil, err
		}

		if verify.HasChunk(chunkIndex) {
			return verify, nil
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, chunkerr.NewChunk(chunkerr.ErrRetriesExhausted, uploadID, int(chunkIndex),
		fmt.Sprintf("could not persist chunk after %d attempts (last seen: %d/%d received)", retryAttempts, last.ReceivedCount(), last.TotalChunks))
}
