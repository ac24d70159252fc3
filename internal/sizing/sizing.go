// Package sizing implements the chunked-upload sizing policy (C3): a pure
// function of file size that decides whether a file should be chunked and,
// if so, the chunk size and total chunk count to use.
package sizing

import (
	"math"

	"github.com/brightfile/chunkupload/internal/chunkerr"
)

// minChunkKB is the 4 MiB floor the sigmoid never drops below, regardless
// of how small the configured ceiling is.
const minChunkKB = 4096

// sigmoidMidpointLn is ln(file_size_bytes) at the sigmoid's midpoint,
// chosen so the curve's inflection sits around 1 GiB: e^20.7944 ≈ 1<<30.
const sigmoidMidpointLn = 20.7944

// Decision is the outcome of the sizing policy for one file.
type Decision struct {
	ShouldChunk bool
	ChunkSize   int64 // bytes; zero when ShouldChunk is false
	TotalChunks int64 // zero when ShouldChunk is false
}

// Decide applies the sigmoid sizing policy to fileSizeBytes, returning
// whether the file should be chunked and, if so, the chunk size and total
// chunk count. maxChunkKB is the configured ceiling (chunked_upload.
// max_chunk_kb); minChunks is the configured floor below which chunking is
// skipped in favor of the ordinary single-request upload path. isLocal
// reports whether the configured storage backend is the local filesystem
// — chunking is local-only (spec §1).
//
// Decide never fails for a local backend; enabled=false or a size below
// the chunk threshold simply yields ShouldChunk=false. Calling Decide with
// isLocal=false and chunkingRequested=true returns ErrConfiguration —
// chunking was explicitly requested against a backend that cannot support
// it.
func Decide(fileSizeBytes, maxChunkKB int64, minChunks int, enabled, isLocal, chunkingRequested bool) (Decision, error) {
	if chunkingRequested && !isLocal {
		return Decision{}, chunkerr.New(chunkerr.ErrConfiguration, "", "chunked uploads require a local storage backend")
	}

	if !enabled || !isLocal || fileSizeBytes <= 0 {
		return Decision{ShouldChunk: false}, nil
	}

	chunkSize := chunkSizeBytes(fileSizeBytes, maxChunkKB)
	total := int64(math.Ceil(float64(fileSizeBytes) / float64(chunkSize)))

	if total < int64(minChunks) {
		return Decision{ShouldChunk: false}, nil
	}

	return Decision{ShouldChunk: true, ChunkSize: chunkSize, TotalChunks: total}, nil
}

// chunkSizeBytes computes the sigmoid chunk size in bytes for a given file
// size and configured ceiling. Exported as ChunkSizeBytes for callers that
// need the same number without running the full policy decision.
func chunkSizeBytes(fileSizeBytes, maxChunkKB int64) int64 {
	maxKB := float64(maxChunkKB)
	if maxKB < minChunkKB {
		maxKB = minChunkKB
	}

	x := math.Log(float64(fileSizeBytes)) - sigmoidMidpointLn
	chunkKB := minChunkKB + (maxKB-minChunkKB)/(1+math.Exp(-x))

	return int64(math.Floor(chunkKB * 1024))
}

// ChunkSizeBytes exposes the sigmoid chunk-size calculation for callers
// that already know chunking applies. The dispatcher does not call it; it
// slices files by the chunk_size the server returns from initiate.
func ChunkSizeBytes(fileSizeBytes, maxChunkKB int64) int64 {
	return chunkSizeBytes(fileSizeBytes, maxChunkKB)
}
