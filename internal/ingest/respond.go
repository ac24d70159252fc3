package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/brightfile/chunkupload/internal/chunkerr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := chunkerr.StatusCode(err)

	if status == http.StatusConflict {
		var chunkErr *chunkerr.Error
		if e, ok := err.(*chunkerr.Error); ok {
			chunkErr = e
		}

		idx := int64(0)
		if chunkErr != nil && chunkErr.ChunkIndex >= 0 {
			idx = int64(chunkErr.ChunkIndex)
		}

		writeJSON(w, status, ChunkConflict{ChunkIndex: idx})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
