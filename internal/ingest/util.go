package ingest

import (
	"bytes"
	"io"
	"strings"
)

// extensionOf returns the file extension (without the leading dot) from a
// declared filename, or "" if there is none. chunkwriter sanitizes
// whatever is passed to it, so a hostile filename is harmless here.
func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}

	return name[i+1:]
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
