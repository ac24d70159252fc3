// Package validate implements the assembled-file ruleset: a size cap, an
// extension allow-list, and a MIME allow-list established by sniffing the
// file's content rather than trusting the client-declared type. The
// sniffing approach is grounded on the chunked upload service in the
// file-explorer reference implementation, which runs http.DetectContentType
// over the first 512 bytes of the assembled file before accepting it.
package validate

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/brightfile/chunkupload/internal/chunkerr"
)

// sniffBufSize matches http.DetectContentType's documented read window.
const sniffBufSize = 512

// Ruleset holds the configured limits an assembled file must satisfy.
type Ruleset struct {
	SizeCapBytes int64
	AllowedExt   map[string]struct{}
	AllowedMIME  map[string]struct{}
}

// NewRuleset builds a Ruleset from configuration-shaped slices. Empty
// allow-lists mean "no restriction" for that dimension, matching the
// file-explorer reference's isAllowedMIME behavior for an empty set.
func NewRuleset(sizeCapBytes int64, allowedExt, allowedMIME []string) *Ruleset {
	r := &Ruleset{
		SizeCapBytes: sizeCapBytes,
		AllowedExt:   make(map[string]struct{}, len(allowedExt)),
		AllowedMIME:  make(map[string]struct{}, len(allowedMIME)),
	}

	for _, ext := range allowedExt {
		r.AllowedExt[normalizeExt(ext)] = struct{}{}
	}

	for _, mt := range allowedMIME {
		r.AllowedMIME[strings.ToLower(mt)] = struct{}{}
	}

	return r
}

// Validate checks declaredSize against the size cap, ext against the
// extension allow-list, and the sniffed content type of the file at path
// against the MIME allow-list. uploadID is only used for error context.
func (r *Ruleset) Validate(uploadID, path, ext string, declaredSize int64) error {
	if r.SizeCapBytes > 0 && declaredSize > r.SizeCapBytes {
		return chunkerr.New(chunkerr.ErrSizeExceeded, uploadID,
			fmt.Sprintf("size %d exceeds cap %d", declaredSize, r.SizeCapBytes))
	}

	if !r.isAllowedExt(ext) {
		return chunkerr.New(chunkerr.ErrValidationFailure, uploadID,
			fmt.Sprintf("extension %q is not in the allow-list", ext))
	}

	detected, err := sniff(path)
	if err != nil {
		return chunkerr.New(chunkerr.ErrValidationFailure, uploadID, fmt.Sprintf("sniffing content type: %v", err))
	}

	if !r.isAllowedMIME(detected) {
		return chunkerr.New(chunkerr.ErrValidationFailure, uploadID,
			fmt.Sprintf("detected content type %q is not in the allow-list", detected))
	}

	return nil
}

func (r *Ruleset) isAllowedExt(ext string) bool {
	if len(r.AllowedExt) == 0 {
		return true
	}

	_, ok := r.AllowedExt[normalizeExt(ext)]
	return ok
}

// isAllowedMIME accepts an exact match or a "type/*" wildcard entry,
// matching the file-explorer reference's isAllowedMIME.
func (r *Ruleset) isAllowedMIME(mime string) bool {
	if len(r.AllowedMIME) == 0 {
		return true
	}

	base := strings.ToLower(strings.SplitN(mime, ";", 2)[0])

	if _, ok := r.AllowedMIME[base]; ok {
		return true
	}

	wildcard := strings.SplitN(base, "/", 2)[0] + "/*"
	_, ok := r.AllowedMIME[wildcard]

	return ok
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffBufSize)

	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	return http.DetectContentType(buf[:n]), nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
