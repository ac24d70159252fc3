package chunkwriter

import (
	"strings"

	"github.com/brightfile/chunkupload/internal/chunkerr"
)

// maxSanitizedExtLen is the longest extension the writer will accept after
// sanitization (spec §4.3).
const maxSanitizedExtLen = 10

// SanitizeUploadID strips path separators, null bytes, ".." sequences, and
// any character outside [A-Za-z0-9_-] from id. An empty result is a
// sanitization failure — any upload_id that maps to "" must never reach
// the filesystem.
func SanitizeUploadID(id string) (string, error) {
	clean := sanitizeComponent(id, isUploadIDRune)
	if clean == "" {
		return "", chunkerr.New(chunkerr.ErrInvalidUploadID, id, "upload id is empty after sanitization")
	}

	return clean, nil
}

// SanitizeExt strips the same forbidden characters from ext, additionally
// restricting to [A-Za-z0-9] (no underscore/hyphen) and a 10-character
// cap. An empty or all-stripped extension is valid — files may have none.
func SanitizeExt(ext string) string {
	clean := sanitizeComponent(ext, isExtRune)
	if len(clean) > maxSanitizedExtLen {
		clean = clean[:maxSanitizedExtLen]
	}

	return clean
}

func sanitizeComponent(s string, keep func(rune) bool) string {
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\x00", "")

	var b strings.Builder

	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

func isUploadIDRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

func isExtRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
