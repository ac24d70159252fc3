package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when an unknown config key is detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid "section.key" pairs in the config file.
var knownKeys = map[string]bool{
	"chunked_upload.enabled": true, "chunked_upload.max_chunk_kb": true,
	"chunked_upload.min_chunks": true, "chunked_upload.session_ttl": true,
	"chunked_upload.retry_attempts": true, "chunked_upload.uploads_dir": true,
	"chunked_upload.size_cap": true, "chunked_upload.allowed_mime": true,
	"chunked_upload.allowed_ext": true,
	"store.backend":             true, "store.dir": true, "store.dsn": true,
	"server.listen_addr":      true,
	"server.read_timeout":     true,
	"server.write_timeout":    true,
	"server.shutdown_timeout": true,
	"server.websocket":        true,
	"server.shared_secret":    true,
	"logging.log_level":       true,
	"logging.log_format":      true,
}

var knownKeysList = sortedKeys(knownKeys)

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with a "did you mean?" suggestion for each one.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var msgs []string

	for _, key := range undecoded {
		keyStr := key.String()
		if knownKeys[keyStr] {
			continue
		}

		// A key whose section is itself unrecognized is reported without a
		// suggestion; an unknown key inside a known section is reported with
		// the closest known key, when one is near enough.
		section := strings.SplitN(keyStr, ".", 2)[0]
		if !sectionKnown(section) {
			msgs = append(msgs, unknownKeyError(keyStr))
			continue
		}

		if suggestion := closestMatch(keyStr, knownKeysList); suggestion != "" {
			msgs = append(msgs, fmt.Sprintf("unknown config key %q — did you mean %q?", keyStr, suggestion))
		} else {
			msgs = append(msgs, fmt.Sprintf("unknown config key %q", keyStr))
		}
	}

	if len(msgs) > 0 {
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}

	return nil
}

func sectionKnown(section string) bool {
	switch section {
	case "chunked_upload", "store", "server", "logging":
		return true
	default:
		return false
	}
}

func unknownKeyError(keyStr string) string {
	if suggestion := closestMatch(keyStr, knownKeysList); suggestion != "" {
		return fmt.Sprintf("unknown config section in key %q — did you mean %q?", keyStr, suggestion)
	}

	return fmt.Sprintf("unknown config key %q", keyStr)
}

// closestMatch finds the closest known key by Levenshtein distance, within
// maxLevenshteinDistance. Returns "" if nothing is close enough.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using a
// single-row optimization to avoid allocating a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
