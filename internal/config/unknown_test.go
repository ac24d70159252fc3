package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeForUnknownKeys(t *testing.T, data string) toml.MetaData {
	t.Helper()

	cfg := DefaultConfig()
	md, err := toml.Decode(data, cfg)
	require.NoError(t, err)

	return md
}

func TestCheckUnknownKeys_NoUnknowns(t *testing.T) {
	md := decodeForUnknownKeys(t, `
[chunked_upload]
max_chunk_kb = 2048

[server]
listen_addr = ":9090"
`)

	assert.NoError(t, checkUnknownKeys(&md))
}

func TestCheckUnknownKeys_TyposSuggestClosestMatch(t *testing.T) {
	md := decodeForUnknownKeys(t, `
[chunked_upload]
max_chunk_kbb = 2048
`)

	err := checkUnknownKeys(&md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_chunk_kbb")
	assert.Contains(t, err.Error(), "max_chunk_kb")
}

func TestCheckUnknownKeys_UnknownSection(t *testing.T) {
	md := decodeForUnknownKeys(t, `
[totally_unknown_section]
foo = "bar"
`)

	err := checkUnknownKeys(&md)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "totally_unknown_section")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
}

func TestClosestMatch_TooFarReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", closestMatch("completely_unrelated_key_name", knownKeysList))
}
