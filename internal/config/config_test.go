package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, Validate(cfg))
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.ChunkedUpload.Enabled)
	assert.Equal(t, int64(defaultMaxChunkKB), cfg.ChunkedUpload.MaxChunkKB)
	assert.Equal(t, defaultMinChunks, cfg.ChunkedUpload.MinChunks)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.False(t, cfg.Server.Websocket)
	assert.NotEmpty(t, cfg.ChunkedUpload.AllowedExt)
	assert.NotEmpty(t, cfg.ChunkedUpload.AllowedMIME)
}

func TestDefaultConfig_AllowedListsAreIndependentCopies(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()

	a.ChunkedUpload.AllowedExt[0] = "mutated"

	assert.NotEqual(t, a.ChunkedUpload.AllowedExt[0], b.ChunkedUpload.AllowedExt[0])
}
