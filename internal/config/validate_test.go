package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return DefaultConfig()
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidate_ChunkedUpload(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero max chunk", func(c *Config) { c.ChunkedUpload.MaxChunkKB = 0 }, "max_chunk_kb"},
		{"negative max chunk", func(c *Config) { c.ChunkedUpload.MaxChunkKB = -1 }, "max_chunk_kb"},
		{"zero min chunks", func(c *Config) { c.ChunkedUpload.MinChunks = 0 }, "min_chunks"},
		{"zero retry attempts", func(c *Config) { c.ChunkedUpload.RetryAttempts = 0 }, "retry_attempts"},
		{"empty uploads dir", func(c *Config) { c.ChunkedUpload.UploadsDir = "" }, "uploads_dir"},
		{"bad session ttl", func(c *Config) { c.ChunkedUpload.SessionTTL = "not-a-duration" }, "session_ttl"},
		{"bad size cap", func(c *Config) { c.ChunkedUpload.SizeCap = "not-a-size" }, "size_cap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Store(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "postgres"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestValidate_StoreSQLiteRequiresDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "sqlite"
	cfg.Store.DSN = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
}

func TestValidate_StoreSQLiteWithDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Backend = "sqlite"
	cfg.Store.DSN = "/tmp/sessions.db"

	assert.NoError(t, Validate(cfg))
}

func TestValidate_Server(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ListenAddr = ""
	cfg.Server.ReadTimeout = "soon"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
	assert.Contains(t, err.Error(), "read_timeout")
}

func TestValidate_Logging(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogLevel = "verbose"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")

	cfg = validConfig()
	cfg.Logging.LogFormat = "xml"

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}
