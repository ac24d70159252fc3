// Package config implements TOML configuration loading, validation, and
// live reload for the chunked upload server.
package config

// Config is the top-level configuration structure for the chunked upload
// core. Unlike a multi-drive client, this server has exactly one upload
// domain, so there is no profile/drive layering — one flat struct covers it.
type Config struct {
	ChunkedUpload ChunkedUploadConfig `toml:"chunked_upload"`
	Store         StoreConfig         `toml:"store"`
	Server        ServerConfig        `toml:"server"`
	Logging       LoggingConfig       `toml:"logging"`
}

// ChunkedUploadConfig controls the sizing policy, session lifetime, and
// assembled-file validation rules (spec.md §6 "Configuration recognized
// by the core").
type ChunkedUploadConfig struct {
	Enabled       bool     `toml:"enabled"`
	MaxChunkKB    int64    `toml:"max_chunk_kb"`
	MinChunks     int      `toml:"min_chunks"`
	SessionTTL    string   `toml:"session_ttl"` // duration string, e.g. "30m"
	RetryAttempts int      `toml:"retry_attempts"`
	UploadsDir    string   `toml:"uploads_dir"`
	SizeCap       string   `toml:"size_cap"` // human size, e.g. "5GiB"
	AllowedMIME   []string `toml:"allowed_mime"`
	AllowedExt    []string `toml:"allowed_ext"`
}

// StoreConfig selects and configures the Session Store (C1) backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // "file" or "sqlite"
	Dir     string `toml:"dir"`     // backend=file: session directory
	DSN     string `toml:"dsn"`     // backend=sqlite: database path
}

// ServerConfig controls the HTTP ingest endpoint's listener.
type ServerConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	Websocket       bool   `toml:"websocket"` // enable the live progress hub

	// SharedSecret stands in for the outer signed-URL/CSRF gate spec.md §1
	// treats as opaque and out of scope: a bearer token every ingest
	// request must present. Empty disables the check entirely, which is
	// the right default for a core meant to sit behind a real gateway.
	SharedSecret string `toml:"shared_secret"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}
