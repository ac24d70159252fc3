package config

// Default values for configuration options — the "layer 0" fallback used
// both as the starting point for TOML decoding and when no config file
// exists at all.
const (
	defaultMaxChunkKB    = 100 * 1024 // 100 MiB ceiling for the sigmoid
	defaultMinChunks     = 2
	defaultSessionTTL    = "2h"
	defaultRetryAttempts = 3
	defaultUploadsDir    = "./uploads"
	defaultSizeCap       = "5GiB"
	defaultStoreBackend  = "file"
	defaultStoreDir      = "./uploads/.sessions"
	defaultListenAddr    = ":8080"
	defaultReadTimeout   = "30s"
	defaultWriteTimeout  = "0" // uploads can run long; bounded by request context instead
	defaultShutdownGrace = "15s"
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
)

// defaultAllowedExt is a conservative extension allow-list covering the
// common document/image/archive types a dynamic-UI file field accepts.
var defaultAllowedExt = []string{
	"jpg", "jpeg", "png", "gif", "webp", "pdf", "txt", "csv",
	"doc", "docx", "xls", "xlsx", "zip", "mp4", "mov", "mp3",
}

var defaultAllowedMIME = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"application/pdf", "text/plain", "text/csv",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/zip", "video/mp4", "video/quicktime", "audio/mpeg",
}

// DefaultConfig returns a Config populated with all default values. Used
// both as the starting point for TOML decoding (unset fields retain
// defaults) and as the zero-config fallback.
func DefaultConfig() *Config {
	return &Config{
		ChunkedUpload: defaultChunkedUploadConfig(),
		Store:         defaultStoreConfig(),
		Server:        defaultServerConfig(),
		Logging:       defaultLoggingConfig(),
	}
}

func defaultChunkedUploadConfig() ChunkedUploadConfig {
	return ChunkedUploadConfig{
		Enabled:       true,
		MaxChunkKB:    defaultMaxChunkKB,
		MinChunks:     defaultMinChunks,
		SessionTTL:    defaultSessionTTL,
		RetryAttempts: defaultRetryAttempts,
		UploadsDir:    defaultUploadsDir,
		SizeCap:       defaultSizeCap,
		AllowedMIME:   append([]string(nil), defaultAllowedMIME...),
		AllowedExt:    append([]string(nil), defaultAllowedExt...),
	}
}

func defaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: defaultStoreBackend,
		Dir:     defaultStoreDir,
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      defaultListenAddr,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownGrace,
		Websocket:       false,
		SharedSecret:    "",
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
