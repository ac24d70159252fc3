package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks a Config for internally consistent, sane values. It does
// not touch the filesystem — Holder.Watch and the store constructors are
// responsible for surfacing I/O errors against the paths named here.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateChunkedUpload(&cfg.ChunkedUpload))
	errs = append(errs, validateStore(&cfg.Store))
	errs = append(errs, validateServer(&cfg.Server))
	errs = append(errs, validateLogging(&cfg.Logging))

	return errors.Join(errs...)
}

func validateChunkedUpload(c *ChunkedUploadConfig) error {
	var errs []error

	if c.MaxChunkKB <= 0 {
		errs = append(errs, fmt.Errorf("chunked_upload.max_chunk_kb must be positive, got %d", c.MaxChunkKB))
	}

	if c.MinChunks < 1 {
		errs = append(errs, fmt.Errorf("chunked_upload.min_chunks must be at least 1, got %d", c.MinChunks))
	}

	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("chunked_upload.retry_attempts must be at least 1, got %d", c.RetryAttempts))
	}

	if c.UploadsDir == "" {
		errs = append(errs, errors.New("chunked_upload.uploads_dir must not be empty"))
	}

	if _, err := time.ParseDuration(c.SessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("chunked_upload.session_ttl %q: %w", c.SessionTTL, err))
	}

	if _, err := parseSize(c.SizeCap); err != nil {
		errs = append(errs, fmt.Errorf("chunked_upload.size_cap %q: %w", c.SizeCap, err))
	}

	return errors.Join(errs...)
}

func validateStore(c *StoreConfig) error {
	switch c.Backend {
	case "file":
		if c.Dir == "" {
			return errors.New("store.dir must not be empty when store.backend is \"file\"")
		}
	case "sqlite":
		if c.DSN == "" {
			return errors.New("store.dsn must not be empty when store.backend is \"sqlite\"")
		}
	default:
		return fmt.Errorf("store.backend must be \"file\" or \"sqlite\", got %q", c.Backend)
	}

	return nil
}

func validateServer(c *ServerConfig) error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}

	for name, val := range map[string]string{
		"server.read_timeout":     c.ReadTimeout,
		"server.write_timeout":    c.WriteTimeout,
		"server.shutdown_timeout": c.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", name, val, err))
		}
	}

	return errors.Join(errs...)
}

func validateLogging(c *LoggingConfig) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.log_level must be one of debug/info/warn/error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.log_format must be one of auto/text/json, got %q", c.LogFormat)
	}

	return nil
}
