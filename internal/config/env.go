package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "CHUNKUPLOAD_CONFIG"
	EnvListenAddr = "CHUNKUPLOAD_LISTEN_ADDR"
)

// EnvOverrides holds values derived from environment variables. These are
// resolved by ReadEnvOverrides; callers apply the relevant fields on top of
// a loaded Config.
type EnvOverrides struct {
	ConfigPath string // CHUNKUPLOAD_CONFIG: override config file path
	ListenAddr string // CHUNKUPLOAD_LISTEN_ADDR: override server.listen_addr
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant
// fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ListenAddr: os.Getenv(EnvListenAddr),
	}
}

// Apply overlays non-empty env overrides onto cfg.
func (e EnvOverrides) Apply(cfg *Config) {
	if e.ListenAddr != "" {
		cfg.Server.ListenAddr = e.ListenAddr
	}
}
