package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/my-config.toml")
	t.Setenv(EnvListenAddr, ":1234")

	overrides := ReadEnvOverrides()

	assert.Equal(t, "/tmp/my-config.toml", overrides.ConfigPath)
	assert.Equal(t, ":1234", overrides.ListenAddr)
}

func TestEnvOverrides_ApplyOnlyOverridesNonEmpty(t *testing.T) {
	cfg := DefaultConfig()
	original := cfg.Server.ListenAddr

	EnvOverrides{}.Apply(cfg)
	assert.Equal(t, original, cfg.Server.ListenAddr)

	EnvOverrides{ListenAddr: ":4242"}.Apply(cfg)
	assert.Equal(t, ":4242", cfg.Server.ListenAddr)
}
