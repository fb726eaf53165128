package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigFlagsOverrideAll(t *testing.T) {
	flags := &ServerConfig{URL: "https://flag.example", AccessToken: "flag-token", Timeout: time.Second}
	env := map[string]string{EnvServerURL: "https://env.example", EnvAccessToken: "env-token"}
	cfg, err := ResolveConfig(flags, env, ServerConfig{URL: "https://file.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example", cfg.URL)
	assert.Equal(t, "flag-token", cfg.AccessToken)
	assert.Equal(t, time.Second, cfg.Timeout)
}

func TestResolveConfigEnvOverridesFile(t *testing.T) {
	env := map[string]string{EnvAccessToken: "env-token"}
	cfg, err := ResolveConfig(nil, env, ServerConfig{URL: "https://file.example", AccessToken: "file-token"})
	require.NoError(t, err)
	assert.Equal(t, "https://file.example", cfg.URL)
	assert.Equal(t, "env-token", cfg.AccessToken)
	assert.Equal(t, DefaultServerTimeout, cfg.Timeout)
}

func TestResolveConfigEmptyEnvIgnored(t *testing.T) {
	env := map[string]string{EnvServerURL: ""}
	cfg, err := ResolveConfig(nil, env, ServerConfig{URL: "https://file.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://file.example", cfg.URL)
}

func TestResolveConfigRequiresURL(t *testing.T) {
	_, err := ResolveConfig(nil, nil, ServerConfig{})
	assert.ErrorIs(t, err, ErrNoServerConfigured)
	assert.Contains(t, err.Error(), EnvServerURL)
}
