package network

import (
	"fmt"
	"time"
)

// Environment variables read by ResolveConfig.
const (
	EnvServerURL   = "LIBBLOCKS_SERVER_URL"
	EnvAccessToken = "LIBBLOCKS_ACCESS_TOKEN"
)

// DefaultServerTimeout bounds one origin request.
const DefaultServerTimeout = 15 * time.Second

// ServerConfig holds the connection parameters for the origin server.
type ServerConfig struct {
	URL         string        `json:"url"`
	AccessToken string        `json:"access_token"`
	Timeout     time.Duration `json:"timeout"`
}

// ResolveConfig merges origin configuration from three sources with decreasing priority:
//  1. CLI flags (highest priority)
//  2. Environment variables (LIBBLOCKS_SERVER_URL, LIBBLOCKS_ACCESS_TOKEN)
//  3. The store configuration file (lowest priority)
//
// The URL must be set by one of them.
func ResolveConfig(flags *ServerConfig, env map[string]string, file ServerConfig) (*ServerConfig, error) {
	result := file

	if env != nil {
		if v, ok := env[EnvServerURL]; ok && v != "" {
			result.URL = v
		}
		if v, ok := env[EnvAccessToken]; ok && v != "" {
			result.AccessToken = v
		}
	}

	if flags != nil {
		if flags.URL != "" {
			result.URL = flags.URL
		}
		if flags.AccessToken != "" {
			result.AccessToken = flags.AccessToken
		}
		if flags.Timeout > 0 {
			result.Timeout = flags.Timeout
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("%w: set --server, %s, or server_base_url", ErrNoServerConfigured, EnvServerURL)
	}
	if result.Timeout <= 0 {
		result.Timeout = DefaultServerTimeout
	}
	return &result, nil
}
