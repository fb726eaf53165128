// Package config loads, validates and watches the store configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bitfsorg/libblocks-go/blockcrypt"
)

// FileName is the configuration file name inside the data directory.
const FileName = "config.yaml"

// Defaults.
const (
	DefaultBudgetBytes       int64 = 2 << 30
	DefaultWarmTTLDays             = 30
	DefaultMemoryBudgetBytes int64 = 256 << 20
	DefaultSweepInterval           = 60 * time.Second
	DefaultPeerTimeout             = 5 * time.Second
	DefaultDiscoveryTimeout        = 10 * time.Second
	DefaultServerTimeout           = 15 * time.Second
	DefaultListenAddr              = ":8480"
)

// StoreConfig is the contents of config.yaml.
type StoreConfig struct {
	// BudgetBytes caps the plaintext size of the blocks kept on disk, as
	// recorded in the index.
	BudgetBytes int64 `yaml:"budget_bytes"`
	// WarmTTLDays expires evictable blocks not read for this many days.
	// Zero disables expiry.
	WarmTTLDays int `yaml:"warm_ttl_days"`
	// MemoryBudgetBytes caps the in-memory plaintext cache. Zero disables it.
	MemoryBudgetBytes int64 `yaml:"memory_budget_bytes"`

	SweepInterval    time.Duration `yaml:"sweep_interval"`
	PeerTimeout      time.Duration `yaml:"peer_timeout"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	ServerTimeout    time.Duration `yaml:"server_timeout"`

	ServerBaseURL   string `yaml:"server_base_url,omitempty"`
	DirectoryDomain string `yaml:"directory_domain,omitempty"`
	ListenAddr      string `yaml:"listen_addr"`
	Cipher          string `yaml:"cipher"`
	LogLevel        string `yaml:"log_level"`
}

// DefaultConfig returns a StoreConfig with sensible defaults.
func DefaultConfig() StoreConfig {
	return StoreConfig{
		BudgetBytes:       DefaultBudgetBytes,
		WarmTTLDays:       DefaultWarmTTLDays,
		MemoryBudgetBytes: DefaultMemoryBudgetBytes,
		SweepInterval:     DefaultSweepInterval,
		PeerTimeout:       DefaultPeerTimeout,
		DiscoveryTimeout:  DefaultDiscoveryTimeout,
		ServerTimeout:     DefaultServerTimeout,
		ListenAddr:        DefaultListenAddr,
		Cipher:            blockcrypt.DefaultVersion.String(),
		LogLevel:          "info",
	}
}

// WarmTTL returns WarmTTLDays as a duration.
func (c StoreConfig) WarmTTL() time.Duration {
	return time.Duration(c.WarmTTLDays) * 24 * time.Hour
}

// CipherVersion returns the envelope version named by Cipher.
func (c StoreConfig) CipherVersion() (blockcrypt.Version, error) {
	v, err := blockcrypt.ParseVersion(c.Cipher)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCipher, err)
	}
	return v, nil
}

// Level returns the logrus level named by LogLevel, or info if it is invalid.
func (c StoreConfig) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// DefaultDataDir returns the default data directory (~/.libblocks).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".libblocks")
}

// ConfigPath returns the config file path for a given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// LoadConfig reads a StoreConfig from path. Keys missing from the file keep
// their default values; unknown keys are ignored.
func LoadConfig(path string) (StoreConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories as needed.
func SaveConfig(path string, cfg StoreConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# libblocks store configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
