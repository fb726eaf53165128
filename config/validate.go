package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg StoreConfig) error {
	if cfg.BudgetBytes <= 0 {
		return ErrInvalidBudget
	}
	if cfg.WarmTTLDays < 0 {
		return ErrInvalidWarmTTL
	}
	if cfg.MemoryBudgetBytes < 0 {
		return ErrInvalidMemoryBudget
	}
	if cfg.SweepInterval <= 0 {
		return ErrInvalidInterval
	}
	if cfg.PeerTimeout <= 0 || cfg.DiscoveryTimeout <= 0 || cfg.ServerTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if cfg.ServerBaseURL != "" {
		if err := validateURL(cfg.ServerBaseURL); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidServerURL, err)
		}
	}
	if err := validateAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}
	if _, err := cfg.CipherVersion(); err != nil {
		return err
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}
	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
