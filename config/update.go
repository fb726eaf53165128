package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Update is a partial change to a StoreConfig. Nil fields are left alone.
type Update struct {
	BudgetBytes       *int64
	WarmTTLDays       *int
	MemoryBudgetBytes *int64
	SweepInterval     *time.Duration
	PeerTimeout       *time.Duration
	DiscoveryTimeout  *time.Duration
	ServerTimeout     *time.Duration
	ServerBaseURL     *string
	DirectoryDomain   *string
	ListenAddr        *string
	Cipher            *string
	LogLevel          *string
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u == Update{}
}

// Apply returns cfg with the non-nil fields of u applied.
func (u Update) Apply(cfg StoreConfig) StoreConfig {
	if u.BudgetBytes != nil {
		cfg.BudgetBytes = *u.BudgetBytes
	}
	if u.WarmTTLDays != nil {
		cfg.WarmTTLDays = *u.WarmTTLDays
	}
	if u.MemoryBudgetBytes != nil {
		cfg.MemoryBudgetBytes = *u.MemoryBudgetBytes
	}
	if u.SweepInterval != nil {
		cfg.SweepInterval = *u.SweepInterval
	}
	if u.PeerTimeout != nil {
		cfg.PeerTimeout = *u.PeerTimeout
	}
	if u.DiscoveryTimeout != nil {
		cfg.DiscoveryTimeout = *u.DiscoveryTimeout
	}
	if u.ServerTimeout != nil {
		cfg.ServerTimeout = *u.ServerTimeout
	}
	if u.ServerBaseURL != nil {
		cfg.ServerBaseURL = *u.ServerBaseURL
	}
	if u.DirectoryDomain != nil {
		cfg.DirectoryDomain = *u.DirectoryDomain
	}
	if u.ListenAddr != nil {
		cfg.ListenAddr = *u.ListenAddr
	}
	if u.Cipher != nil {
		cfg.Cipher = *u.Cipher
	}
	if u.LogLevel != nil {
		cfg.LogLevel = *u.LogLevel
	}
	return cfg
}

// Diff returns the Update that turns from into to.
func Diff(from, to StoreConfig) Update {
	var u Update
	if from.BudgetBytes != to.BudgetBytes {
		u.BudgetBytes = &to.BudgetBytes
	}
	if from.WarmTTLDays != to.WarmTTLDays {
		u.WarmTTLDays = &to.WarmTTLDays
	}
	if from.MemoryBudgetBytes != to.MemoryBudgetBytes {
		u.MemoryBudgetBytes = &to.MemoryBudgetBytes
	}
	if from.SweepInterval != to.SweepInterval {
		u.SweepInterval = &to.SweepInterval
	}
	if from.PeerTimeout != to.PeerTimeout {
		u.PeerTimeout = &to.PeerTimeout
	}
	if from.DiscoveryTimeout != to.DiscoveryTimeout {
		u.DiscoveryTimeout = &to.DiscoveryTimeout
	}
	if from.ServerTimeout != to.ServerTimeout {
		u.ServerTimeout = &to.ServerTimeout
	}
	if from.ServerBaseURL != to.ServerBaseURL {
		u.ServerBaseURL = &to.ServerBaseURL
	}
	if from.DirectoryDomain != to.DirectoryDomain {
		u.DirectoryDomain = &to.DirectoryDomain
	}
	if from.ListenAddr != to.ListenAddr {
		u.ListenAddr = &to.ListenAddr
	}
	if from.Cipher != to.Cipher {
		u.Cipher = &to.Cipher
	}
	if from.LogLevel != to.LogLevel {
		u.LogLevel = &to.LogLevel
	}
	return u
}

// ParseAssignments builds an Update from "key=value" strings, where key is
// the YAML name of a StoreConfig field.
func ParseAssignments(assignments []string) (Update, error) {
	var u Update
	for _, a := range assignments {
		key, value, err := parseKeyValue(a)
		if err != nil {
			return Update{}, err
		}
		if err := u.set(key, value); err != nil {
			return Update{}, fmt.Errorf("%w: %s: %w", ErrInvalidAssignment, key, err)
		}
	}
	return u, nil
}

// parseKeyValue splits on the first '=' and trims whitespace around both sides.
func parseKeyValue(s string) (string, string, error) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAssignment, s)
	}
	key := strings.TrimSpace(s[:idx])
	if key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAssignment, s)
	}
	return key, strings.TrimSpace(s[idx+1:]), nil
}

func (u *Update) set(key, value string) error {
	switch key {
	case "budget_bytes":
		return setInt64(&u.BudgetBytes, value)
	case "warm_ttl_days":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		u.WarmTTLDays = &n
	case "memory_budget_bytes":
		return setInt64(&u.MemoryBudgetBytes, value)
	case "sweep_interval":
		return setDuration(&u.SweepInterval, value)
	case "peer_timeout":
		return setDuration(&u.PeerTimeout, value)
	case "discovery_timeout":
		return setDuration(&u.DiscoveryTimeout, value)
	case "server_timeout":
		return setDuration(&u.ServerTimeout, value)
	case "server_base_url":
		u.ServerBaseURL = &value
	case "directory_domain":
		u.DirectoryDomain = &value
	case "listen_addr":
		u.ListenAddr = &value
	case "cipher":
		u.Cipher = &value
	case "log_level":
		u.LogLevel = &value
	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}

func setInt64(dst **int64, value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	*dst = &n
	return nil
}

func setDuration(dst **time.Duration, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = &d
	return nil
}
