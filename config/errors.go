package config

import "errors"

var (
	// ErrInvalidBudget indicates budget_bytes is not positive.
	ErrInvalidBudget = errors.New("config: budget_bytes must be positive")

	// ErrInvalidWarmTTL indicates warm_ttl_days is negative.
	ErrInvalidWarmTTL = errors.New("config: warm_ttl_days must not be negative")

	// ErrInvalidMemoryBudget indicates memory_budget_bytes is negative.
	ErrInvalidMemoryBudget = errors.New("config: memory_budget_bytes must not be negative")

	// ErrInvalidInterval indicates sweep_interval is not positive.
	ErrInvalidInterval = errors.New("config: sweep_interval must be positive")

	// ErrInvalidTimeout indicates one of the layer timeouts is not positive.
	ErrInvalidTimeout = errors.New("config: timeouts must be positive")

	// ErrInvalidServerURL indicates server_base_url is not an absolute http(s) URL.
	ErrInvalidServerURL = errors.New("config: invalid server_base_url")

	// ErrInvalidCipher indicates the cipher name is not recognized.
	ErrInvalidCipher = errors.New("config: invalid cipher (must be \"aes-gcm\" or \"xchacha20\")")

	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfig indicates the configuration file could not be parsed.
	ErrInvalidConfig = errors.New("config: invalid configuration file")

	// ErrInvalidAssignment indicates a key=value override is malformed or names
	// an unknown key.
	ErrInvalidAssignment = errors.New("config: invalid assignment")
)
