// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for loopkit tools.
//
// Configuration is loaded from a single YAML file specified by an
// explicit path (the --config flag or the LOOPKIT_CONFIG environment
// variable). There are no fallbacks or automatic discovery — this keeps
// configuration deterministic and auditable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the loopkit client configuration.
type Config struct {
	// Endpoints overrides the default backend hosts. Zero values keep
	// the production defaults.
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Session configures the on-disk session store.
	Session SessionConfig `yaml:"session"`

	// Retry configures the transport retry policy.
	Retry RetryConfig `yaml:"retry"`

	// Locale is sent in the Accept-Language header (default "en").
	Locale string `yaml:"locale"`
}

// EndpointsConfig names the backend realms a request may target.
type EndpointsConfig struct {
	// API is the primary API base URL.
	API string `yaml:"api"`
	// Settings is the settings/config service base URL.
	Settings string `yaml:"settings"`
	// Analytics is the analytics/notification service base URL.
	Analytics string `yaml:"analytics"`
	// Gateway is the WebSocket gateway URL.
	Gateway string `yaml:"gateway"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// Path is the session file location. Empty disables persistence.
	Path string `yaml:"path"`
	// PassphraseFile points at a file holding the store passphrase
	// ("-" reads stdin). Empty means the store is kept in clear.
	PassphraseFile string `yaml:"passphrase_file"`
	// KeyDerivation selects how the cipher key is derived from the
	// passphrase: "legacy" (default, compatible with existing stores)
	// or "scrypt".
	KeyDerivation string `yaml:"key_derivation"`
}

// RetryConfig configures the transport retry policy. Zero values keep
// the defaults.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means the default (2); a negative value disables retries.
	MaxRetries int `yaml:"max_retries"`
	// BackoffFactor multiplies the wait time per attempt.
	BackoffFactor float64 `yaml:"backoff_factor"`
	// WaitOnRateLimit honors server-provided wait hints on 429.
	WaitOnRateLimit bool `yaml:"wait_on_rate_limit"`
	// TimeoutSeconds bounds each attempt (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := loaded.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &loaded, nil
}

func (c *Config) validate() error {
	switch c.Session.KeyDerivation {
	case "", "legacy", "scrypt":
	default:
		return fmt.Errorf("unknown key_derivation %q (want \"legacy\" or \"scrypt\")", c.Session.KeyDerivation)
	}
	if c.Retry.BackoffFactor < 0 {
		return fmt.Errorf("backoff_factor must not be negative, got %g", c.Retry.BackoffFactor)
	}
	return nil
}
