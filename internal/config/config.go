// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package config loads client configuration from defaults, an optional YAML
// file, and command-line flags, in that order of precedence.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config holds the runtime configuration for the messaging client.
type Config struct {
	// BrokerURL is the WebSocket endpoint of the STOMP broker.
	BrokerURL string `koanf:"broker-url"`

	// APIBaseURL is the base URL of the REST collaborators
	// (directory, history, auth).
	APIBaseURL string `koanf:"api-base-url"`

	LogFormat   string `koanf:"log-format"`
	LogLevel    string `koanf:"log-level"`
	MetricsAddr string `koanf:"metrics-addr"`

	// NoticeDwell is how long a transient notice stays visible.
	NoticeDwell time.Duration `koanf:"notice-dwell"`

	// RetryInterval is the fixed interval between outbound delivery
	// attempts while the session is not connected.
	RetryInterval time.Duration `koanf:"retry-interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BrokerURL:     "ws://localhost:8080/ws",
		APIBaseURL:    "http://localhost:8080",
		LogFormat:     "json",
		LogLevel:      "info",
		MetricsAddr:   "",
		NoticeDwell:   5 * time.Second,
		RetryInterval: time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return oops.Code("INVALID_CONFIG").Errorf("broker-url is required")
	}
	if c.APIBaseURL == "" {
		return oops.Code("INVALID_CONFIG").Errorf("api-base-url is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return oops.Code("INVALID_CONFIG").
			With("log-format", c.LogFormat).
			Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.NoticeDwell <= 0 {
		return oops.Code("INVALID_CONFIG").Errorf("notice-dwell must be positive")
	}
	if c.RetryInterval <= 0 {
		return oops.Code("INVALID_CONFIG").Errorf("retry-interval must be positive")
	}
	return nil
}

// Load builds the configuration. path may be empty (no file); flags may be
// nil (no flag overrides). Flags only override when explicitly set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("INVALID_CONFIG").
				With("path", path).
				Wrapf(err, "failed to load config file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("INVALID_CONFIG").
				Wrapf(err, "failed to load flags")
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("INVALID_CONFIG").
			Wrapf(err, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
