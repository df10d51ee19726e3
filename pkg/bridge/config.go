// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds the messaging-backend account settings.
type TelegramConfig struct {
	Token     string `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	APIServer string `yaml:"api_server" env:"TELEGRAM_API_SERVER"`
}

// SatoriConfig holds the gateway server settings.
type SatoriConfig struct {
	Host  string `yaml:"host" env:"SATORI_HOST"`
	Port  int    `yaml:"port" env:"SATORI_PORT"`
	Path  string `yaml:"path" env:"SATORI_PATH"`
	Token string `yaml:"token" env:"SATORI_TOKEN"`
}

// LimitsConfig holds tunable protocol bounds. The de-duplication window and
// media ceiling are configuration rather than fixed constants because the
// upstream protocols do not pin them down.
type LimitsConfig struct {
	// MaxTextLength is the native single-message text cap; longer logical
	// sends are split into multiple native messages.
	MaxTextLength int `yaml:"max_text_length" env:"BRIDGE_MAX_TEXT_LENGTH"`
	// DedupWindow is the capacity of the recently-seen native update id set.
	DedupWindow int `yaml:"dedup_window" env:"BRIDGE_DEDUP_WINDOW"`
	// HistorySize bounds the per-channel recent message cache and the
	// gateway event resume buffer.
	HistorySize int `yaml:"history_size" env:"BRIDGE_HISTORY_SIZE"`
	// MaxRetries caps automatic retries of idempotent read calls.
	MaxRetries uint64 `yaml:"max_retries" env:"BRIDGE_MAX_RETRIES"`
	// RequestTimeoutSeconds bounds every native RPC.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"BRIDGE_REQUEST_TIMEOUT"`
	// MediaMaxBytes caps media fetched for re-upload.
	MediaMaxBytes int64 `yaml:"media_max_bytes" env:"BRIDGE_MEDIA_MAX_BYTES"`
}

// Config is the full bridge configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Satori   SatoriConfig   `yaml:"satori"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// LoadConfig reads the YAML config file, applies environment overrides, and
// validates. A missing file is fine when the environment carries the token.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess fills defaults and validates required fields.
func (c *Config) PostProcess() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if c.Satori.Host == "" {
		c.Satori.Host = "127.0.0.1"
	}
	if c.Satori.Port == 0 {
		c.Satori.Port = 5140
	}
	if c.Limits.MaxTextLength <= 0 {
		c.Limits.MaxTextLength = 4096
	}
	if c.Limits.DedupWindow <= 0 {
		c.Limits.DedupWindow = 512
	}
	if c.Limits.HistorySize <= 0 {
		c.Limits.HistorySize = 256
	}
	if c.Limits.MaxRetries == 0 {
		c.Limits.MaxRetries = 3
	}
	if c.Limits.RequestTimeoutSeconds <= 0 {
		c.Limits.RequestTimeoutSeconds = 30
	}
	if c.Limits.MediaMaxBytes <= 0 {
		c.Limits.MediaMaxBytes = 50 << 20
	}
	return nil
}

// RequestTimeout returns the native RPC timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Limits.RequestTimeoutSeconds) * time.Second
}
