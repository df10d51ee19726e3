// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
telegram:
  token: "123:abc"
satori:
  host: "0.0.0.0"
  port: 5141
  token: "secret"
limits:
  max_text_length: 2048
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("telegram token: got %q", cfg.Telegram.Token)
	}
	if cfg.Satori.Host != "0.0.0.0" || cfg.Satori.Port != 5141 {
		t.Errorf("satori listen: got %s:%d", cfg.Satori.Host, cfg.Satori.Port)
	}
	if cfg.Limits.MaxTextLength != 2048 {
		t.Errorf("max_text_length: got %d, want 2048", cfg.Limits.MaxTextLength)
	}
	// Unset limits get defaults.
	if cfg.Limits.DedupWindow != 512 || cfg.Limits.HistorySize != 256 {
		t.Errorf("limit defaults not applied: %+v", cfg.Limits)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "456:def")
	t.Setenv("SATORI_PORT", "6000")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Telegram.Token != "456:def" {
		t.Errorf("env token override: got %q", cfg.Telegram.Token)
	}
	if cfg.Satori.Port != 6000 {
		t.Errorf("env port override: got %d", cfg.Satori.Port)
	}
	if cfg.Satori.Host != "127.0.0.1" {
		t.Errorf("default host: got %q", cfg.Satori.Host)
	}
}

func TestLoadConfigMissingToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig without a token should fail")
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "x"}}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	if got := cfg.RequestTimeout(); got != 30*time.Second {
		t.Errorf("RequestTimeout: got %v, want 30s", got)
	}
}
