// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the RSocket-Core License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connection

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rsocket.yaml")
	content := `
is_client: true
keepalive_interval: 5s
max_lifetime: 30s
data_mime_type: application/json
fragment_mtu: 2048
honor_lease: true
resume_enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.IsClient || !cfg.HonorLease || !cfg.ResumeEnabled {
		t.Fatalf("boolean fields not parsed: %+v", cfg)
	}
	if cfg.KeepaliveInterval != 5*time.Second || cfg.MaxLifetime != 30*time.Second {
		t.Fatalf("durations not parsed: %+v", cfg)
	}
	if cfg.DataMimeType != "application/json" {
		t.Fatalf("data mime not parsed: %q", cfg.DataMimeType)
	}
	if cfg.FragmentMTU != 2048 {
		t.Fatalf("fragment mtu not parsed: %d", cfg.FragmentMTU)
	}
	// Campos omitidos recebem os defaults.
	if cfg.MetadataMimeType == "" || cfg.OutboundQueueDepth == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigValidate_RejectsLifetimeShorterThanKeepalive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepaliveInterval = time.Minute
	cfg.MaxLifetime = time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when max_lifetime < keepalive_interval")
	}
}

func TestConfigValidate_FillsDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	def := DefaultConfig()
	if cfg.KeepaliveInterval != def.KeepaliveInterval ||
		cfg.MaxLifetime != def.MaxLifetime ||
		cfg.DataMimeType != def.DataMimeType ||
		cfg.ResumeCacheCapacity != def.ResumeCacheCapacity {
		t.Fatalf("zero config not filled with defaults: %+v", cfg)
	}
}
