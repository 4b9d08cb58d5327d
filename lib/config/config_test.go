// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glyphlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.CandidateCap != 4 {
		t.Errorf("CandidateCap = %d, want 4", cfg.CandidateCap)
	}
	if time.Duration(cfg.DiscoveryTimeout) != 5*time.Second {
		t.Errorf("DiscoveryTimeout = %s, want 5s", time.Duration(cfg.DiscoveryTimeout))
	}
	if time.Duration(cfg.ForceDelay) != 1500*time.Millisecond {
		t.Errorf("ForceDelay = %s, want 1.5s", time.Duration(cfg.ForceDelay))
	}
	if cfg.MaxMessageLength != 2000 {
		t.Errorf("MaxMessageLength = %d, want 2000", cfg.MaxMessageLength)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"ice_servers:",
		"  - stun:stun.example.org:3478",
		"candidate_cap: 2",
		"discovery_timeout: 10s",
		"scan_command: [zbarcam, --raw]",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0] != "stun:stun.example.org:3478" {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
	if cfg.CandidateCap != 2 {
		t.Errorf("CandidateCap = %d, want 2", cfg.CandidateCap)
	}
	if time.Duration(cfg.DiscoveryTimeout) != 10*time.Second {
		t.Errorf("DiscoveryTimeout = %s, want 10s", time.Duration(cfg.DiscoveryTimeout))
	}
	// Fields absent from the file keep their defaults.
	if cfg.MaxMessageLength != 2000 {
		t.Errorf("MaxMessageLength = %d, want default 2000", cfg.MaxMessageLength)
	}
	if len(cfg.ScanCommand) != 2 || cfg.ScanCommand[0] != "zbarcam" {
		t.Errorf("ScanCommand = %v", cfg.ScanCommand)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	for _, test := range []struct {
		name    string
		content string
	}{
		{"negative cap", "candidate_cap: -1"},
		{"zero timeout", "discovery_timeout: 0s"},
		{"malformed duration", "discovery_timeout: soon"},
		{"force after deadline", "force_delay: 10s\ndiscovery_timeout: 5s"},
		{"zero message length", "max_message_length: 0"},
	} {
		path := writeConfig(t, test.content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: Load succeeded, want error", test.name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded, want error")
	}
}
