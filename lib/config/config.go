// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads glyphlink configuration from a single YAML file.
//
// There is no automatic discovery: when no path is given, compiled-in
// defaults apply. Values present in the file override defaults
// field-by-field; absent fields keep their defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full glyphlink configuration.
type Config struct {
	// ICEServers lists STUN server URLs used during candidate
	// discovery. An empty list yields host candidates only, which is
	// enough for same-LAN sessions.
	ICEServers []string `yaml:"ice_servers"`

	// CandidateCap bounds how many candidates are carried in a token.
	CandidateCap int `yaml:"candidate_cap"`

	// DiscoveryTimeout is the wall-clock deadline on candidate
	// discovery. Reaching it is a normal transition, not an error.
	DiscoveryTimeout Duration `yaml:"discovery_timeout"`

	// ForceDelay is how long discovery must have been running before
	// the operator may force an early transition.
	ForceDelay Duration `yaml:"force_delay"`

	// MaxMessageLength bounds the text of one chat message.
	MaxMessageLength int `yaml:"max_message_length"`

	// ScanCommand, when set, is an external optical-code decoder
	// invoked to scan the peer's code (e.g. ["zbarcam", "--raw"]). Its
	// stdout must carry one decoded string per line. When unset,
	// tokens are read from standard input.
	ScanCommand []string `yaml:"scan_command"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		ICEServers:       []string{"stun:stun.l.google.com:19302"},
		CandidateCap:     4,
		DiscoveryTimeout: Duration(5 * time.Second),
		ForceDelay:       Duration(1500 * time.Millisecond),
		MaxMessageLength: 2000,
	}
}

// Load reads the configuration file at path. An empty path returns
// Default(). Fields absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CandidateCap < 0 {
		return fmt.Errorf("candidate_cap must not be negative, got %d", c.CandidateCap)
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery_timeout must be positive, got %s", time.Duration(c.DiscoveryTimeout))
	}
	if c.ForceDelay <= 0 {
		return fmt.Errorf("force_delay must be positive, got %s", time.Duration(c.ForceDelay))
	}
	if c.ForceDelay > c.DiscoveryTimeout {
		return fmt.Errorf("force_delay %s exceeds discovery_timeout %s",
			time.Duration(c.ForceDelay), time.Duration(c.DiscoveryTimeout))
	}
	if c.MaxMessageLength < 1 {
		return fmt.Errorf("max_message_length must be positive, got %d", c.MaxMessageLength)
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML strings in Go
// duration syntax ("5s", "1500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
