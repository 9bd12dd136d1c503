// Package config handles Detection Engine configuration: the engine
// fields plus the attachment fields needed to reach the monitored tab,
// merged from defaults, an optional YAML file, and a caller-supplied
// Options override.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the Orchestrator's merged configuration.
type Config struct {
	// Enabled is the master switch. Default: true.
	Enabled bool `yaml:"enabled"`
	// ReportInterval is the periodic reporting period. Default: 30s.
	ReportInterval time.Duration `yaml:"report_interval"`
	// MinReportScore suppresses reports below this combined score. Default: 10.
	MinReportScore int `yaml:"min_report_score"`
	// ContextID scopes tab-persistent storage keys. Required for persistence.
	ContextID string `yaml:"context_id"`
	// SessionKey is attached to every report for server-side validation.
	// Absent → ConfigurationOmission, all reports suppressed.
	SessionKey string `yaml:"session_key"`
	// Debug enables diagnostic traces.
	Debug bool `yaml:"debug"`

	// Attach controls how the engine reaches the monitored tab. This is
	// attachment plumbing, not detection semantics.
	Attach AttachConfig `yaml:"attach"`

	// Transport controls the outbound RPC and unload beacon.
	Transport TransportConfig `yaml:"transport"`
}

// AttachConfig controls the CDP attachment to the monitored tab.
type AttachConfig struct {
	// RemoteURL is a DevTools websocket/HTTP URL of an already-running
	// browser. Empty launches a managed, stealth-profiled instance.
	RemoteURL string `yaml:"remote_url"`
	// Stealth selects the non-intrusive attach profile. "on" (default) |
	// "off".
	Stealth string `yaml:"stealth"`
}

// TransportConfig controls the reporting RPC and the unload beacon.
type TransportConfig struct {
	ReportURL string        `yaml:"report_url"`
	BeaconURL string        `yaml:"beacon_url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxRetries int          `yaml:"max_retries"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Enabled:        true,
		ReportInterval: 30 * time.Second,
		MinReportScore: 10,
		Debug:          false,
		Attach: AttachConfig{
			Stealth: "on",
		},
		Transport: TransportConfig{
			Timeout:    5 * time.Second,
			MaxRetries: 2,
		},
	}
}

// LoadFile reads a YAML configuration file and merges it over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge overlays a (possibly partial) Options struct over base, leaving
// zero-valued fields in opts untouched, the same "merge defaults with the
// supplied configuration" contract as the Orchestrator's Init.
func Merge(base Config, opts Options) Config {
	if opts.Enabled != nil {
		base.Enabled = *opts.Enabled
	}
	if opts.ReportInterval > 0 {
		base.ReportInterval = opts.ReportInterval
	}
	if opts.MinReportScore != nil {
		base.MinReportScore = *opts.MinReportScore
	}
	if opts.ContextID != "" {
		base.ContextID = opts.ContextID
	}
	if opts.SessionKey != "" {
		base.SessionKey = opts.SessionKey
	}
	if opts.Debug != nil {
		base.Debug = *opts.Debug
	}
	if opts.RemoteURL != "" {
		base.Attach.RemoteURL = opts.RemoteURL
	}
	if opts.ReportURL != "" {
		base.Transport.ReportURL = opts.ReportURL
	}
	if opts.BeaconURL != "" {
		base.Transport.BeaconURL = opts.BeaconURL
	}
	return base
}

// Options is the caller-supplied override passed to Engine.Init. All
// fields are optional; pointer fields distinguish "not set" from
// "explicitly false/zero".
type Options struct {
	Enabled        *bool
	ReportInterval time.Duration
	MinReportScore *int
	ContextID      string
	SessionKey     string
	Debug          *bool
	RemoteURL      string
	ReportURL      string
	BeaconURL      string
}
