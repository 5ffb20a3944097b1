// Package config provides configuration types for evaguard.
//
// Configuration is file based (evaguard.yaml) with environment overrides
// using the EVAGUARD_ prefix. Rule sets are not configured here: they live
// in the state file or in a YAML rule file referenced by rules.file.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for evaguard.
type Config struct {
	// Server configures the HTTP API listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Rules configures where the rule set is loaded from.
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`

	// Enforcement configures whether violations are blocked or only reported.
	Enforcement EnforcementConfig `yaml:"enforcement" mapstructure:"enforcement"`

	// Cache configures the decision cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Evidence configures persistence of decision records.
	Evidence EvidenceConfig `yaml:"evidence" mapstructure:"evidence"`

	// Auth configures API keys for the HTTP API.
	// Optional: when empty, the API is unauthenticated.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Telemetry configures OpenTelemetry tracing and metrics export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging, in-memory evidence).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8090").
	// Defaults to "127.0.0.1:8090" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes" validate:"omitempty,min=1"`
}

// RulesConfig configures the rule set source.
type RulesConfig struct {
	// File is an optional YAML rule file. When set, it replaces the
	// persisted rule set at startup.
	File string `yaml:"file" mapstructure:"file"`

	// Watch reloads File when it changes on disk.
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// Disabled lists rule ids to disable after the rule set is loaded.
	// Applied to the running engine only; the state file is not changed.
	Disabled []string `yaml:"disabled" mapstructure:"disabled"`
}

// EnforcementConfig configures how decisions are acted upon.
type EnforcementConfig struct {
	// Mode is "monitor" (report only) or "enforce" (block).
	// Defaults to "enforce", or "monitor" in dev mode.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,enforcement_mode"`

	// Condition is a CEL expression deciding whether a decision is enforced.
	// Variables: allowed, violations, violation_count, highest_priority,
	// message_length, source. Defaults to "!allowed".
	Condition string `yaml:"condition" mapstructure:"condition" validate:"omitempty,max=1024"`
}

// CacheConfig configures the decision cache.
type CacheConfig struct {
	// Size is the maximum number of cached decisions. 0 disables the cache.
	// Defaults to 1000 unless explicitly set.
	Size int `yaml:"size" mapstructure:"size" validate:"omitempty,min=0"`
}

// EvidenceConfig configures decision record persistence.
type EvidenceConfig struct {
	// Enabled turns SQLite evidence persistence on. When false, records are
	// kept in a bounded in-memory store. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the SQLite database file. Defaults to "evaguard-evidence.db".
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty,evidence_path"`

	// Retention is how long records are kept (e.g., "720h"). "0" keeps forever.
	Retention string `yaml:"retention" mapstructure:"retention" validate:"omitempty,duration"`

	// PruneSchedule is a standard cron expression for retention runs.
	// Defaults to "@hourly".
	PruneSchedule string `yaml:"prune_schedule" mapstructure:"prune_schedule" validate:"omitempty,cron_spec"`

	// ChannelSize is the buffer size for the evidence channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s").
	// Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long to block when the channel is full.
	// "0" drops immediately. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage (0-100) that triggers
	// a rate-limited warning. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// MemoryCapacity bounds the in-memory store used when Enabled is false.
	// Defaults to 1000.
	MemoryCapacity int `yaml:"memory_capacity" mapstructure:"memory_capacity" validate:"omitempty,min=1"`

	// LogDir optionally mirrors every record to daily JSON Lines files in
	// this directory. Retention applies to these files by date.
	LogDir string `yaml:"log_dir" mapstructure:"log_dir"`

	// LogMaxFileMB rotates a decision log file once it reaches this size.
	// Defaults to 100.
	LogMaxFileMB int `yaml:"log_max_file_mb" mapstructure:"log_max_file_mb" validate:"omitempty,min=1"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	// APIKeys lists accepted keys. Empty disables authentication.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// APIKeyConfig defines an accepted API key.
type APIKeyConfig struct {
	// Name labels the key in logs.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// KeyHash is an Argon2id PHC string or a "sha256:<hex>" digest.
	// Generate with: evaguard hash-key <key>
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Enabled turns on tracing and OTel metrics.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ServiceName is reported as the service.name resource attribute.
	// Defaults to "evaguard".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// MetricInterval is the periodic metric export interval (e.g., "30s").
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// Enforcement modes.
const (
	ModeMonitor = "monitor"
	ModeEnforce = "enforce"
)

// DefaultCondition enforces every non-allowed decision.
const DefaultCondition = "!allowed"

// DefaultMaxBodyBytes is the default request body limit.
const DefaultMaxBodyBytes = 1 << 20

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// Dev runs keep evidence in memory unless explicitly configured.
	if !viper.IsSet("evidence.enabled") {
		c.Evidence.Enabled = false
	}

	if !viper.IsSet("enforcement.mode") {
		c.Enforcement.Mode = ModeMonitor
	}
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network exposure must be explicit.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8090"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Enforcement.Mode == "" {
		c.Enforcement.Mode = ModeEnforce
	}
	if c.Enforcement.Condition == "" {
		c.Enforcement.Condition = DefaultCondition
	}

	if !viper.IsSet("cache.size") && c.Cache.Size == 0 {
		c.Cache.Size = 1000
	}

	// Evidence is on by default. viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("evidence.enabled") {
		c.Evidence.Enabled = true
	}
	if c.Evidence.Path == "" {
		c.Evidence.Path = "evaguard-evidence.db"
	}
	if c.Evidence.Retention == "" {
		c.Evidence.Retention = "720h"
	}
	if c.Evidence.PruneSchedule == "" {
		c.Evidence.PruneSchedule = "@hourly"
	}
	if c.Evidence.ChannelSize == 0 {
		c.Evidence.ChannelSize = 1000
	}
	if c.Evidence.BatchSize == 0 {
		c.Evidence.BatchSize = 100
	}
	if c.Evidence.FlushInterval == "" {
		c.Evidence.FlushInterval = "1s"
	}
	if c.Evidence.SendTimeout == "" {
		c.Evidence.SendTimeout = "100ms"
	}
	if c.Evidence.WarningThreshold == 0 {
		c.Evidence.WarningThreshold = 80
	}
	if c.Evidence.MemoryCapacity == 0 {
		c.Evidence.MemoryCapacity = 1000
	}
	if c.Evidence.LogMaxFileMB == 0 {
		c.Evidence.LogMaxFileMB = 100
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "evaguard"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "30s"
	}
}
