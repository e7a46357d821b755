// Package config provides configuration types for botbridge.
//
// Configuration is file based (botbridge.yaml) with BOTBRIDGE_ environment
// overrides. Durations are strings parsed with time.ParseDuration.
package config

import "time"

// Capability modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// DefaultChannel is the channel name served by the bridge.
const DefaultChannel = "com.humansecurity/sdk"

// devSigningKey is used for local session tokens in dev mode only.
const devSigningKey = "botbridge-dev-signing-key-not-for-production"

// BridgeConfig is the top-level configuration for botbridge.
type BridgeConfig struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Bridge configures the channel and reply handling.
	Bridge ChannelConfig `yaml:"bridge" mapstructure:"bridge"`

	// Capability selects and configures the bot-defense backend.
	Capability CapabilityConfig `yaml:"capability" mapstructure:"capability"`

	// Audit configures where reply audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Admin configures the admin API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (debug logging, dev defaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// AllowedOrigins lists browser origins accepted besides localhost.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ChannelConfig configures the bridge channel.
type ChannelConfig struct {
	// Channel is the channel name. Defaults to "com.humansecurity/sdk".
	Channel string `yaml:"channel" mapstructure:"channel"`

	// ReplyTimeout bounds how long the HTTP transport waits for a deferred reply.
	// Defaults to "5m".
	ReplyTimeout string `yaml:"reply_timeout" mapstructure:"reply_timeout" validate:"omitempty,duration"`

	// ResponseURL and ResponseStatus form the descriptor submitted with every
	// response body. Defaults to "https://example.com" and 403.
	ResponseURL    string `yaml:"response_url" mapstructure:"response_url" validate:"omitempty,url"`
	ResponseStatus int    `yaml:"response_status" mapstructure:"response_status" validate:"omitempty,min=100,max=599"`
}

// CapabilityConfig selects the bot-defense backend.
type CapabilityConfig struct {
	// Mode is "local" (in-process) or "remote" (HTTP service). Defaults to "local".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"capability_mode"`

	// AppID identifies the application to the capability.
	AppID string `yaml:"app_id" mapstructure:"app_id" validate:"required"`

	Local  LocalCapabilityConfig  `yaml:"local" mapstructure:"local"`
	Remote RemoteCapabilityConfig `yaml:"remote" mapstructure:"remote"`
}

// LocalCapabilityConfig configures the in-process capability.
type LocalCapabilityConfig struct {
	// SigningKey signs session tokens. At least 32 bytes.
	SigningKey string `yaml:"signing_key" mapstructure:"signing_key"`

	// TokenTTL is the session token lifetime. Defaults to "5m".
	TokenTTL string `yaml:"token_ttl" mapstructure:"token_ttl" validate:"omitempty,duration"`

	// BlockExpression is a CEL rule over status, url, body, headers and block.
	// Empty uses the built-in rule.
	BlockExpression string `yaml:"block_expression" mapstructure:"block_expression"`

	// ChallengeTimeout resolves unattended challenges as cancelled. Defaults to "5m".
	ChallengeTimeout string `yaml:"challenge_timeout" mapstructure:"challenge_timeout" validate:"omitempty,duration"`

	// MaxPending bounds pending challenges. Defaults to 100.
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" validate:"omitempty,min=1"`

	// DeviceSeed is mixed into the device fingerprint. Defaults to the hostname.
	DeviceSeed string `yaml:"device_seed" mapstructure:"device_seed"`
}

// RemoteCapabilityConfig configures the HTTP capability client.
type RemoteCapabilityConfig struct {
	// URL is the base URL of the bot-defense service.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Timeout bounds each request. Defaults to "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// PollInterval is the delay between challenge polls. Defaults to "2s".
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval" validate:"omitempty,duration"`

	// MaxPolls bounds polls per challenge before it resolves cancelled. Defaults to 150.
	MaxPolls int `yaml:"max_polls" mapstructure:"max_polls" validate:"omitempty,min=1"`
}

// AuditConfig configures audit log output.
type AuditConfig struct {
	// Output is "stdout", "stderr", "none" or "file:///absolute/path".
	// Defaults to "stderr". stdout is rejected in stdio mode.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records. Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long to block when the channel is full. Defaults to "100ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage that logs a warning. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent records kept for the admin API. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// Dir, when set, persists records as daily JSONL files in this
	// directory in addition to Output. The admin API then reads from it.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// RetentionDays is how long daily files are kept. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB rotates a daily file once it grows past this size. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// APIKeyHash is an argon2id PHC string or "sha256:<hex>". Generate with
	// "botbridge hash-key". When empty only loopback clients are served.
	APIKeyHash string `yaml:"api_key_hash" mapstructure:"api_key_hash" validate:"omitempty,key_hash"`

	// RateLimit is the per-minute request budget for remote clients. Defaults to 60.
	RateLimit int `yaml:"rate_limit" mapstructure:"rate_limit" validate:"omitempty,min=1"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns span and metric export on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is "stderr" or "file:///absolute/path". Defaults to "stderr".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,audit_output"`

	// MetricInterval is the metric export interval. Defaults to "30s".
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// SetDevDefaults applies permissive defaults for development mode.
// They are applied before validation so required fields are satisfied.
func (c *BridgeConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Capability.AppID == "" {
		c.Capability.AppID = "PXdevapp"
	}
	if c.Capability.Mode == ModeLocal && c.Capability.Local.SigningKey == "" {
		c.Capability.Local.SigningKey = devSigningKey
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies default values to unset fields.
func (c *BridgeConfig) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Bridge.Channel == "" {
		c.Bridge.Channel = DefaultChannel
	}
	if c.Bridge.ReplyTimeout == "" {
		c.Bridge.ReplyTimeout = "5m"
	}
	if c.Bridge.ResponseURL == "" {
		c.Bridge.ResponseURL = "https://example.com"
	}
	if c.Bridge.ResponseStatus == 0 {
		c.Bridge.ResponseStatus = 403
	}

	if c.Capability.Mode == "" {
		c.Capability.Mode = ModeLocal
	}
	if c.Capability.Local.TokenTTL == "" {
		c.Capability.Local.TokenTTL = "5m"
	}
	if c.Capability.Local.ChallengeTimeout == "" {
		c.Capability.Local.ChallengeTimeout = "5m"
	}
	if c.Capability.Local.MaxPending == 0 {
		c.Capability.Local.MaxPending = 100
	}
	if c.Capability.Remote.Timeout == "" {
		c.Capability.Remote.Timeout = "10s"
	}
	if c.Capability.Remote.PollInterval == "" {
		c.Capability.Remote.PollInterval = "2s"
	}
	if c.Capability.Remote.MaxPolls == 0 {
		c.Capability.Remote.MaxPolls = 150
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stderr"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	if c.Admin.RateLimit == 0 {
		c.Admin.RateLimit = 60
	}

	if c.Telemetry.Output == "" {
		c.Telemetry.Output = "stderr"
	}
	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "30s"
	}
}

// Duration parses a validated duration field. Invalid or empty values yield 0.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Redacted returns a copy with secrets masked, for display.
func (c BridgeConfig) Redacted() BridgeConfig {
	if c.Capability.Local.SigningKey != "" {
		c.Capability.Local.SigningKey = "[redacted]"
	}
	if c.Capability.Remote.APIKey != "" {
		c.Capability.Remote.APIKey = "[redacted]"
	}
	c.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return c
}
