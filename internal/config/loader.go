package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// configName is the base name of the configuration file.
const configName = "botbridge"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for botbridge.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig will return ConfigFileNotFoundError, handled by callers.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: BOTBRIDGE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("BOTBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for botbridge.yaml or .yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".botbridge"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "botbridge"))
		}
	} else {
		paths = append(paths, "/etc/botbridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first botbridge.yaml or .yml found in paths,
// or an empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists the scalar keys that can be overridden from the environment.
// Example: BOTBRIDGE_CAPABILITY_APP_ID overrides capability.app_id
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.tls_cert_file",
	"server.tls_key_file",

	"bridge.channel",
	"bridge.reply_timeout",
	"bridge.response_url",
	"bridge.response_status",

	"capability.mode",
	"capability.app_id",
	"capability.local.signing_key",
	"capability.local.token_ttl",
	"capability.local.block_expression",
	"capability.local.challenge_timeout",
	"capability.local.max_pending",
	"capability.local.device_seed",
	"capability.remote.url",
	"capability.remote.api_key",
	"capability.remote.timeout",
	"capability.remote.poll_interval",
	"capability.remote.max_polls",

	"audit.output",
	"audit.channel_size",
	"audit.batch_size",
	"audit.flush_interval",
	"audit.send_timeout",
	"audit.warning_threshold",
	"audit.buffer_size",
	"audit.dir",
	"audit.retention_days",
	"audit.max_file_size_mb",

	"admin.api_key_hash",
	"admin.rate_limit",

	"telemetry.enabled",
	"telemetry.output",
	"telemetry.metric_interval",

	"dev_mode",
}

// bindNestedEnvKeys binds config keys for environment variable support.
// server.allowed_origins is a list and is only read from the file.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and dev defaults, and validates.
func LoadConfig() (*BridgeConfig, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*BridgeConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: environment variables only.
	}

	var cfg BridgeConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
