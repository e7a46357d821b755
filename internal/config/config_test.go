package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestBridgeConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg BridgeConfig
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Bridge.Channel != DefaultChannel {
		t.Errorf("Channel = %q, want %q", cfg.Bridge.Channel, DefaultChannel)
	}
	if cfg.Bridge.ResponseURL != "https://example.com" || cfg.Bridge.ResponseStatus != 403 {
		t.Errorf("descriptor = %q %d", cfg.Bridge.ResponseURL, cfg.Bridge.ResponseStatus)
	}
	if cfg.Capability.Mode != ModeLocal {
		t.Errorf("Mode = %q, want %q", cfg.Capability.Mode, ModeLocal)
	}
	if cfg.Audit.Output != "stderr" {
		t.Errorf("Audit.Output = %q, want %q", cfg.Audit.Output, "stderr")
	}
	if cfg.Capability.Remote.MaxPolls != 150 {
		t.Errorf("MaxPolls = %d, want 150", cfg.Capability.Remote.MaxPolls)
	}
	if cfg.Admin.RateLimit != 60 {
		t.Errorf("Admin.RateLimit = %d, want 60", cfg.Admin.RateLimit)
	}
	if Duration(cfg.Bridge.ReplyTimeout) != 5*time.Minute {
		t.Errorf("ReplyTimeout = %q", cfg.Bridge.ReplyTimeout)
	}
}

func TestBridgeConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := BridgeConfig{
		Server:     ServerConfig{HTTPAddr: ":9090"},
		Bridge:     ChannelConfig{Channel: "custom/chan", ReplyTimeout: "30s"},
		Capability: CapabilityConfig{Mode: ModeRemote},
		Audit:      AuditConfig{Output: "file:///var/log/botbridge.log", BatchSize: 7},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: %q", cfg.Server.HTTPAddr)
	}
	if cfg.Bridge.Channel != "custom/chan" || cfg.Bridge.ReplyTimeout != "30s" {
		t.Errorf("bridge was overwritten: %+v", cfg.Bridge)
	}
	if cfg.Capability.Mode != ModeRemote {
		t.Errorf("Mode was overwritten: %q", cfg.Capability.Mode)
	}
	if cfg.Audit.Output != "file:///var/log/botbridge.log" || cfg.Audit.BatchSize != 7 {
		t.Errorf("audit was overwritten: %+v", cfg.Audit)
	}
}

func TestBridgeConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := BridgeConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Capability.AppID == "" {
		t.Error("dev mode should provide an app id")
	}
	if len(cfg.Capability.Local.SigningKey) < minSigningKeyLen {
		t.Error("dev mode should provide a signing key")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev config should validate: %v", err)
	}

	// Not in dev mode: nothing changes.
	prod := BridgeConfig{}
	prod.SetDefaults()
	prod.SetDevDefaults()
	if prod.Capability.AppID != "" || prod.Capability.Local.SigningKey != "" {
		t.Error("dev defaults applied outside dev mode")
	}
}

func TestBridgeConfig_Redacted(t *testing.T) {
	t.Parallel()

	cfg := BridgeConfig{}
	cfg.Capability.Local.SigningKey = "secret-secret-secret-secret-secret"
	cfg.Capability.Remote.APIKey = "api"

	r := cfg.Redacted()
	if r.Capability.Local.SigningKey != "[redacted]" || r.Capability.Remote.APIKey != "[redacted]" {
		t.Errorf("secrets not masked: %+v", r.Capability)
	}
	if cfg.Capability.Local.SigningKey == "[redacted]" {
		t.Error("Redacted modified the original")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	if Duration("1m30s") != 90*time.Second {
		t.Error("Duration(1m30s)")
	}
	if Duration("") != 0 || Duration("soon") != 0 {
		t.Error("invalid durations should be zero")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "botbridge.yaml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(filepath.Join(dir, "botbridge.yml"), []byte("server:\n  http_addr: :9090\n"), 0644)

	if got := findConfigFileInPaths([]string{dir}); got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, yamlPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A file named like the binary.
	_ = os.WriteFile(filepath.Join(dir, "botbridge"), []byte("\x7fELF binary"), 0755)

	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

// Uses the global viper instance; not parallel.
func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "botbridge.yaml")
	content := `
server:
  http_addr: "127.0.0.1:9191"
capability:
  mode: local
  app_id: PXfile
  local:
    signing_key: "0123456789abcdef0123456789abcdef"
    max_pending: 5
audit:
  output: none
  retention_days: 3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOTBRIDGE_CAPABILITY_APP_ID", "PXenv")
	t.Setenv("BOTBRIDGE_AUDIT_DIR", dir)

	InitViper(path)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9191" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Capability.AppID != "PXenv" {
		t.Errorf("AppID = %q, want env override", cfg.Capability.AppID)
	}
	if cfg.Capability.Local.MaxPending != 5 {
		t.Errorf("MaxPending = %d", cfg.Capability.Local.MaxPending)
	}
	if cfg.Audit.Dir != dir || cfg.Audit.RetentionDays != 3 {
		t.Errorf("audit = %+v", cfg.Audit)
	}
	if ConfigFileUsed() != path {
		t.Errorf("ConfigFileUsed = %q", ConfigFileUsed())
	}
}

func TestLoadConfig_InvalidFails(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "botbridge.yaml")
	if err := os.WriteFile(path, []byte("capability:\n  mode: cloud\n"), 0600); err != nil {
		t.Fatal(err)
	}

	InitViper(path)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected validation error")
	}
}
