// Copyright 2024-2026 Aiku AI

package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

func TestExampleConfigNotEmpty(t *testing.T) {
	t.Parallel()
	if ExampleConfig == "" {
		t.Error("ExampleConfig should not be empty (embedded from example-config.yaml)")
	}
}

func TestParseConfigExampleDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(ExampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Phone.CountryCode != "54" || cfg.Phone.MobileMarker != "9" {
		t.Errorf("phone: got %+v", cfg.Phone)
	}
	if cfg.Relay.URL != "" {
		t.Errorf("Relay.URL: got %q, want empty", cfg.Relay.URL)
	}
	if cfg.Relay.Timeout() != 10*time.Second {
		t.Errorf("Relay.Timeout: got %v", cfg.Relay.Timeout())
	}
	if cfg.Relay.MaxAttempts != 3 {
		t.Errorf("Relay.MaxAttempts: got %d", cfg.Relay.MaxAttempts)
	}
	if cfg.Relay.RetryBaseDelay() != time.Second {
		t.Errorf("Relay.RetryBaseDelay: got %v", cfg.Relay.RetryBaseDelay())
	}
	if cfg.Messages.MaxLength != 4096 {
		t.Errorf("Messages.MaxLength: got %d", cfg.Messages.MaxLength)
	}
	if cfg.Messages.BulkDelay() != time.Second {
		t.Errorf("Messages.BulkDelay: got %v", cfg.Messages.BulkDelay())
	}
	if cfg.Session.ReconnectInterval() != 5*time.Second || cfg.Session.ReconnectMaxAttempts != 5 {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if cfg.API.Addr != ":3000" {
		t.Errorf("API.Addr: got %q", cfg.API.Addr)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("logging: got %+v", cfg.Logging)
	}
}

func TestPostProcessFillsZeroValues(t *testing.T) {
	t.Parallel()
	var cfg Config
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	if cfg.Phone.CountryCode != "54" || cfg.Phone.MobileMarker != "9" {
		t.Errorf("phone defaults: got %+v", cfg.Phone)
	}
	if cfg.Relay.MaxAttempts != 3 {
		t.Errorf("Relay.MaxAttempts: got %d, want 3", cfg.Relay.MaxAttempts)
	}
	if cfg.Session.LookupTimeout() != 5*time.Second {
		t.Errorf("Session.LookupTimeout: got %v", cfg.Session.LookupTimeout())
	}
	if cfg.Messages.MaxLength != 0 {
		t.Errorf("Messages.MaxLength: got %d, zero should stay disabled", cfg.Messages.MaxLength)
	}
}

func TestPostProcessRejectsInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"non-digit country code", func(c *Config) { c.Phone.CountryCode = "+54" }, "phone"},
		{"relay url scheme", func(c *Config) { c.Relay.URL = "ftp://example.com/hook" }, "relay.url"},
		{"relay url without host", func(c *Config) { c.Relay.URL = "http://" }, "relay.url"},
		{"negative max length", func(c *Config) { c.Messages.MaxLength = -1 }, "messages.max_length"},
		{"negative bulk delay", func(c *Config) { c.Messages.BulkDelayMS = -5 }, "messages.bulk_delay_ms"},
		{"negative reconnects", func(c *Config) { c.Session.ReconnectMaxAttempts = -1 }, "session.reconnect_max_attempts"},
		{"session url scheme", func(c *Config) { c.Session.URL = "http://localhost:3001" }, "session.url"},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			tt.mutate(&cfg)
			err := cfg.PostProcess()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestUpgradeConfig(t *testing.T) {
	t.Parallel()
	var baseNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		t.Fatalf("failed to parse base config: %v", err)
	}

	userCfg := `
phone:
    country_code: 55
relay:
    url: http://hooks.local/inbound
    max_attempts: 5
unknown_section:
    ignored: true
`
	var cfgNode yaml.Node
	if err := yaml.Unmarshal([]byte(userCfg), &cfgNode); err != nil {
		t.Fatalf("failed to parse user config: %v", err)
	}

	helper := up.NewHelper(&baseNode, &cfgNode)
	upgradeConfig(helper)

	if val, ok := helper.Get(up.Int, "phone", "country_code"); !ok || val != "55" {
		t.Errorf("phone.country_code after upgrade: got %q, ok=%v", val, ok)
	}
	if val := helper.GetBase("phone", "mobile_marker"); val != "9" {
		t.Errorf("phone.mobile_marker should keep the base value: got %q", val)
	}
	if val, ok := helper.Get(up.Str, "relay", "url"); !ok || val != "http://hooks.local/inbound" {
		t.Errorf("relay.url after upgrade: got %q, ok=%v", val, ok)
	}

	out, err := yaml.Marshal(&baseNode)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(out, &cfg); err != nil {
		t.Fatalf("Unmarshal merged: %v", err)
	}
	if cfg.Phone.CountryCode != "55" {
		t.Errorf("CountryCode: got %q, want %q", cfg.Phone.CountryCode, "55")
	}
	if cfg.Relay.MaxAttempts != 5 {
		t.Errorf("MaxAttempts: got %d, want 5", cfg.Relay.MaxAttempts)
	}
	if cfg.Session.URL != "ws://127.0.0.1:3001/session" {
		t.Errorf("Session.URL should come from base: got %q", cfg.Session.URL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	userCfg := `
relay:
    url: https://hooks.example.com/wa
messages:
    max_length: 1000
`
	if err := os.WriteFile(path, []byte(userCfg), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Relay.URL != "https://hooks.example.com/wa" {
		t.Errorf("Relay.URL: got %q", cfg.Relay.URL)
	}
	if cfg.Messages.MaxLength != 1000 {
		t.Errorf("Messages.MaxLength: got %d, want 1000", cfg.Messages.MaxLength)
	}
	if cfg.Relay.MaxAttempts != 3 {
		t.Errorf("Relay.MaxAttempts should default from base: got %d", cfg.Relay.MaxAttempts)
	}
}

func TestLoadConfigEmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Messages.MaxLength != 4096 {
		t.Errorf("Messages.MaxLength: got %d, want 4096", cfg.Messages.MaxLength)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_RELAY_URL", "http://env.local/hook")
	t.Setenv("CHATRELAY_PHONE_COUNTRY_CODE", "598")
	t.Setenv("CHATRELAY_SESSION_RECONNECT_MAX_ATTEMPTS", "2")
	t.Setenv("CHATRELAY_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig("", false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Relay.URL != "http://env.local/hook" {
		t.Errorf("Relay.URL: got %q", cfg.Relay.URL)
	}
	if cfg.Phone.CountryCode != "598" {
		t.Errorf("Phone.CountryCode: got %q", cfg.Phone.CountryCode)
	}
	if cfg.Session.ReconnectMaxAttempts != 2 {
		t.Errorf("Session.ReconnectMaxAttempts: got %d", cfg.Session.ReconnectMaxAttempts)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q", cfg.Logging.Level)
	}
}

func TestLoadConfigEnvOverrideInvalid(t *testing.T) {
	t.Setenv("CHATRELAY_RELAY_MAX_ATTEMPTS", "many")
	if _, err := LoadConfig("", false); err == nil {
		t.Fatal("expected error for non-numeric override")
	}
}
