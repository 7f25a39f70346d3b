// Copyright 2024-2026 Aiku AI

package relay

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/chatrelay/pkg/logging"
	"github.com/aiku/chatrelay/pkg/relay/phone"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix prefixes every environment override, e.g. CHATRELAY_RELAY_URL.
const EnvPrefix = "CHATRELAY_"

type PhoneConfig struct {
	CountryCode  string `yaml:"country_code" env:"COUNTRY_CODE"`
	MobileMarker string `yaml:"mobile_marker" env:"MOBILE_MARKER"`
}

type RelayConfig struct {
	// URL is the relay target. Empty disables inbound relaying.
	URL              string `yaml:"url" env:"URL"`
	TimeoutMS        int    `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	MaxAttempts      int    `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryBaseDelayMS int    `yaml:"retry_base_delay_ms" env:"RETRY_BASE_DELAY_MS"`
	ShutdownGraceMS  int    `yaml:"shutdown_grace_ms" env:"SHUTDOWN_GRACE_MS"`
}

func (c RelayConfig) Timeout() time.Duration        { return ms(c.TimeoutMS) }
func (c RelayConfig) RetryBaseDelay() time.Duration { return ms(c.RetryBaseDelayMS) }
func (c RelayConfig) ShutdownGrace() time.Duration  { return ms(c.ShutdownGraceMS) }

type MessagesConfig struct {
	// MaxLength caps message bodies in characters. Zero disables the cap.
	MaxLength   int `yaml:"max_length" env:"MAX_LENGTH"`
	BulkDelayMS int `yaml:"bulk_delay_ms" env:"BULK_DELAY_MS"`
}

func (c MessagesConfig) BulkDelay() time.Duration { return ms(c.BulkDelayMS) }

type SessionConfig struct {
	URL                  string `yaml:"url" env:"URL"`
	ReconnectIntervalMS  int    `yaml:"reconnect_interval_ms" env:"RECONNECT_INTERVAL_MS"`
	ReconnectMaxAttempts int    `yaml:"reconnect_max_attempts" env:"RECONNECT_MAX_ATTEMPTS"`
	LookupTimeoutMS      int    `yaml:"lookup_timeout_ms" env:"LOOKUP_TIMEOUT_MS"`
}

func (c SessionConfig) ReconnectInterval() time.Duration { return ms(c.ReconnectIntervalMS) }
func (c SessionConfig) LookupTimeout() time.Duration     { return ms(c.LookupTimeoutMS) }

type APIConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// Token, when set, is required as a bearer token on every request.
	Token string `yaml:"token" env:"TOKEN"`
}

// Config is the full relay configuration.
type Config struct {
	Phone    PhoneConfig    `yaml:"phone" envPrefix:"PHONE_"`
	Relay    RelayConfig    `yaml:"relay" envPrefix:"RELAY_"`
	Messages MessagesConfig `yaml:"messages" envPrefix:"MESSAGES_"`
	Session  SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Logging  logging.Config `yaml:"logging" envPrefix:"LOGGING_"`
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills zero values with defaults and validates the result.
func (c *Config) PostProcess() error {
	if c.Phone.CountryCode == "" {
		c.Phone.CountryCode = phone.DefaultCountryCode
	}
	if c.Phone.MobileMarker == "" {
		c.Phone.MobileMarker = phone.DefaultMobileMarker
	}
	if c.Relay.TimeoutMS <= 0 {
		c.Relay.TimeoutMS = 10000
	}
	if c.Relay.MaxAttempts <= 0 {
		c.Relay.MaxAttempts = 3
	}
	if c.Relay.ShutdownGraceMS <= 0 {
		c.Relay.ShutdownGraceMS = 5000
	}
	if c.Session.ReconnectIntervalMS <= 0 {
		c.Session.ReconnectIntervalMS = int(DefaultReconnectInterval / time.Millisecond)
	}
	if c.Session.LookupTimeoutMS <= 0 {
		c.Session.LookupTimeoutMS = 5000
	}
	if c.API.Addr == "" {
		c.API.Addr = ":3000"
	}

	var errs []error
	if _, err := phone.New(c.Phone.CountryCode, c.Phone.MobileMarker); err != nil {
		errs = append(errs, fmt.Errorf("phone: %w", err))
	}
	if c.Relay.URL != "" {
		if u, err := url.Parse(c.Relay.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("relay.url: %q is not an http(s) URL", c.Relay.URL))
		}
	}
	if c.Relay.RetryBaseDelayMS < 0 {
		errs = append(errs, errors.New("relay.retry_base_delay_ms must not be negative"))
	}
	if c.Messages.MaxLength < 0 {
		errs = append(errs, errors.New("messages.max_length must not be negative"))
	}
	if c.Messages.BulkDelayMS < 0 {
		errs = append(errs, errors.New("messages.bulk_delay_ms must not be negative"))
	}
	if c.Session.ReconnectMaxAttempts < 0 {
		errs = append(errs, errors.New("session.reconnect_max_attempts must not be negative"))
	}
	if c.Session.URL != "" {
		if u, err := url.Parse(c.Session.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("session.url: %q is not a ws(s) URL", c.Session.URL))
		}
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str|up.Int, "phone", "country_code")
	helper.Copy(up.Str|up.Int, "phone", "mobile_marker")

	helper.Copy(up.Str, "relay", "url")
	helper.Copy(up.Int, "relay", "timeout_ms")
	helper.Copy(up.Int, "relay", "max_attempts")
	helper.Copy(up.Int, "relay", "retry_base_delay_ms")
	helper.Copy(up.Int, "relay", "shutdown_grace_ms")

	helper.Copy(up.Int, "messages", "max_length")
	helper.Copy(up.Int, "messages", "bulk_delay_ms")

	helper.Copy(up.Str, "session", "url")
	helper.Copy(up.Int, "session", "reconnect_interval_ms")
	helper.Copy(up.Int, "session", "reconnect_max_attempts")
	helper.Copy(up.Int, "session", "lookup_timeout_ms")

	helper.Copy(up.Str, "api", "addr")
	helper.Copy(up.Str, "api", "token")

	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Str, "logging", "format")
	helper.Copy(up.Str, "logging", "file")
	helper.Copy(up.Int, "logging", "max_size_mb")
	helper.Copy(up.Int, "logging", "max_backups")
	helper.Copy(up.Int, "logging", "max_age_days")
}

// Upgrader merges a user config over ExampleConfig.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"relay"},
		{"messages"},
		{"session"},
		{"api"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadConfig reads path, fills missing keys from ExampleConfig, applies
// CHATRELAY_* environment overrides and post-processes the result. An
// empty path loads the defaults. When save is set the merged file is
// written back to path.
func LoadConfig(path string, save bool) (*Config, error) {
	data := []byte(ExampleConfig)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if len(bytes.TrimSpace(raw)) > 0 {
			data, _, err = up.Do(path, save, Upgrader)
			if err != nil {
				return nil, fmt.Errorf("failed to upgrade config: %w", err)
			}
		}
	}
	return ParseConfig(data)
}

// ParseConfig decodes an already merged YAML document, applies environment
// overrides and post-processes the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
