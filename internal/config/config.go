// Package config implements the configuration loader (C10): a yaml.v3
// main-file decode, plain key=value per-plugin override files, and
// SERVERSENTRY_-prefixed environment overrides via spf13/cast. Grounded
// on other_examples' octoreflex config.go for the Defaults()/Load()/
// Validate() shape (Config struct with yaml tags, a total Validate that
// accumulates every violation instead of failing fast) and on the
// teacher's absence of a config package — there is no direct analog in
// melisai (it is a one-shot CLI tool with only flag parsing), so this
// whole package is built in the style the rest of the example pack uses
// for yaml-backed config rather than invented from nothing.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure (spec §6 main configuration
// file).
type Config struct {
	System            SystemConfig            `yaml:"system"`
	Plugins           PluginsConfig           `yaml:"plugins"`
	Notifications     NotificationsConfig     `yaml:"notifications"`
	AnomalyDetection  AnomalyDetectionConfig  `yaml:"anomaly_detection"`
	CompositeChecks   CompositeChecksConfig   `yaml:"composite_checks"`
}

// SystemConfig is spec §6 "system".
type SystemConfig struct {
	Enabled         bool   `yaml:"enabled"`
	LogLevel        string `yaml:"log_level"`
	CheckInterval   int    `yaml:"check_interval"` // seconds
	CheckTimeout    int    `yaml:"check_timeout"`  // seconds
	MaxLogSizeMB    int    `yaml:"max_log_size"`
	MaxLogArchives  int    `yaml:"max_log_archives"`
	DataDirectory   string `yaml:"data_directory"`
}

// PluginsConfig is spec §6 "plugins".
type PluginsConfig struct {
	Enabled         []string `yaml:"enabled"`
	Directory       string   `yaml:"directory"`
	ConfigDirectory string   `yaml:"config_directory"`
}

// ChannelConfig is one entry under "notifications.<channel>" (spec §6).
type ChannelConfig struct {
	URL        string   `yaml:"url"`
	SMTPServer string   `yaml:"smtp_server"`
	SMTPPort   int      `yaml:"smtp_port"`
	From       string   `yaml:"from"`
	To         []string `yaml:"to"`
	Channel    string   `yaml:"channel"` // target channel name for chat webhooks
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	UseTLS     bool     `yaml:"use_tls"`
	Timeout    int      `yaml:"timeout"` // seconds
	Cooldown   int      `yaml:"cooldown"` // seconds
	Template   string   `yaml:"template"`
}

// NotificationsConfig is spec §6 "notifications".
type NotificationsConfig struct {
	Enabled         bool                     `yaml:"enabled"`
	Channels        []string                 `yaml:"channels"`
	DefaultTemplate string                   `yaml:"default_template"`
	Timeout         int                      `yaml:"timeout"`
	Teams           ChannelConfig            `yaml:"teams"`
	Slack           ChannelConfig            `yaml:"slack"`
	Discord         ChannelConfig            `yaml:"discord"`
	Email           ChannelConfig            `yaml:"email"`
	Webhook         ChannelConfig            `yaml:"webhook"`
}

// AnomalyDetectionConfig is spec §6 "anomaly_detection". Sensitivity may
// be a named level ("low"/"medium"/"high") or a raw float;
// ResolveSensitivity() converts it.
type AnomalyDetectionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Sensitivity   string `yaml:"sensitivity"`
	DataPoints    int    `yaml:"data_points"`
	RetentionDays int    `yaml:"retention_days"`
	MinDataPoints int    `yaml:"min_data_points"`
}

// ResolveSensitivity maps named levels to the §3 AnomalyConfig float range
// [1.0, 4.0]; a value that parses as a float is used as-is.
func (a AnomalyDetectionConfig) ResolveSensitivity() float64 {
	switch strings.ToLower(strings.TrimSpace(a.Sensitivity)) {
	case "low":
		return 3.0 // fewer alerts
	case "medium", "":
		return 2.0
	case "high":
		return 1.0
	default:
		var f float64
		if _, err := fmt.Sscanf(a.Sensitivity, "%f", &f); err == nil {
			return f
		}
		return 2.0
	}
}

// CompositeRuleConfig is one entry read from the composite checks
// config_directory (spec §3 CompositeRule).
type CompositeRuleConfig struct {
	Name             string `yaml:"name"`
	Expression       string `yaml:"expression"`
	Severity         int    `yaml:"severity"`
	CooldownSeconds  int    `yaml:"cooldown_seconds"`
	NotifyOnTrigger  bool   `yaml:"notify_on_trigger"`
	NotifyOnRecovery bool   `yaml:"notify_on_recovery"`
	Enabled          bool   `yaml:"enabled"`
}

// CompositeChecksConfig is spec §6 "composite_checks".
type CompositeChecksConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	ConfigDirectory string                `yaml:"config_directory"`
	CooldownDefault int                   `yaml:"cooldown_default"`
	Rules           []CompositeRuleConfig `yaml:"rules"`
}

// PluginOverride is one plugin's parsed key=value override file (spec §6
// "Recognized plugin options").
type PluginOverride struct {
	WarningThreshold       *float64
	CriticalThreshold      *float64
	CheckIntervalSeconds   *int
	AnomalyEnabled         *bool
	AnomalySensitivity     *float64
	DetectTrends           *bool
	DetectSpikes           *bool
	MemoryIncludeSwap      *bool
	MemoryIncludeBuffersCache *bool
	DiskMonitoredPaths     []string
	DiskExcludeFilesystems []string
	DiskExcludeMountPoints []string
	ProcessMonitoredNames  []string
	ProcessRequireAll      *bool
}

// Defaults returns a Config populated with spec-conformant defaults.
func Defaults() Config {
	return Config{
		System: SystemConfig{
			Enabled:        true,
			LogLevel:       "info",
			CheckInterval:  60,
			CheckTimeout:   30,
			MaxLogSizeMB:   10,
			MaxLogArchives: 5,
			DataDirectory:  "./logs",
		},
		Plugins: PluginsConfig{
			Enabled:         []string{"cpu", "memory", "disk", "process"},
			Directory:       "./plugins",
			ConfigDirectory: "./conf.d",
		},
		Notifications: NotificationsConfig{
			Enabled:         true,
			DefaultTemplate: "",
			Timeout:         30,
		},
		AnomalyDetection: AnomalyDetectionConfig{
			Enabled:       true,
			Sensitivity:   "medium",
			DataPoints:    1000,
			RetentionDays: 30,
			MinDataPoints: 10,
		},
		CompositeChecks: CompositeChecksConfig{
			Enabled:         true,
			ConfigDirectory: "./conf.d/composite",
			CooldownDefault: 300,
		},
	}
}

// Load reads the main YAML file, parses the per-plugin key=value override
// files under Plugins.ConfigDirectory (rejecting malformed ones; the
// parsed values are not stored in the returned Config, callers read them
// with PluginOverrides), applies SERVERSENTRY_-prefixed environment
// overrides, and validates the result. On failure
// the caller should refuse to start (spec §8 "invalid config -> refuse to
// start during initial load").
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "path", Err: fmt.Errorf("read %q: %w", path, err)}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Field: "yaml", Err: fmt.Errorf("parse %q: %w", path, err)}
	}

	overrides, err := loadPluginOverrides(cfg.Plugins.ConfigDirectory, cfg.Plugins.Enabled)
	if err != nil {
		return nil, &ConfigError{Field: "plugins.config_directory", Err: err}
	}

	rules, err := loadCompositeRules(cfg.CompositeChecks.ConfigDirectory)
	if err != nil {
		return nil, &ConfigError{Field: "composite_checks.config_directory", Err: err}
	}
	cfg.CompositeChecks.Rules = append(cfg.CompositeChecks.Rules, rules...)

	ApplyEnvOverrides(&cfg, os.Environ())

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, &ConfigError{Field: "validate", Err: joinErrors(errs)}
	}

	_ = overrides // overrides are consumed by the agent wiring layer via PluginOverrides(path)
	return &cfg, nil
}

// PluginOverrides re-reads and returns the per-plugin overrides for path,
// exposed separately from Load because the caller applies them per
// sampler/threshold/anomaly config, not onto Config itself.
func PluginOverrides(configDirectory string, plugins []string) (map[string]PluginOverride, error) {
	return loadPluginOverrides(configDirectory, plugins)
}

func loadPluginOverrides(dir string, plugins []string) (map[string]PluginOverride, error) {
	out := make(map[string]PluginOverride)
	if dir == "" {
		return out, nil
	}
	for _, plugin := range plugins {
		path := filepath.Join(dir, plugin+".conf")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read override %q: %w", path, err)
		}
		ov, err := ParseOverride(plugin, string(data))
		if err != nil {
			return nil, fmt.Errorf("parse override %q: %w", path, err)
		}
		out[plugin] = ov
	}
	return out, nil
}

func loadCompositeRules(dir string) ([]CompositeRuleConfig, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rules []CompositeRuleConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var rule CompositeRuleConfig
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ConfigError is the spec §7 ConfigError taxonomy value: fatal at
// startup, logged-and-kept-previous at reload.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %s: %v", e.Field, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Validate is the total validation function (spec §8 "never panics"):
// it returns every violation found, nil meaning valid.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.System.CheckInterval < 1 {
		errs = append(errs, fmt.Errorf("system.check_interval must be >= 1s, got %d", cfg.System.CheckInterval))
	}
	if cfg.System.CheckTimeout < 1 {
		errs = append(errs, fmt.Errorf("system.check_timeout must be >= 1s, got %d", cfg.System.CheckTimeout))
	}
	switch strings.ToLower(cfg.System.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("system.log_level must be one of debug|info|warn|error, got %q", cfg.System.LogLevel))
	}

	if cfg.AnomalyDetection.Enabled {
		sens := cfg.AnomalyDetection.ResolveSensitivity()
		if sens < 1.0 || sens > 4.0 {
			errs = append(errs, fmt.Errorf("anomaly_detection.sensitivity resolves to %.2f, outside [1.0, 4.0]", sens))
		}
		if cfg.AnomalyDetection.MinDataPoints < 10 {
			errs = append(errs, fmt.Errorf("anomaly_detection.min_data_points must be >= 10, got %d", cfg.AnomalyDetection.MinDataPoints))
		}
	}
	if cfg.AnomalyDetection.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("anomaly_detection.retention_days must be >= 0, got %d", cfg.AnomalyDetection.RetentionDays))
	}

	if cfg.Notifications.Enabled {
		for _, name := range cfg.Notifications.Channels {
			ch, ok := channelByName(cfg.Notifications, name)
			if !ok {
				errs = append(errs, fmt.Errorf("notifications.channels references unknown channel %q", name))
				continue
			}
			if ch.Cooldown < 0 {
				errs = append(errs, fmt.Errorf("notifications.%s.cooldown must be >= 0, got %d", name, ch.Cooldown))
			}
			if name == "email" {
				if ch.SMTPServer == "" {
					errs = append(errs, fmt.Errorf("notifications.email.smtp_server is required"))
				}
			} else if ch.URL != "" {
				if _, err := url.ParseRequestURI(ch.URL); err != nil {
					errs = append(errs, fmt.Errorf("notifications.%s.url is not well-formed: %v", name, err))
				}
			}
		}
	}

	for _, rule := range cfg.CompositeChecks.Rules {
		if rule.Expression == "" {
			errs = append(errs, fmt.Errorf("composite rule %q: expression must not be empty", rule.Name))
		}
		if rule.Severity < 1 || rule.Severity > 3 {
			errs = append(errs, fmt.Errorf("composite rule %q: severity must be in {1,2,3}, got %d", rule.Name, rule.Severity))
		}
		if rule.CooldownSeconds < 0 {
			errs = append(errs, fmt.Errorf("composite rule %q: cooldown_seconds must be >= 0, got %d", rule.Name, rule.CooldownSeconds))
		}
	}

	return errs
}

func channelByName(n NotificationsConfig, name string) (ChannelConfig, bool) {
	switch strings.ToLower(name) {
	case "teams":
		return n.Teams, true
	case "slack":
		return n.Slack, true
	case "discord":
		return n.Discord, true
	case "email":
		return n.Email, true
	case "webhook":
		return n.Webhook, true
	default:
		return ChannelConfig{}, false
	}
}
