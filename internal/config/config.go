// Package config loads service configuration from defaults, an optional
// YAML file, and SOLARSYNC_* environment variables, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Weather  WeatherConfig  `yaml:"weather"`
	SMS      SMSConfig      `yaml:"sms"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings. An empty APIToken leaves
// the API open, which is the expected setup behind a trusted proxy.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type WeatherConfig struct {
	BaseURL  string `yaml:"base_url"`
	CacheTTL string `yaml:"cache_ttl"`
}

// SMSConfig configures the messaging gateway. An empty base URL disables
// outbound SMS; notifications are then logged only.
type SMSConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Sender  string `yaml:"sender"`
}

type SweepConfig struct {
	Interval string `yaml:"interval"`
}

type WorkflowConfig struct {
	StateTTL string `yaml:"state_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server:   ServerConfig{Port: 4000},
		Storage:  StorageConfig{DataDir: defaultDataDir()},
		Weather:  WeatherConfig{BaseURL: "https://api.open-meteo.com", CacheTTL: "30m"},
		SMS:      SMSConfig{Sender: "SOLARSYNC"},
		Sweep:    SweepConfig{Interval: "30m"},
		Workflow: WorkflowConfig{StateTTL: "24h"},
		Log:      LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "solarsync")
	}
	return ".solarsync"
}

// envSpec maps one environment variable onto a config field.
type envSpec struct {
	env   string
	apply func(cfg *Config, v string)
}

var envSpecs = []envSpec{
	{"SOLARSYNC_SERVER_PORT", func(cfg *Config, v string) {
		fmt.Sscanf(v, "%d", &cfg.Server.Port)
	}},
	{"SOLARSYNC_SERVER_API_TOKEN", func(cfg *Config, v string) { cfg.Server.APIToken = v }},
	{"SOLARSYNC_STORAGE_DATA_DIR", func(cfg *Config, v string) { cfg.Storage.DataDir = v }},
	{"SOLARSYNC_WEATHER_BASE_URL", func(cfg *Config, v string) { cfg.Weather.BaseURL = v }},
	{"SOLARSYNC_WEATHER_CACHE_TTL", func(cfg *Config, v string) { cfg.Weather.CacheTTL = v }},
	{"SOLARSYNC_SMS_BASE_URL", func(cfg *Config, v string) { cfg.SMS.BaseURL = v }},
	{"SOLARSYNC_SMS_API_KEY", func(cfg *Config, v string) { cfg.SMS.APIKey = v }},
	{"SOLARSYNC_SMS_SENDER", func(cfg *Config, v string) { cfg.SMS.Sender = v }},
	{"SOLARSYNC_SWEEP_INTERVAL", func(cfg *Config, v string) { cfg.Sweep.Interval = v }},
	{"SOLARSYNC_WORKFLOW_STATE_TTL", func(cfg *Config, v string) { cfg.Workflow.StateTTL = v }},
	{"SOLARSYNC_LOG_LEVEL", func(cfg *Config, v string) { cfg.Log.Level = v }},
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply; a named file that does not exist is an
// error.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	for _, s := range envSpecs {
		if v := os.Getenv(s.env); v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	for name, v := range map[string]string{
		"weather.cache_ttl":  c.Weather.CacheTTL,
		"sweep.interval":     c.Sweep.Interval,
		"workflow.state_ttl": c.Workflow.StateTTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.SMS.BaseURL != "" && c.SMS.APIKey == "" {
		return fmt.Errorf("sms.api_key is required when sms.base_url is set")
	}
	return nil
}

// WeatherCacheTTL returns the parsed weather cache lifetime.
func (c Config) WeatherCacheTTL() time.Duration { return mustDuration(c.Weather.CacheTTL) }

// SweepInterval returns the parsed sweep period.
func (c Config) SweepInterval() time.Duration { return mustDuration(c.Sweep.Interval) }

// StateTTL returns the parsed pipeline state lifetime.
func (c Config) StateTTL() time.Duration { return mustDuration(c.Workflow.StateTTL) }

// mustDuration is safe after validate has run.
func mustDuration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
