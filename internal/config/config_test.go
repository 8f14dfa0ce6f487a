package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.WeatherCacheTTL() != 30*time.Minute {
		t.Errorf("weather cache ttl = %v", cfg.WeatherCacheTTL())
	}
	if cfg.StateTTL() != 24*time.Hour {
		t.Errorf("state ttl = %v", cfg.StateTTL())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 8080
sms:
  base_url: https://sms.example.com
  api_key: secret
  sender: SOLAR
sweep:
  interval: 10m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.SMS.Sender != "SOLAR" {
		t.Errorf("sender = %q", cfg.SMS.Sender)
	}
	if cfg.SweepInterval() != 10*time.Minute {
		t.Errorf("sweep interval = %v", cfg.SweepInterval())
	}
	// Unset file keys keep their defaults.
	if cfg.Weather.BaseURL != "https://api.open-meteo.com" {
		t.Errorf("weather base url = %q", cfg.Weather.BaseURL)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SOLARSYNC_SERVER_PORT", "9090")
	t.Setenv("SOLARSYNC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want env override 9090", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadDuration(t *testing.T) {
	t.Setenv("SOLARSYNC_SWEEP_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestValidateRequiresAPIKeyWithGateway(t *testing.T) {
	t.Setenv("SOLARSYNC_SMS_BASE_URL", "https://sms.example.com")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for gateway without api key")
	}
}
