package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "funds-service" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected 10s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "service_name: funds-test\nhttp:\n  port: 9999\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CEX_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "funds-test" {
		t.Fatalf("expected service name from file, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 9999 {
		t.Fatalf("expected port from file, got %d", cfg.HTTP.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from env, got %q", cfg.LogLevel)
	}
}

func TestValidateRejectsBadMetricsPath(t *testing.T) {
	cfg := AppConfig{ServiceName: "x", MetricsPath: "metrics", HTTP: HTTPConfig{Port: 1}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
