package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("unexpected port %q", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unexpected log level %q", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
	if cfg.ETLSchedule != "0 2 * * *" || cfg.ETLWatchDir != "ingest-queue" {
		t.Errorf("unexpected ETL defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LITHOCORE_HTTP_PORT", "9090")
	t.Setenv("LITHOCORE_LOG_LEVEL", "debug")
	t.Setenv("LITHOCORE_SHUTDOWN_TIMEOUT", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "9090" || cfg.LogLevel != "debug" || cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	logger, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}
	_ = logger.Sync()

	bad := &Config{LogLevel: "chatty"}
	if _, err := bad.NewLogger(); err == nil {
		t.Fatalf("invalid level accepted")
	}
}
