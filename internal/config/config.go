// Package config loads process configuration from LITHOCORE_* environment
// variables. Storage and blob backends read their own variables through the
// respective factories; this covers the binaries' remaining knobs.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Config holds configuration shared by the server and ETL binaries.
type Config struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	SchemaFile      string        `envconfig:"SCHEMA_FILE"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	ETLSchedule string `envconfig:"ETL_SCHEDULE" default:"0 2 * * *"`
	ETLWatchDir string `envconfig:"ETL_WATCH_DIR" default:"ingest-queue"`
	ETLAgent    string `envconfig:"ETL_AGENT" default:"lithocore-etl"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("lithocore", &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &c, nil
}

// NewLogger builds a production zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}
