// Package config loads build settings from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/loader"
	"orderflow-lab/internal/ofi"
)

// Input sources for snapshots.
const (
	SourceFiles    = "files"
	SourcePostgres = "postgres"
)

type Config struct {
	Input    InputConfig    `yaml:"input"`
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Build    BuildConfig    `yaml:"build"`
	Output   OutputConfig   `yaml:"output"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type InputConfig struct {
	Source  string `yaml:"source"`   // files or postgres
	DataDir string `yaml:"data_dir"` // <data_dir>/<symbol>/<pattern>
	Pattern string `yaml:"pattern"`
}

type SessionConfig struct {
	Start    string `yaml:"start"` // HH:MM, empty with end disables filtering
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"`
}

type PipelineConfig struct {
	MaxLevels      int    `yaml:"max_levels"`
	JoinMode       string `yaml:"join_mode"`
	BoundaryPolicy string `yaml:"boundary_policy"`
	NumericPolicy  string `yaml:"numeric_policy"`
}

type BuildConfig struct {
	Symbols []string `yaml:"symbols"`
	Workers int      `yaml:"workers"`
}

type OutputConfig struct {
	Path        string   `yaml:"path"`
	Formats     []string `yaml:"formats"`
	Compression string   `yaml:"compression"`
}

type StorageConfig struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	S3         S3Config         `yaml:"s3"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ClickHouseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics endpoint
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Source:  SourceFiles,
			DataDir: "data/raw",
			Pattern: loader.DefaultPattern,
		},
		Session: SessionConfig{
			Start:    "09:30",
			End:      "16:00",
			Timezone: "America/New_York",
		},
		Pipeline: PipelineConfig{
			MaxLevels:      ofi.DefaultMaxLevels,
			JoinMode:       string(ofi.JoinInner),
			BoundaryPolicy: string(ofi.BoundarySessionReset),
			NumericPolicy:  string(ofi.NumericDrop),
		},
		Build: BuildConfig{Workers: 1},
		Output: OutputConfig{
			Path:        "data/features",
			Formats:     []string{"csv"},
			Compression: "snappy",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides connection settings and secrets from the environment.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	override(&c.Input.DataDir, "DATA_DIR")
	override(&c.Storage.Postgres.DSN, "POSTGRES_DSN")
	override(&c.Storage.ClickHouse.DSN, "CLICKHOUSE_DSN")
	override(&c.Storage.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
	override(&c.Storage.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	override(&c.Storage.S3.Region, "AWS_REGION")
	override(&c.Storage.S3.Bucket, "S3_BUCKET")
	override(&c.Storage.S3.Endpoint, "S3_ENDPOINT")
	c.Storage.S3.Bucket = strings.TrimSpace(c.Storage.S3.Bucket)
}

// Validate checks ranges, policy names and the settings required by each
// enabled backend.
func (c *Config) Validate() error {
	if c.Pipeline.MaxLevels < 1 || c.Pipeline.MaxLevels > domain.MaxDepthLevels {
		return fmt.Errorf("%w: pipeline.max_levels must be in [1, %d], got %d",
			ofi.ErrInvalidConfig, domain.MaxDepthLevels, c.Pipeline.MaxLevels)
	}
	if _, err := ofi.ParseJoinMode(c.Pipeline.JoinMode); err != nil {
		return fmt.Errorf("pipeline.join_mode: %w", err)
	}
	if _, err := ofi.ParseBoundaryPolicy(c.Pipeline.BoundaryPolicy); err != nil {
		return fmt.Errorf("pipeline.boundary_policy: %w", err)
	}
	if _, err := ofi.ParseNumericPolicy(c.Pipeline.NumericPolicy); err != nil {
		return fmt.Errorf("pipeline.numeric_policy: %w", err)
	}
	if _, err := c.SessionWindow(); err != nil {
		return fmt.Errorf("%w: session: %v", ofi.ErrInvalidConfig, err)
	}

	if c.Build.Workers < 1 {
		return fmt.Errorf("%w: build.workers must be greater than 0", ofi.ErrInvalidConfig)
	}

	switch c.Input.Source {
	case SourceFiles:
		if c.Input.DataDir == "" {
			return fmt.Errorf("%w: input.data_dir is required for file input", ofi.ErrInvalidConfig)
		}
	case SourcePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("%w: storage.postgres.dsn is required for postgres input", ofi.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: input.source must be %q or %q, got %q", ofi.ErrInvalidConfig, SourceFiles, SourcePostgres, c.Input.Source)
	}

	for _, f := range c.Output.Formats {
		if f != "csv" && f != "parquet" {
			return fmt.Errorf("%w: output.formats: unsupported format %q", ofi.ErrInvalidConfig, f)
		}
	}

	if c.Storage.ClickHouse.Enabled && c.Storage.ClickHouse.DSN == "" {
		return fmt.Errorf("%w: storage.clickhouse.dsn is required when ClickHouse is enabled", ofi.ErrInvalidConfig)
	}

	if c.Storage.S3.Enabled {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("%w: storage.s3.bucket is required when S3 is enabled", ofi.ErrInvalidConfig)
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("%w: storage.s3.region is required when S3 is enabled", ofi.ErrInvalidConfig)
		}
		if !isValidS3Bucket(c.Storage.S3.Bucket) {
			return fmt.Errorf("%w: storage.s3.bucket '%s' is invalid", ofi.ErrInvalidConfig, c.Storage.S3.Bucket)
		}
	}

	return nil
}

// SessionWindow parses the session settings.
func (c *Config) SessionWindow() (loader.SessionWindow, error) {
	return loader.ParseSessionWindow(c.Session.Start, c.Session.End, c.Session.Timezone)
}

// PipelineOptions converts the pipeline settings. Logger, Metrics and
// Location are left for the caller.
func (c *Config) PipelineOptions() ofi.Options {
	return ofi.Options{
		MaxLevels:     c.Pipeline.MaxLevels,
		JoinMode:      ofi.JoinMode(c.Pipeline.JoinMode),
		Boundary:      ofi.BoundaryPolicy(c.Pipeline.BoundaryPolicy),
		NumericPolicy: ofi.NumericPolicy(c.Pipeline.NumericPolicy),
	}
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
