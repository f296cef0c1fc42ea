// Package config provides unified configuration for the mlxp tools.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the unified configuration for the mlxp binaries.
type Config struct {
	// Paths configuration
	Paths PathsConfig `json:"paths" yaml:"paths"`

	// Storage configuration for the archive backend
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Archive transfer configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	// LogRoot is the directory run directories are created under
	LogRoot string `json:"log_root" yaml:"log_root"`

	// CatalogPath is the path to the run catalog database
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`

	// ArchiveStaging is the scratch directory for archive transfers
	ArchiveStaging string `json:"archive_staging" yaml:"archive_staging"`
}

// StorageConfig holds the archive storage backend configuration.
type StorageConfig struct {
	// Backend is the storage backend: local, s3
	Backend string `json:"backend" yaml:"backend"`

	// LocalRoot is the base directory for the local backend
	LocalRoot string `json:"local_root" yaml:"local_root"`

	// Bucket is the S3 bucket name (for the s3 backend)
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// ArchiveConfig holds archive transfer tuning.
type ArchiveConfig struct {
	// Concurrency is the number of parallel restore downloads (1–64, default 4)
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MultipartThresholdMB is the file size in megabytes above which
	// uploads switch to multipart (5–1024, default 32)
	MultipartThresholdMB int `json:"multipart_threshold_mb" yaml:"multipart_threshold_mb"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			LogRoot: "./logs",
		},
		Storage: StorageConfig{
			Backend: "local",
		},
		Archive: ArchiveConfig{
			Concurrency:          4,
			MultipartThresholdMB: 32,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on LogRoot.
// The derived paths live under a dot-directory so the catalog and
// staging areas are never mistaken for run directories.
func (c *Config) Resolve() {
	if c.Paths.LogRoot == "" {
		c.Paths.LogRoot = "./logs"
	}

	if c.Paths.CatalogPath == "" {
		c.Paths.CatalogPath = filepath.Join(c.Paths.LogRoot, ".mlxp", "catalog.db")
	}

	if c.Paths.ArchiveStaging == "" {
		c.Paths.ArchiveStaging = filepath.Join(c.Paths.LogRoot, ".mlxp", "staging")
	}

	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = filepath.Join(c.Paths.LogRoot, ".mlxp", "archive")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Paths.LogRoot == "" {
		return fmt.Errorf("paths.log_root is required")
	}

	if c.Storage.Backend != "local" && c.Storage.Backend != "s3" {
		return fmt.Errorf("invalid storage backend: %s (must be local or s3)", c.Storage.Backend)
	}

	if c.Storage.Backend == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage backend is s3")
	}

	if c.Archive.Concurrency < 1 || c.Archive.Concurrency > 64 {
		return fmt.Errorf("archive.concurrency must be between 1 and 64, got %d", c.Archive.Concurrency)
	}

	if c.Archive.MultipartThresholdMB < 5 || c.Archive.MultipartThresholdMB > 1024 {
		return fmt.Errorf("archive.multipart_threshold_mb must be between 5 and 1024, got %d", c.Archive.MultipartThresholdMB)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MLXP_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MLXP_LOG_ROOT"); v != "" {
		cfg.Paths.LogRoot = v
	}
	if v := os.Getenv("MLXP_CATALOG_PATH"); v != "" {
		cfg.Paths.CatalogPath = v
	}
	if v := os.Getenv("MLXP_ARCHIVE_STAGING"); v != "" {
		cfg.Paths.ArchiveStaging = v
	}

	// Storage configuration
	if v := os.Getenv("MLXP_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("MLXP_STORAGE_LOCAL_ROOT"); v != "" {
		cfg.Storage.LocalRoot = v
	}
	if v := os.Getenv("MLXP_STORAGE_PREFIX"); v != "" {
		cfg.Storage.Prefix = v
	}
	if v := os.Getenv("MLXP_S3_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("MLXP_S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("MLXP_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}

	// Archive configuration
	if v := os.Getenv("MLXP_ARCHIVE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Archive.Concurrency)
	}
	if v := os.Getenv("MLXP_ARCHIVE_MULTIPART_THRESHOLD_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Archive.MultipartThresholdMB)
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.LogRoot,
		filepath.Dir(c.Paths.CatalogPath),
		c.Paths.ArchiveStaging,
	}
	if c.Storage.Backend == "local" {
		dirs = append(dirs, c.Storage.LocalRoot)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
