// Package app wires the shared resources behind the mlxp binaries.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/jpeyre/mlxp/internal/catalog"
	"github.com/jpeyre/mlxp/internal/config"
	"github.com/jpeyre/mlxp/internal/storage"
)

// App holds the configuration and the resources the binaries share.
// The catalog and the storage backend are opened on first use so each
// binary pays only for what it touches.
type App struct {
	cfg *config.Config

	catalog *catalog.Catalog
	storage storage.ObjectStorage
}

// New resolves and validates cfg and creates the required directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Catalog opens the run catalog on first call and caches it.
func (a *App) Catalog() (*catalog.Catalog, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}

	cat, err := catalog.Open(a.cfg.Paths.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	a.catalog = cat
	log.Printf("Catalog opened: %s", a.cfg.Paths.CatalogPath)
	return a.catalog, nil
}

// Storage opens the configured archive backend on first call and caches it.
func (a *App) Storage(ctx context.Context) (storage.ObjectStorage, error) {
	if a.storage != nil {
		return a.storage, nil
	}

	var (
		store storage.ObjectStorage
		err   error
	)
	switch a.cfg.Storage.Backend {
	case "local":
		store, err = storage.NewLocalStorage(a.cfg.Storage.LocalRoot)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.Region != "" {
			s3Cfg.Region = a.cfg.Storage.Region
		}
		if a.cfg.Storage.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.Endpoint
			s3Cfg.UsePathStyle = true
		}
		s3Cfg.MultipartConfig.Threshold = int64(a.cfg.Archive.MultipartThresholdMB) * 1024 * 1024
		store, err = storage.NewS3Storage(ctx, a.cfg.Storage.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", a.cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.storage = store
	log.Printf("Storage initialized: backend=%s", a.cfg.Storage.Backend)
	return a.storage, nil
}

// Close releases everything the app opened.
func (a *App) Close() error {
	var firstErr error
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.catalog = nil
	}
	a.storage = nil
	return firstErr
}
