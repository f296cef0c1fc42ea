// Package main implements the mlxp-index binary.
// It builds or refreshes the run catalog from a log root.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jpeyre/mlxp/internal/app"
	"github.com/jpeyre/mlxp/internal/catalog"
	"github.com/jpeyre/mlxp/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML or JSON config file")
		root       = flag.String("root", "", "Log root holding run directories (overrides config)")
		db         = flag.String("db", "", "Path to the catalog database (overrides config)")
		refresh    = flag.Bool("refresh", false, "Reconcile an existing catalog instead of re-reading every run")
		duplicates = flag.Bool("duplicates", false, "Report groups of runs with identical configs")
	)
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *root != "" {
		cfg.Paths.LogRoot = *root
	}
	if *db != "" {
		cfg.Paths.CatalogPath = *db
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	cat, err := a.Catalog()
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "index"
	if *refresh {
		mode = "refresh"
	}
	log.Printf("Starting mlxp-index (%s) over %s", mode, cfg.Paths.LogRoot)

	var stats *catalog.Stats
	if *refresh {
		stats, err = cat.Refresh(ctx, cfg.Paths.LogRoot)
	} else {
		stats, err = cat.Index(ctx, cfg.Paths.LogRoot)
	}
	if err != nil {
		log.Fatalf("Failed to %s catalog: %v", mode, err)
	}

	log.Printf("Indexed %d runs, removed %d, skipped %d", stats.Indexed, stats.Removed, len(stats.Skipped))
	for _, s := range stats.Skipped {
		log.Printf("Skipped run %d: %s", s.RunID, s.Reason)
	}

	if *duplicates {
		reportDuplicates(ctx, cat)
	}
}

func reportDuplicates(ctx context.Context, cat *catalog.Catalog) {
	groups, err := cat.Duplicates(ctx)
	if err != nil {
		log.Fatalf("Failed to detect duplicate configs: %v", err)
	}
	if len(groups) == 0 {
		log.Printf("No duplicate configs found")
		return
	}

	hashes := make([]string, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		log.Printf("Duplicate config %s: runs %v", h, groups[h])
	}
}

func loadConfig(path string) *config.Config {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg
}
