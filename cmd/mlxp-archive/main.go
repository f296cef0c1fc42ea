// Package main implements the mlxp-archive binary.
// It mirrors run directories to object storage and restores them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/jpeyre/mlxp/internal/app"
	"github.com/jpeyre/mlxp/internal/config"
	"github.com/jpeyre/mlxp/internal/rundir"
	"github.com/jpeyre/mlxp/internal/storage"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to a YAML or JSON config file")
		root         = flag.String("root", "", "Log root holding run directories (overrides config)")
		runID        = flag.Uint64("run", 0, "Run id to archive or restore")
		allComplete  = flag.Bool("all-complete", false, "Archive every COMPLETE run in the catalog")
		restore      = flag.Bool("restore", false, "Restore the run from the archive instead of uploading it")
		deleteSource = flag.Bool("delete-source", false, "Delete the local run directory after a successful archive")
	)
	flag.Parse()

	switch {
	case *restore && *allComplete:
		log.Fatalf("-restore restores a single run, pass -run N")
	case *restore && *runID == 0:
		log.Fatalf("-restore requires -run")
	case !*restore && *runID == 0 && !*allComplete:
		log.Fatalf("Nothing to do: pass -run N or -all-complete")
	case *runID != 0 && *allComplete:
		log.Fatalf("-run and -all-complete are mutually exclusive")
	}

	cfg := loadConfig(*configPath)
	if *root != "" {
		cfg.Paths.LogRoot = *root
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.Storage(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	if *restore {
		restoreRun(ctx, cfg, store, *runID)
		return
	}

	ids := []uint64{*runID}
	if *allComplete {
		ids = completeRunIDs(ctx, a)
		log.Printf("Archiving %d COMPLETE runs", len(ids))
	}

	failed := 0
	for _, id := range ids {
		if err := archiveRun(ctx, cfg, store, id, *deleteSource); err != nil {
			log.Printf("Failed to archive run %d: %v", id, err)
			failed++
		}
	}
	if *deleteSource {
		log.Printf("Source directories were deleted; run mlxp-index -refresh to reconcile the catalog")
	}
	if failed > 0 {
		log.Fatalf("%d runs failed to archive", failed)
	}
}

// completeRunIDs asks the catalog for every run whose status is COMPLETE.
func completeRunIDs(ctx context.Context, a *app.App) []uint64 {
	cat, err := a.Catalog()
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	collection, err := cat.Search(ctx, "info.status == 'COMPLETE'")
	if err != nil {
		log.Fatalf("Failed to search catalog: %v", err)
	}

	ids := make([]uint64, 0, collection.Len())
	for i := 0; i < collection.Len(); i++ {
		v, ok := collection.At(i).Get("info.log_id")
		f, isFloat := v.(float64)
		if !ok || !isFloat {
			log.Printf("Skipping run with unreadable id: %v", v)
			continue
		}
		ids = append(ids, uint64(f))
	}
	return ids
}

func archiveRun(ctx context.Context, cfg *config.Config, store storage.ObjectStorage, id uint64, deleteSource bool) error {
	dir := rundir.RunPath(cfg.Paths.LogRoot, id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("run %d not found at %s: %w", id, dir, err)
	}

	prefix := objectPrefix(cfg, id)
	threshold := int64(cfg.Archive.MultipartThresholdMB) * 1024 * 1024

	files, bytes := 0, int64(0)
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		object := prefix + "/" + filepath.ToSlash(rel)

		if info.Size() > threshold {
			_, err = store.UploadMultipart(ctx, p, object)
		} else {
			err = store.Upload(ctx, p, object)
		}
		if err != nil {
			return fmt.Errorf("upload %s: %w", object, err)
		}

		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Archived run %d: %d files, %d bytes under %s", id, files, bytes, prefix)
	if deleteSource {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("delete source %s: %w", dir, err)
		}
		log.Printf("Deleted source %s", dir)
	}
	return nil
}

func restoreRun(ctx context.Context, cfg *config.Config, store storage.ObjectStorage, id uint64) {
	prefix := objectPrefix(cfg, id) + "/"
	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		log.Fatalf("Failed to list archive: %v", err)
	}
	if len(objects) == 0 {
		log.Fatalf("No archived objects under %s", prefix)
	}

	dir := rundir.RunPath(cfg.Paths.LogRoot, id)
	bd := storage.NewBatchDownloader(store, cfg.Archive.Concurrency)
	result, err := bd.Download(ctx, &storage.BatchRequest{
		Prefix:  prefix,
		Objects: objects,
		DestDir: dir,
	})
	if err != nil {
		log.Fatalf("Failed to restore run %d: %v", id, err)
	}

	log.Printf("Restored run %d into %s: %d downloaded, %d already present", id, dir, result.Downloads, result.Skipped)
	if len(result.Errors) > 0 {
		for object, err := range result.Errors {
			log.Printf("Failed to restore %s: %v", object, err)
		}
		log.Fatalf("%d objects failed to restore", len(result.Errors))
	}
}

// objectPrefix is where a run's files live in the object namespace.
func objectPrefix(cfg *config.Config, id uint64) string {
	p := path.Join("runs", strconv.FormatUint(id, 10))
	if cfg.Storage.Prefix != "" {
		p = path.Join(cfg.Storage.Prefix, p)
	}
	return p
}

func loadConfig(file string) *config.Config {
	cfg := config.DefaultConfig()
	if file != "" {
		loaded, err := config.LoadFromFile(file)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg
}
