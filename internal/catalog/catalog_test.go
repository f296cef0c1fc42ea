package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpeyre/mlxp/internal/query"
	"github.com/jpeyre/mlxp/internal/rundir"
	"github.com/jpeyre/mlxp/pkg/runs"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeYAML(t *testing.T, path string, doc map[string]interface{}) {
	t.Helper()
	raw, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// writeRun lays out a complete run directory with the three metadata
// files the indexer requires.
func writeRun(t *testing.T, root string, id uint64, status string, cfg map[string]interface{}) string {
	t.Helper()
	dir := rundir.RunPath(root, id)
	if err := rundir.EnsureLayout(dir); err != nil {
		t.Fatalf("failed to create run layout: %v", err)
	}
	writeYAML(t, rundir.MetadataFile(dir, rundir.ConfigFile), cfg)
	writeYAML(t, rundir.MetadataFile(dir, rundir.InfoFile), map[string]interface{}{
		"log_id":   id,
		"log_dir":  dir,
		"status":   status,
		"hostname": "node-1",
	})
	writeYAML(t, rundir.MetadataFile(dir, rundir.MlxpFile), map[string]interface{}{
		"version": "1.0.0",
	})
	return dir
}

// logMetrics appends NDJSON metric lines and records the fields in the
// log's key registry, the way the run writer does.
func logMetrics(t *testing.T, dir, logName string, lines []map[string]interface{}) {
	t.Helper()
	f, err := os.OpenFile(rundir.MetricsFile(dir, logName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("failed to open metrics file: %v", err)
	}
	defer f.Close()

	registry := make(map[string]string)
	for _, vals := range lines {
		raw, err := json.Marshal(vals)
		if err != nil {
			t.Fatalf("failed to marshal metrics line: %v", err)
		}
		if _, err := f.Write(append(raw, '\n')); err != nil {
			t.Fatalf("failed to append metrics line: %v", err)
		}
		for k := range vals {
			registry[k] = "float"
		}
	}

	keysDir := filepath.Join(dir, rundir.MetricsDir, rundir.KeysDir)
	if err := os.MkdirAll(keysDir, 0o755); err != nil {
		t.Fatalf("failed to create keys dir: %v", err)
	}
	reg := make(map[string]interface{}, len(registry))
	for k, v := range registry {
		reg[k] = v
	}
	writeYAML(t, rundir.KeysFile(dir, logName), reg)
}

func searchIDs(t *testing.T, collection *runs.Collection) []float64 {
	t.Helper()
	var ids []float64
	for i := 0; i < collection.Len(); i++ {
		v, ok := collection.At(i).Get("info.log_id")
		if !ok {
			t.Fatalf("record %d has no info.log_id", i)
		}
		ids = append(ids, v.(float64))
	}
	sort.Float64s(ids)
	return ids
}

func TestIndexAndSearchRoundTrip(t *testing.T) {
	root := t.TempDir()
	dir1 := writeRun(t, root, 1, "COMPLETE", map[string]interface{}{"lr": 0.1, "model": "cnn"})
	writeRun(t, root, 2, "COMPLETE", map[string]interface{}{"lr": 0.01, "model": "cnn"})
	writeRun(t, root, 3, "FAILED", map[string]interface{}{"lr": 0.1, "model": "mlp"})
	logMetrics(t, dir1, "train", []map[string]interface{}{
		{"loss": 0.5},
		{"loss": 0.4},
	})

	c := openCatalog(t)
	ctx := context.Background()

	stats, err := c.Index(ctx, root)
	if err != nil {
		t.Fatalf("failed to index: %v", err)
	}
	if stats.Indexed != 3 {
		t.Errorf("indexed %d runs, want 3", stats.Indexed)
	}
	if len(stats.Skipped) != 0 {
		t.Errorf("skipped %v, want none", stats.Skipped)
	}

	all, err := c.Search(ctx, "")
	if err != nil {
		t.Fatalf("empty search failed: %v", err)
	}
	if all.Len() != 3 {
		t.Fatalf("empty search returned %d runs, want 3", all.Len())
	}

	slow, err := c.Search(ctx, `config.lr < 0.05`)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got := searchIDs(t, slow); !reflect.DeepEqual(got, []float64{2}) {
		t.Errorf("config.lr < 0.05 matched runs %v, want [2]", got)
	}

	matched, err := c.Search(ctx, `info.status == 'COMPLETE' & config.model == 'cnn'`)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got := searchIDs(t, matched); !reflect.DeepEqual(got, []float64{1, 2}) {
		t.Errorf("compound filter matched runs %v, want [1 2]", got)
	}
}

func TestSearchMaterializesLazyMetrics(t *testing.T) {
	root := t.TempDir()
	dir := writeRun(t, root, 1, "COMPLETE", map[string]interface{}{"lr": 0.1})
	logMetrics(t, dir, "train", []map[string]interface{}{
		{"loss": 0.5},
		{"loss": 0.4},
	})

	c := openCatalog(t)
	ctx := context.Background()
	if _, err := c.Index(ctx, root); err != nil {
		t.Fatalf("failed to index: %v", err)
	}

	result, err := c.Search(ctx, `train.loss == 'LAZYDATA'`)
	if err != nil {
		t.Fatalf("sentinel search failed: %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("sentinel search returned %d runs, want 1", result.Len())
	}

	rec := result.At(0)
	got, ok := rec.Get("train.loss")
	if !ok {
		t.Fatal("record has no train.loss column")
	}
	if !reflect.DeepEqual(got, []interface{}{0.5, 0.4}) {
		t.Errorf("materialized train.loss = %v, want [0.5 0.4]", got)
	}
}

func TestIndexSkipsRunsMissingMetadata(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, 1, "COMPLETE", map[string]interface{}{"lr": 0.1})
	// Run 2 has a layout but never wrote its info file.
	dir2 := rundir.RunPath(root, 2)
	if err := rundir.EnsureLayout(dir2); err != nil {
		t.Fatalf("failed to create run layout: %v", err)
	}
	writeYAML(t, rundir.MetadataFile(dir2, rundir.ConfigFile), map[string]interface{}{"lr": 0.2})

	c := openCatalog(t)
	ctx := context.Background()

	stats, err := c.Index(ctx, root)
	if err != nil {
		t.Fatalf("failed to index: %v", err)
	}
	if stats.Indexed != 1 {
		t.Errorf("indexed %d runs, want 1", stats.Indexed)
	}
	if len(stats.Skipped) != 1 || stats.Skipped[0].RunID != 2 {
		t.Fatalf("skipped %v, want run 2", stats.Skipped)
	}
	if stats.Skipped[0].Reason == "" {
		t.Error("skip reason is empty")
	}

	all, err := c.Search(ctx, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if all.Len() != 1 {
		t.Errorf("search returned %d runs, want 1", all.Len())
	}
}

func TestSearchRejectsMalformedFilter(t *testing.T) {
	c := openCatalog(t)

	_, err := c.Search(context.Background(), `config.lr <`)
	if err == nil {
		t.Fatal("malformed filter did not fail")
	}
	var pe *query.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("error %v does not carry a parse error", err)
	}
}

func TestRefreshReconcilesWithLogRoot(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, 1, "COMPLETE", map[string]interface{}{"lr": 0.1})
	dir2 := writeRun(t, root, 2, "COMPLETE", map[string]interface{}{"lr": 0.2})

	c := openCatalog(t)
	ctx := context.Background()
	if _, err := c.Index(ctx, root); err != nil {
		t.Fatalf("failed to index: %v", err)
	}

	// Run 2 vanishes, run 3 appears.
	if err := os.RemoveAll(dir2); err != nil {
		t.Fatalf("failed to remove run 2: %v", err)
	}
	writeRun(t, root, 3, "RUNNING", map[string]interface{}{"lr": 0.3})

	stats, err := c.Refresh(ctx, root)
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if stats.Removed != 1 {
		t.Errorf("removed %d runs, want 1", stats.Removed)
	}
	if stats.Indexed != 1 {
		t.Errorf("indexed %d runs, want 1", stats.Indexed)
	}

	all, err := c.Search(ctx, "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got := searchIDs(t, all); !reflect.DeepEqual(got, []float64{1, 3}) {
		t.Errorf("catalog holds runs %v, want [1 3]", got)
	}
}

func TestRefreshReindexesChangedRuns(t *testing.T) {
	root := t.TempDir()
	dir := writeRun(t, root, 1, "RUNNING", map[string]interface{}{"lr": 0.1})

	c := openCatalog(t)
	ctx := context.Background()
	if _, err := c.Index(ctx, root); err != nil {
		t.Fatalf("failed to index: %v", err)
	}

	// An untouched root refreshes to a no-op.
	stats, err := c.Refresh(ctx, root)
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if stats.Indexed != 0 || stats.Removed != 0 {
		t.Errorf("no-op refresh reported indexed=%d removed=%d", stats.Indexed, stats.Removed)
	}

	// The run finishes: its info file changes after the indexing pass.
	infoPath := rundir.MetadataFile(dir, rundir.InfoFile)
	writeYAML(t, infoPath, map[string]interface{}{
		"log_id":  uint64(1),
		"log_dir": dir,
		"status":  "COMPLETE",
	})
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(infoPath, future, future); err != nil {
		t.Fatalf("failed to bump mtime: %v", err)
	}

	stats, err = c.Refresh(ctx, root)
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	if stats.Indexed != 1 {
		t.Errorf("refresh re-indexed %d runs, want 1", stats.Indexed)
	}

	done, err := c.Search(ctx, `info.status == 'COMPLETE'`)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if done.Len() != 1 {
		t.Errorf("status search returned %d runs, want 1", done.Len())
	}
}

func TestDuplicatesGroupsIdenticalConfigs(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, 1, "COMPLETE", map[string]interface{}{"lr": 0.01, "model": "cnn"})
	writeRun(t, root, 2, "COMPLETE", map[string]interface{}{"model": "cnn", "lr": 0.01})
	writeRun(t, root, 3, "COMPLETE", map[string]interface{}{"lr": 0.02, "model": "cnn"})

	c := openCatalog(t)
	ctx := context.Background()
	if _, err := c.Index(ctx, root); err != nil {
		t.Fatalf("failed to index: %v", err)
	}

	dupes, err := c.Duplicates(ctx)
	if err != nil {
		t.Fatalf("failed to list duplicates: %v", err)
	}
	if len(dupes) != 1 {
		t.Fatalf("got %d duplicate groups, want 1: %v", len(dupes), dupes)
	}
	for _, ids := range dupes {
		if !reflect.DeepEqual(ids, []uint64{1, 2}) {
			t.Errorf("duplicate group holds runs %v, want [1 2]", ids)
		}
	}
}

func TestFieldsRegistryRecordsKinds(t *testing.T) {
	root := t.TempDir()
	dir := writeRun(t, root, 1, "COMPLETE", map[string]interface{}{
		"lr":     0.01,
		"seed":   42,
		"frozen": true,
		"model":  "cnn",
		"note":   nil,
		"layers": []interface{}{64, 32},
	})
	logMetrics(t, dir, "train", []map[string]interface{}{{"loss": 0.5}})

	c := openCatalog(t)
	ctx := context.Background()
	if _, err := c.Index(ctx, root); err != nil {
		t.Fatalf("failed to index: %v", err)
	}

	fields, err := c.Fields(ctx)
	if err != nil {
		t.Fatalf("failed to list fields: %v", err)
	}

	kinds := make(map[string]string, len(fields))
	for i, f := range fields {
		kinds[f.Key] = f.Kind
		if i > 0 && fields[i-1].Key >= f.Key {
			t.Errorf("fields out of order: %q before %q", fields[i-1].Key, f.Key)
		}
	}

	want := map[string]string{
		"config.lr":     "float",
		"config.seed":   "int",
		"config.frozen": "bool",
		"config.model":  "string",
		"config.note":   "null",
		"config.layers": "list",
		"info.status":   "string",
		"train.loss":    runs.LazySentinel,
	}
	for key, kind := range want {
		if kinds[key] != kind {
			t.Errorf("field %s has kind %q, want %q", key, kinds[key], kind)
		}
	}
}

func TestOpenStampsSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	c, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}

	var version int
	if err := c.readDB.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read user_version: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("user_version = %d, want %d", version, SchemaVersion)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close catalog: %v", err)
	}

	// Reopening an existing database is idempotent.
	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen catalog: %v", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("failed to close reopened catalog: %v", err)
	}
}

func TestRunCount(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, 1, "COMPLETE", map[string]interface{}{"lr": 0.1})
	writeRun(t, root, 2, "COMPLETE", map[string]interface{}{"lr": 0.2})

	c := openCatalog(t)
	ctx := context.Background()
	if _, err := c.Index(ctx, root); err != nil {
		t.Fatalf("failed to index: %v", err)
	}

	count, err := c.RunCount(ctx)
	if err != nil {
		t.Fatalf("failed to count runs: %v", err)
	}
	if count != 2 {
		t.Errorf("run count = %d, want 2", count)
	}
}
