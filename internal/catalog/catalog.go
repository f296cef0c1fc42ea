package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/jpeyre/mlxp/internal/rundir"
	"github.com/jpeyre/mlxp/pkg/runs"
)

// Catalog is a SQLite-backed database of runs under a log root.
// Writes go through a single connection serialized by a mutex; reads
// use a separate read-only connection pool so searches never block
// behind an indexing pass.
type Catalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	// Prepared statements for the indexing hot path
	upsertRunStmt   *sql.Stmt
	upsertFieldStmt *sql.Stmt

	// Prepared statement cache (for read connection)
	readStmtCache map[string]*sql.Stmt
	readStmtMu    sync.RWMutex
}

// Stats reports the outcome of an indexing or refresh pass.
type Stats struct {
	// Indexed counts runs inserted or re-indexed during this pass.
	Indexed int
	// Removed counts rows pruned because their directory vanished.
	Removed int
	// Skipped lists runs that could not be indexed, with the reason.
	Skipped []SkippedRun
}

// SkippedRun identifies a run directory that was present but not
// indexable, typically because a metadata file is missing.
type SkippedRun struct {
	RunID  uint64
	Reason string
}

// Open opens (creating if needed) the run database at dbPath.
func Open(dbPath string) (*Catalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	catalog := &Catalog{
		db:            db,
		dbPath:        dbPath,
		readStmtCache: make(map[string]*sql.Stmt),
	}

	// Initialize schema first: the write connection creates the file,
	// which must exist before a read-only connection can attach.
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	upsertRun, err := db.Prepare(`
		INSERT INTO runs (run_id, log_dir, status, config_hash, document, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			log_dir = excluded.log_dir,
			status = excluded.status,
			config_hash = excluded.config_hash,
			document = excluded.document,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to prepare run upsert: %w", err)
	}
	catalog.upsertRunStmt = upsertRun

	upsertField, err := db.Prepare(`
		INSERT INTO fields (key, kind) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET kind = excluded.kind`)
	if err != nil {
		upsertRun.Close()
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to prepare field upsert: %w", err)
	}
	catalog.upsertFieldStmt = upsertField

	return catalog, nil
}

// initSchema creates all required tables and indexes and stamps the
// schema version.
func (c *Catalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var version int
	if err := c.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if version < SchemaVersion {
		if _, err := c.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
	}
	return nil
}

// Close closes the catalog database connections.
func (c *Catalog) Close() error {
	c.readStmtMu.Lock()
	for _, stmt := range c.readStmtCache {
		stmt.Close()
	}
	c.readStmtCache = make(map[string]*sql.Stmt)
	c.readStmtMu.Unlock()

	if c.upsertRunStmt != nil {
		c.upsertRunStmt.Close()
	}
	if c.upsertFieldStmt != nil {
		c.upsertFieldStmt.Close()
	}

	var firstErr error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			firstErr = fmt.Errorf("catalog: failed to close read database: %w", err)
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("catalog: failed to close database: %w", err)
	}
	return firstErr
}

// Index scans the log root and indexes every digit-named run directory.
// Runs whose metadata cannot be read are skipped and reported in Stats
// rather than failing the pass. Re-indexing an already-indexed run
// replaces its row.
func (c *Catalog) Index(ctx context.Context, root string) (*Stats, error) {
	ids, err := scanRunIDs(root)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to scan log root %s: %w", root, err)
	}

	stats := &Stats{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := rundir.RunPath(root, id)
		doc, kinds, err := readRunDocument(dir)
		if err != nil {
			stats.Skipped = append(stats.Skipped, SkippedRun{RunID: id, Reason: err.Error()})
			continue
		}
		if err := c.upsertRun(ctx, id, dir, doc, kinds); err != nil {
			return nil, err
		}
		stats.Indexed++
	}
	return stats, nil
}

// Refresh reconciles the database with the log root: rows whose
// directory vanished are pruned, new directories are indexed, and runs
// whose metadata changed since they were indexed are re-indexed.
func (c *Catalog) Refresh(ctx context.Context, root string) (*Stats, error) {
	ids, err := scanRunIDs(root)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to scan log root %s: %w", root, err)
	}
	present := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	indexedAt, err := c.indexedTimes(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}

	// Prune rows whose run directory no longer exists.
	for id := range indexedAt {
		if present[id] {
			continue
		}
		if err := c.deleteRun(ctx, id); err != nil {
			return nil, err
		}
		stats.Removed++
	}

	// Index new directories and re-index stale ones.
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := rundir.RunPath(root, id)
		if at, ok := indexedAt[id]; ok {
			mtime, err := runModTime(dir)
			if err != nil {
				stats.Skipped = append(stats.Skipped, SkippedRun{RunID: id, Reason: err.Error()})
				continue
			}
			if mtime.UnixNano() <= at {
				continue
			}
		}
		doc, kinds, err := readRunDocument(dir)
		if err != nil {
			stats.Skipped = append(stats.Skipped, SkippedRun{RunID: id, Reason: err.Error()})
			continue
		}
		if err := c.upsertRun(ctx, id, dir, doc, kinds); err != nil {
			return nil, err
		}
		stats.Indexed++
	}
	return stats, nil
}

// upsertRun writes one run's row and merges its field kinds.
func (c *Catalog) upsertRun(ctx context.Context, id uint64, dir string, doc map[string]interface{}, kinds map[string]string) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode document for run %d: %w", id, err)
	}
	hash, err := Fingerprint(doc)
	if err != nil {
		return fmt.Errorf("catalog: failed to fingerprint run %d: %w", id, err)
	}
	status, _ := doc["info.status"].(string)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.upsertRunStmt.ExecContext(ctx,
		int64(id), dir, status, hash, string(docJSON), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("catalog: failed to upsert run %d: %w", id, err)
	}

	for _, key := range sortedKeys(kinds) {
		if _, err := c.upsertFieldStmt.ExecContext(ctx, key, kinds[key]); err != nil {
			return fmt.Errorf("catalog: failed to register field %s: %w", key, err)
		}
	}
	return nil
}

// deleteRun removes one run's row. The fields registry is additive and
// keeps keys contributed by pruned runs.
func (c *Catalog) deleteRun(ctx context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", int64(id)); err != nil {
		return fmt.Errorf("catalog: failed to delete run %d: %w", id, err)
	}
	return nil
}

// indexedTimes returns run_id -> indexed_at (nanoseconds) for every
// indexed run.
func (c *Catalog) indexedTimes(ctx context.Context) (map[uint64]int64, error) {
	rows, err := c.readDB.QueryContext(ctx, "SELECT run_id, indexed_at FROM runs")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query indexed runs: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]int64)
	for rows.Next() {
		var id, at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan indexed run: %w", err)
		}
		out[uint64(id)] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating indexed runs: %w", err)
	}
	return out, nil
}

// readRunDocument builds the flattened metadata document for one run
// directory. All three metadata files must be readable; a missing file
// marks the run as not indexable. Metric key registries add one
// LAZYDATA entry per logged field; a malformed registry contributes
// nothing rather than failing the run.
func readRunDocument(dir string) (map[string]interface{}, map[string]string, error) {
	doc := make(map[string]interface{})
	for _, meta := range []struct {
		file   string
		prefix string
	}{
		{rundir.ConfigFile, "config"},
		{rundir.InfoFile, "info"},
		{rundir.MlxpFile, "mlxp"},
	} {
		raw, err := os.ReadFile(rundir.MetadataFile(dir, meta.file))
		if err != nil {
			return nil, nil, err
		}
		var nested map[string]interface{}
		if err := yaml.Unmarshal(raw, &nested); err != nil {
			return nil, nil, fmt.Errorf("malformed %s: %w", meta.file, err)
		}
		flattenInto(doc, meta.prefix, nested)
	}

	kinds := make(map[string]string, len(doc))
	for key, value := range doc {
		kinds[key] = rundir.KindOf(value)
	}

	keysDir := filepath.Join(dir, rundir.MetricsDir, rundir.KeysDir)
	entries, err := os.ReadDir(keysDir)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, kinds, nil // run never logged metrics
		}
		return nil, nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		logName := strings.TrimSuffix(name, ".yaml")
		raw, err := os.ReadFile(filepath.Join(keysDir, name))
		if err != nil {
			continue
		}
		var registry map[string]string
		if err := yaml.Unmarshal(raw, &registry); err != nil {
			continue
		}
		for field := range registry {
			full := logName + "." + field
			doc[full] = runs.LazySentinel
			kinds[full] = runs.LazySentinel
		}
	}
	return doc, kinds, nil
}

// flattenInto flattens a nested mapping into out using dotted keys.
// Nested maps recurse; every other value, lists included, is kept
// whole. An empty nested map contributes no keys.
func flattenInto(out map[string]interface{}, prefix string, nested map[string]interface{}) {
	for k, v := range nested {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]interface{}); ok {
			flattenInto(out, key, child)
			continue
		}
		out[key] = v
	}
}

// scanRunIDs lists the digit-named subdirectories of root in ascending
// run-id order.
func scanRunIDs(root string) ([]uint64, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := rundir.ParseRunID(e.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// runModTime returns the newest modification time across a run's
// metadata files and metric key registries.
func runModTime(dir string) (time.Time, error) {
	var latest time.Time
	metaEntries, err := os.ReadDir(filepath.Join(dir, rundir.MetadataDir))
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range metaEntries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	if keyEntries, err := os.ReadDir(filepath.Join(dir, rundir.MetricsDir, rundir.KeysDir)); err == nil {
		for _, e := range keyEntries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(latest) {
				latest = info.ModTime()
			}
		}
	}
	return latest, nil
}

// sortedKeys returns the map's keys in ascending order so field
// registration is deterministic.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
