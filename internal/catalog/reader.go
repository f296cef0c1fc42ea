package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jpeyre/mlxp/internal/query"
	"github.com/jpeyre/mlxp/pkg/runs"
)

// Field is one entry of the searchable-fields registry.
type Field struct {
	Key  string
	Kind string
}

// Search returns the runs whose document matches the filter, in run-id
// order. An empty filter matches every run. Matching records reference
// their run directory, so lazy metric columns materialize on access.
func (c *Catalog) Search(ctx context.Context, filter string) (*runs.Collection, error) {
	var expr query.Expression
	if strings.TrimSpace(filter) != "" {
		parsed, err := query.Parse(filter)
		if err != nil {
			return nil, err
		}
		expr = parsed
	}

	stmt, err := c.getOrPrepareStmt("SELECT run_id, log_dir, document FROM runs ORDER BY run_id ASC")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to prepare search query: %w", err)
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query runs: %w", err)
	}
	defer rows.Close()

	collection := runs.New()
	for rows.Next() {
		var id int64
		var dir, docJSON string
		if err := rows.Scan(&id, &dir, &docJSON); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan run: %w", err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
			return nil, fmt.Errorf("catalog: corrupt document for run %d: %w", id, err)
		}
		if expr != nil && !query.Eval(expr, doc) {
			continue
		}
		collection.Append(runs.RecordFromDoc(doc, dir))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating runs: %w", err)
	}
	return collection, nil
}

// Fields returns the searchable-fields registry sorted by key.
func (c *Catalog) Fields(ctx context.Context) ([]Field, error) {
	rows, err := c.readDB.QueryContext(ctx, "SELECT key, kind FROM fields ORDER BY key ASC")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query fields: %w", err)
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.Key, &f.Kind); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan field: %w", err)
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating fields: %w", err)
	}
	return fields, nil
}

// Duplicates returns config_hash -> run ids for every fingerprint
// shared by more than one run. Runs without a config contribute no
// fingerprint and never appear here.
func (c *Catalog) Duplicates(ctx context.Context) (map[string][]uint64, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT config_hash, run_id FROM runs WHERE config_hash != '' ORDER BY config_hash, run_id")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query duplicates: %w", err)
	}
	defer rows.Close()

	byHash := make(map[string][]uint64)
	for rows.Next() {
		var hash string
		var id int64
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan duplicate: %w", err)
		}
		byHash[hash] = append(byHash[hash], uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating duplicates: %w", err)
	}

	for hash, ids := range byHash {
		if len(ids) < 2 {
			delete(byHash, hash)
		}
	}
	return byHash, nil
}

// RunCount returns the number of indexed runs.
func (c *Catalog) RunCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to count runs: %w", err)
	}
	return count, nil
}

// getOrPrepareStmt returns a cached prepared statement on the read
// connection or creates one.
func (c *Catalog) getOrPrepareStmt(query string) (*sql.Stmt, error) {
	c.readStmtMu.RLock()
	if stmt, ok := c.readStmtCache[query]; ok {
		c.readStmtMu.RUnlock()
		return stmt, nil
	}
	c.readStmtMu.RUnlock()

	c.readStmtMu.Lock()
	defer c.readStmtMu.Unlock()

	// Double-check after acquiring write lock
	if stmt, ok := c.readStmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := c.readDB.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.readStmtCache[query] = stmt
	return stmt, nil
}
