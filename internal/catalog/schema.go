// Package catalog maintains the SQLite database of indexed runs built
// from a log root. The database is a queryable mirror of the run
// directories: one row per run holding the flattened metadata document,
// plus a registry of every searchable field and its kind.
package catalog

// SchemaVersion is the current database layout version, stored in
// PRAGMA user_version. Opening a database written by a newer version
// fails rather than guessing at the layout.
const SchemaVersion = 1

// CreateRunsTableSQL creates the runs table. The document column holds
// the run's flattened metadata as JSON; lazy metric columns appear in it
// as the LAZYDATA sentinel and are materialized from the run directory
// on demand, never stored here.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id      INTEGER PRIMARY KEY,
    log_dir     TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT '',
    config_hash TEXT NOT NULL DEFAULT '',
    document    TEXT NOT NULL,
    indexed_at  INTEGER NOT NULL
)`

// CreateFieldsTableSQL creates the fields registry. Every key seen in
// any indexed document gets a row with its kind string; lazy metric
// keys are registered under the LAZYDATA kind.
const CreateFieldsTableSQL = `
CREATE TABLE IF NOT EXISTS fields (
    key  TEXT PRIMARY KEY,
    kind TEXT NOT NULL
)`

// CreateRunsIndexesSQL creates indexes for the common lookup patterns:
// filtering by status and grouping identical configurations.
var CreateRunsIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_config_hash ON runs(config_hash)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the run
// database.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreateFieldsTableSQL,
	}
	statements = append(statements, CreateRunsIndexesSQL...)
	return statements
}
