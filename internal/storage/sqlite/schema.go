package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
	record_id          TEXT PRIMARY KEY,
	ci_id              TEXT NOT NULL,
	session_id         TEXT NOT NULL DEFAULT '',
	turn_id            INTEGER NOT NULL DEFAULT 0,
	type               TEXT NOT NULL,
	content            TEXT NOT NULL,
	importance         REAL NOT NULL DEFAULT 0,
	importance_note    TEXT NOT NULL DEFAULT '',
	timestamp          INTEGER NOT NULL,
	last_accessed      INTEGER NOT NULL,
	marked_important   INTEGER NOT NULL DEFAULT 0,
	marked_forgettable INTEGER NOT NULL DEFAULT 0,
	emotion_intensity  REAL NOT NULL DEFAULT 0,
	emotion_type       TEXT NOT NULL DEFAULT '',
	emotion_pad        TEXT NOT NULL DEFAULT '',
	graph_centrality   REAL NOT NULL DEFAULT 0,
	connection_count   INTEGER NOT NULL DEFAULT 0,
	pattern_id         TEXT NOT NULL DEFAULT '',
	isolation          TEXT NOT NULL DEFAULT 'private',
	team_name          TEXT NOT NULL DEFAULT '',
	share_targets      TEXT NOT NULL DEFAULT '[]',
	session_scoped     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_ci_time ON records(ci_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_records_ci_type ON records(ci_id, type);
CREATE INDEX IF NOT EXISTS idx_records_ci_session_scoped ON records(ci_id, session_scoped);
`

const createConfigTable = `
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func createSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{createRecordsTable, createConfigTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return wrapDBError("create schema", err)
		}
	}
	return nil
}

// migration is one idempotent schema change, checked and applied in order
// on every Open. Each Func probes for its own precondition before acting,
// so re-running an already-applied migration is a no-op.
type migration struct {
	Name string
	Func func(context.Context, *sql.DB) error
}

var migrations = []migration{
	{"records_pattern_id_index", migrateRecordsPatternIDIndex},
}

// runMigrations executes all registered migrations in order.
func runMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

// columnExists probes sqlite's pragma_table_info, the same ALTER-TABLE
// precondition check used throughout the migration set this is grounded on.
func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name = ?
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

func indexExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'index' AND name = ?
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	return exists, nil
}

// migrateRecordsPatternIDIndex adds an index on pattern_id once enough
// deployments populate it to make pattern-based recall worth indexing.
func migrateRecordsPatternIDIndex(ctx context.Context, db *sql.DB) error {
	exists, err := indexExists(ctx, db, "idx_records_pattern_id")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX idx_records_pattern_id ON records(pattern_id)`)
	return err
}
