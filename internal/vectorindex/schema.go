package vectorindex

import (
	"context"
	"database/sql"

	"github.com/ckoons/katra/internal/katraerr"
)

const createVectorsTable = `
CREATE TABLE IF NOT EXISTS vectors (
	record_id TEXT NOT NULL,
	ci_id     TEXT NOT NULL,
	scheme    TEXT NOT NULL,
	dims      INTEGER NOT NULL,
	vector    BLOB NOT NULL,
	PRIMARY KEY (record_id, scheme)
);
CREATE INDEX IF NOT EXISTS idx_vectors_ci_scheme ON vectors(ci_id, scheme);
`

// EnsureSchema creates the vectors table in db if it does not already
// exist. Called once per Index, against the same SQLite database Tier 1
// uses, per spec §4.2's "persists alongside Tier 1".
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createVectorsTable); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "create vectors schema", err)
	}
	return nil
}
