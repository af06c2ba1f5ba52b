package graphindex

import (
	"context"
	"database/sql"

	"github.com/ckoons/katra/internal/katraerr"
)

const createEdgesTable = `
CREATE TABLE IF NOT EXISTS edges (
	src_id TEXT NOT NULL,
	dst_id TEXT NOT NULL,
	label  TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	weight REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (src_id, dst_id, label)
);
CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(src_id);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(dst_id);
`

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createEdgesTable); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "create edges schema", err)
	}
	return nil
}
