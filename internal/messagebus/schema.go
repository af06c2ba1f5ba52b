package messagebus

import (
	"context"
	"database/sql"
)

const createBroadcastHistoryTable = `
CREATE TABLE IF NOT EXISTS broadcast_history (
	message_id   TEXT PRIMARY KEY,
	sender_ci_id TEXT NOT NULL,
	sender_name  TEXT NOT NULL,
	content      TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_broadcast_history_created_at ON broadcast_history(created_at);
`

const createQueueTable = `
CREATE TABLE IF NOT EXISTS queue (
	queue_id             INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_ci_id      TEXT NOT NULL,
	recipient_name       TEXT NOT NULL DEFAULT '',
	sender_ci_id         TEXT NOT NULL,
	sender_name          TEXT NOT NULL,
	content              TEXT NOT NULL,
	recipients           TEXT NOT NULL DEFAULT '',
	broadcast_message_id TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	read_at              INTEGER
);
CREATE INDEX IF NOT EXISTS idx_queue_recipient ON queue(recipient_ci_id, queue_id);
`

const createRegistryTable = `
CREATE TABLE IF NOT EXISTS registry (
	ci_id     TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	role      TEXT NOT NULL DEFAULT '',
	status    TEXT NOT NULL DEFAULT 'available',
	joined_at INTEGER NOT NULL,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_registry_name ON registry(name COLLATE NOCASE);
`

func createSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{createBroadcastHistoryTable, createQueueTable, createRegistryTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return wrapDBError("create message bus schema", err)
		}
	}
	return nil
}
