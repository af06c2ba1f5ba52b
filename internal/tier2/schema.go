package tier2

import (
	"context"
	"database/sql"

	"github.com/ckoons/katra/internal/katraerr"
)

const createTier2Schema = `
CREATE TABLE IF NOT EXISTS digest_index (
	digest_id   TEXT PRIMARY KEY,
	ci_id       TEXT NOT NULL,
	period_type INTEGER NOT NULL,
	period_id   TEXT NOT NULL,
	digest_type INTEGER NOT NULL,
	timestamp   INTEGER NOT NULL,
	path        TEXT NOT NULL,
	offset      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digest_index_ci_time ON digest_index(ci_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_digest_index_ci_period ON digest_index(ci_id, period_type, period_id);

CREATE TABLE IF NOT EXISTS digest_themes (
	digest_id TEXT NOT NULL,
	theme     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digest_themes_theme ON digest_themes(theme);
CREATE INDEX IF NOT EXISTS idx_digest_themes_digest ON digest_themes(digest_id);

CREATE TABLE IF NOT EXISTS digest_keywords (
	digest_id TEXT NOT NULL,
	keyword   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digest_keywords_keyword ON digest_keywords(keyword);
CREATE INDEX IF NOT EXISTS idx_digest_keywords_digest ON digest_keywords(digest_id);
`

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTier2Schema); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "create tier2 schema", err)
	}
	return nil
}
