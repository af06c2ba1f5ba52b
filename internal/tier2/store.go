// Package tier2 implements the append-only, immutable Tier-2 digest
// store of spec §4.4: newline-delimited JSON bucket files (weekly and
// monthly) accelerated by a secondary SQL index, grounded on the
// teacher's internal/jsonl reader and internal/storage/sqlite migration
// idioms, now applied to digests instead of issues.
package tier2

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ckoons/katra/internal/jsonl"
	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/types"
)

// Filter selects digests for Query. CIID is required.
type Filter struct {
	CIID       string
	StartTime  time.Time
	EndTime    time.Time
	PeriodType *types.PeriodType
	DigestType *types.DigestType
	Theme      string // substring match
	Keyword    string // substring match
	Limit      int
}

// Store is the Tier-2 digest store: baseDir holds tier2/weekly and
// tier2/monthly bucket directories; db holds the secondary index, shared
// with Tier 1's SQLite connection.
type Store struct {
	baseDir         string
	db              *sql.DB
	maxBucketBytes  int64
}

// Open returns a Store rooted at baseDir, ensuring the secondary index
// schema exists in db.
func Open(ctx context.Context, baseDir string, db *sql.DB, maxBucketFileMB int) (*Store, error) {
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	for _, dir := range bucketDirs(baseDir) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, katraerr.Wrap(katraerr.KindSystemFile, "create tier2 bucket directory", err)
		}
	}
	return &Store{
		baseDir:        baseDir,
		db:             db,
		maxBucketBytes: int64(maxBucketFileMB) * 1024 * 1024,
	}, nil
}

// StoreDigest appends digest to its bucket file and registers a
// (path, offset) pointer in the secondary index, per spec §4.4. Refuses
// once the target bucket file's size has reached the configured limit.
func (s *Store) StoreDigest(ctx context.Context, d *types.Digest) error {
	path := bucketPath(s.baseDir, d.PeriodType, d.PeriodID)

	size, err := fileSizeBytes(path)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "stat bucket file", err)
	}
	if s.maxBucketBytes > 0 && size >= s.maxBucketBytes {
		return katraerr.New(katraerr.KindBucketFull, "bucket file exceeds TIER2_MAX_FILE_SIZE_MB: "+path)
	}

	offset, err := jsonl.AppendFileOffset(path, d)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "append digest", err)
	}

	if err := s.registerIndex(ctx, d, path, offset); err != nil {
		return err
	}
	return nil
}

func (s *Store) registerIndex(ctx context.Context, d *types.Digest, path string, offset int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "begin index transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO digest_index (digest_id, ci_id, period_type, period_id, digest_type, timestamp, path, offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest_id) DO UPDATE SET path = excluded.path, offset = excluded.offset
	`, d.DigestID, d.CIID, int(d.PeriodType), d.PeriodID, int(d.DigestType), d.Timestamp.Unix(), path, offset)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "insert digest index row", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM digest_themes WHERE digest_id = ?`, d.DigestID); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "clear digest themes", err)
	}
	for _, theme := range d.Themes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO digest_themes (digest_id, theme) VALUES (?, ?)`, d.DigestID, theme); err != nil {
			return katraerr.Wrap(katraerr.KindSystemFile, "insert digest theme", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM digest_keywords WHERE digest_id = ?`, d.DigestID); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "clear digest keywords", err)
	}
	for _, kw := range d.Keywords {
		if _, err := tx.ExecContext(ctx, `INSERT INTO digest_keywords (digest_id, keyword) VALUES (?, ?)`, d.DigestID, kw); err != nil {
			return katraerr.Wrap(katraerr.KindSystemFile, "insert digest keyword", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "commit index transaction", err)
	}
	return nil
}

// Query selects digests matching filter. It uses the secondary index
// first; if the index is empty for ciID (e.g. not yet built, or lost),
// it falls back to a full bucket-directory scan, per spec §4.4.
func (s *Store) Query(ctx context.Context, filter Filter) ([]*types.Digest, error) {
	if filter.CIID == "" {
		return nil, katraerr.New(katraerr.KindInputNull, "ci_id is required")
	}

	rows, err := s.queryIndex(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return s.loadFromIndexRows(rows, filter.Limit)
	}

	indexed, err := s.ciIDIsIndexed(ctx, filter.CIID)
	if err != nil {
		return nil, err
	}
	if indexed {
		return nil, nil // legitimately no matches
	}
	return s.fallbackScan(filter)
}

type indexRow struct {
	digestID string
	path     string
	offset   int64
}

func (s *Store) ciIDIsIndexed(ctx context.Context, ciID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM digest_index WHERE ci_id = ?`, ciID).Scan(&count)
	if err != nil {
		return false, katraerr.Wrap(katraerr.KindSystemFile, "check digest index population", err)
	}
	return count > 0, nil
}

func (s *Store) queryIndex(ctx context.Context, filter Filter) ([]indexRow, error) {
	var conds []string
	var args []any
	conds = append(conds, "ci_id = ?")
	args = append(args, filter.CIID)

	if !filter.StartTime.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.StartTime.Unix())
	}
	if !filter.EndTime.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.EndTime.Unix())
	}
	if filter.PeriodType != nil {
		conds = append(conds, "period_type = ?")
		args = append(args, int(*filter.PeriodType))
	}
	if filter.DigestType != nil {
		conds = append(conds, "digest_type = ?")
		args = append(args, int(*filter.DigestType))
	}

	query := "SELECT digest_id, path, offset FROM digest_index WHERE " + strings.Join(conds, " AND ")
	if filter.Theme != "" {
		query = `SELECT di.digest_id, di.path, di.offset FROM digest_index di
			JOIN digest_themes dt ON dt.digest_id = di.digest_id
			WHERE ` + strings.Join(conds, " AND ") + ` AND dt.theme LIKE ?`
		args = append(args, "%"+filter.Theme+"%")
	} else if filter.Keyword != "" {
		query = `SELECT di.digest_id, di.path, di.offset FROM digest_index di
			JOIN digest_keywords dk ON dk.digest_id = di.digest_id
			WHERE ` + strings.Join(conds, " AND ") + ` AND dk.keyword LIKE ?`
		args = append(args, "%"+filter.Keyword+"%")
	}
	query += " ORDER BY timestamp DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "query digest index", err)
	}
	defer rows.Close()

	var out []indexRow
	for rows.Next() {
		var r indexRow
		if err := rows.Scan(&r.digestID, &r.path, &r.offset); err != nil {
			return nil, katraerr.Wrap(katraerr.KindSystemFile, "scan digest index row", err)
		}
		out = append(out, r)
	}
	return out, katraerr.Wrap(katraerr.KindSystemFile, "iterate digest index", rows.Err())
}

func (s *Store) loadFromIndexRows(rows []indexRow, limit int) ([]*types.Digest, error) {
	var out []*types.Digest
	for _, r := range rows {
		d, err := jsonl.ReadAt[types.Digest](r.path, r.offset)
		if err != nil {
			return nil, katraerr.Wrap(katraerr.KindSystemFile, "load digest from bucket", err)
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fallbackScan is used when the secondary index has no rows for ciID at
// all (lost/never built), per spec §4.4's "fallback path".
func (s *Store) fallbackScan(filter Filter) ([]*types.Digest, error) {
	var out []*types.Digest
	for _, dir := range bucketDirs(s.baseDir) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, katraerr.Wrap(katraerr.KindSystemFile, "scan bucket directory", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			digests, err := jsonl.ReadFile[types.Digest](filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, katraerr.Wrap(katraerr.KindSystemFile, "read bucket file", err)
			}
			for _, d := range digests {
				if matchesFilter(d, filter) {
					out = append(out, d)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(d *types.Digest, filter Filter) bool {
	if d.CIID != filter.CIID {
		return false
	}
	if !filter.StartTime.IsZero() && d.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && d.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.PeriodType != nil && d.PeriodType != *filter.PeriodType {
		return false
	}
	if filter.DigestType != nil && d.DigestType != *filter.DigestType {
		return false
	}
	if filter.Theme != "" && !containsSubstring(d.Themes, filter.Theme) {
		return false
	}
	if filter.Keyword != "" && !containsSubstring(d.Keywords, filter.Keyword) {
		return false
	}
	return true
}

func containsSubstring(haystack []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// RebuildIndex clears ciID's index rows and re-registers every digest
// found for it by scanning both bucket directories, per spec §4.4.
func (s *Store) RebuildIndex(ctx context.Context, ciID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "begin rebuild transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT digest_id FROM digest_index WHERE ci_id = ?`, ciID)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "list existing digest ids", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return katraerr.Wrap(katraerr.KindSystemFile, "scan digest id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM digest_themes WHERE digest_id = ?`, id); err != nil {
			return katraerr.Wrap(katraerr.KindSystemFile, "clear themes during rebuild", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM digest_keywords WHERE digest_id = ?`, id); err != nil {
			return katraerr.Wrap(katraerr.KindSystemFile, "clear keywords during rebuild", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM digest_index WHERE ci_id = ?`, ciID); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "clear digest index during rebuild", err)
	}
	if err := tx.Commit(); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "commit rebuild clear", err)
	}

	for _, dir := range bucketDirs(s.baseDir) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return katraerr.Wrap(katraerr.KindSystemFile, "scan bucket directory during rebuild", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
				continue
			}
			if err := s.reindexBucketFile(ctx, filepath.Join(dir, entry.Name()), ciID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) reindexBucketFile(ctx context.Context, path, ciID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "read bucket file for rebuild", err)
	}

	var offset int64
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		lineLen := int64(len(line)) + 1 // + newline
		if strings.TrimSpace(line) == "" {
			offset += lineLen
			continue
		}
		d, err := jsonl.ReadAt[types.Digest](path, offset)
		if err != nil {
			return katraerr.Wrap(katraerr.KindSystemFile, "parse bucket line during rebuild", err)
		}
		if d.CIID == ciID {
			if err := s.registerIndex(ctx, d, path, offset); err != nil {
				return err
			}
		}
		offset += lineLen
	}
	return nil
}
