// Package sqlite implements internal/storage.Storage on top of
// modernc.org/sqlite, a pure-Go driver (no cgo), matching the corpus's
// general preference for cgo-free SQLite across the retrieval pack.
package sqlite

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
	"sync/atomic"
	"time"

	"github.com/ckoons/katra/internal/idgen"
	"github.com/ckoons/katra/internal/jsonl"
	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/lockfile"
	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/types"

	_ "modernc.org/sqlite"
)

// SQLiteStorage is the Tier-1 hot record store.
type SQLiteStorage struct {
	db          *sql.DB
	mu          sync.Mutex // serializes writes, per spec §5's single writer mutex
	dedupWindow time.Duration
	idNonce     int64  // atomic counter feeding GenerateHashID's collision-avoidance nonce
	walPath     string // Tier-1 write-ahead JSONL mirror, one line per Store, per spec §4.1
}

var _ storage.Storage = (*SQLiteStorage)(nil)

// Open creates (if absent) and opens the Tier-1 SQLite database at path,
// running idempotent migrations under a cross-process file lock so two
// engine instances racing to open the same fresh database don't both try
// to create the schema concurrently.
func Open(ctx context.Context, path string, dedupWindow time.Duration) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "create tier1 directory", err)
	}

	if err := acquireMigrationLock(path); err != nil {
		return nil, err
	}
	defer releaseMigrationLock(path)

	dsn := connString(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "open tier1 database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one *sql.DB

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "run tier1 migrations", err)
	}

	walPath := filepath.Join(filepath.Dir(path), "records.jsonl")
	return &SQLiteStorage{db: db, dedupWindow: dedupWindow, walPath: walPath}, nil
}

// connString builds the modernc.org/sqlite DSN with WAL mode and a busy
// timeout, mirroring the query-parameter pragma idiom used for
// cgo-based SQLite connection strings elsewhere in the corpus.
func connString(path string) string {
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)&_pragma=foreign_keys(ON)", path)
}

func acquireMigrationLock(dbPath string) error {
	lockPath := dbPath + ".migration.lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return katraerr.Wrap(katraerr.KindLockFailed, "open migration lock file", err)
	}
	if err := lockfile.FlockExclusiveBlocking(f); err != nil {
		f.Close()
		return katraerr.Wrap(katraerr.KindLockFailed, "acquire migration lock", err)
	}
	migrationLockFiles.Store(dbPath, f)
	return nil
}

func releaseMigrationLock(dbPath string) {
	v, ok := migrationLockFiles.LoadAndDelete(dbPath)
	if !ok {
		return
	}
	f := v.(*os.File)
	lockfile.FlockUnlock(f)
	f.Close()
}

var migrationLockFiles sync.Map

// Close checkpoints the WAL into the main database file and closes the
// connection, per spec §6's "explicit WAL checkpoint on shutdown".
func (s *SQLiteStorage) Close() error {
	if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "checkpoint wal on close", err)
	}
	return s.db.Close()
}

// DB exposes the underlying connection so sibling in-process components
// (vectorindex, graphindex) can create their own tables against the same
// database file without opening a second connection.
func (s *SQLiteStorage) DB() *sql.DB { return s.db }

func (s *SQLiteStorage) CreateRecord(ctx context.Context, r *types.Record) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.LastAccessed.IsZero() {
		r.LastAccessed = r.Timestamp
	}
	if r.RecordID == "" {
		nonce := int(atomic.AddInt64(&s.idNonce, 1))
		r.RecordID = idgen.GenerateHashID("rec", r.Content, r.CIID, string(r.Type), r.Timestamp, 8, nonce)
	}
	if err := s.Store(ctx, r); err != nil {
		return "", err
	}
	return r.RecordID, nil
}

func (s *SQLiteStorage) Store(ctx context.Context, r *types.Record) error {
	if r.RecordID == "" {
		return katraerr.New(katraerr.KindInvariantViolation, "record_id must be assigned before Store")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedupWindow > 0 {
		since := r.Timestamp.Add(-s.dedupWindow)
		var count int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM records
			WHERE ci_id = ? AND content = ? AND timestamp >= ?
		`, r.CIID, r.Content, since.Unix()).Scan(&count)
		if err != nil {
			return wrapDBError("check dedup window", err)
		}
		if count > 0 {
			return nil // silently collapsed, per spec §4.1
		}
	}

	emotionJSON := "null"
	if r.Emotion != nil {
		data, err := json.Marshal(r.Emotion)
		if err != nil {
			return katraerr.Wrap(katraerr.KindInputRange, "marshal emotion_pad", err)
		}
		emotionJSON = string(data)
	}
	shareTargetsJSON, err := json.Marshal(r.ShareTargets)
	if err != nil {
		return katraerr.Wrap(katraerr.KindInputRange, "marshal share_targets", err)
	}

	if err := jsonl.AppendFile(s.walPath, r); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "append tier1 write-ahead record", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (
			record_id, ci_id, session_id, turn_id, type, content, importance,
			importance_note, timestamp, last_accessed, marked_important,
			marked_forgettable, emotion_intensity, emotion_type, emotion_pad,
			graph_centrality, connection_count, pattern_id, isolation,
			team_name, share_targets, session_scoped
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(record_id) DO UPDATE SET
			content = excluded.content,
			importance = excluded.importance,
			last_accessed = excluded.last_accessed
	`,
		r.RecordID, r.CIID, r.SessionID, r.TurnID, string(r.Type), r.Content, r.Importance,
		r.ImportanceNote, r.Timestamp.Unix(), r.LastAccessed.Unix(), boolToInt(r.MarkedImportant),
		boolToInt(r.MarkedForgettable), r.EmotionIntensity, r.EmotionType, emotionJSON,
		r.GraphCentrality, r.ConnectionCount, r.PatternID, string(r.Isolation),
		r.TeamName, string(shareTargetsJSON), boolToInt(r.SessionScoped),
	)
	return wrapDBError("store record", err)
}

func (s *SQLiteStorage) Query(ctx context.Context, filter storage.Filter) ([]*types.Record, error) {
	if filter.CIID == "" {
		return nil, katraerr.New(katraerr.KindInputNull, "ci_id is required")
	}

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
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.MinImportance > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, filter.MinImportance)
	}
	if filter.SessionScoped != nil {
		conds = append(conds, "session_scoped = ?")
		args = append(args, boolToInt(*filter.SessionScoped))
	}

	query := fmt.Sprintf(`
		SELECT record_id, ci_id, session_id, turn_id, type, content, importance,
			importance_note, timestamp, last_accessed, marked_important,
			marked_forgettable, emotion_intensity, emotion_type, emotion_pad,
			graph_centrality, connection_count, pattern_id, isolation,
			team_name, share_targets, session_scoped
		FROM records WHERE %s
		ORDER BY timestamp DESC, record_id ASC
	`, strings.Join(conds, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query records", err)
	}
	defer rows.Close()

	var out []*types.Record
	var ids []string
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		ids = append(ids, r.RecordID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate records", err)
	}

	if len(ids) > 0 {
		if err := s.touchLastAccessed(ctx, ids); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, r := range out {
			r.LastAccessed = now
		}
	}
	return out, nil
}

func (s *SQLiteStorage) touchLastAccessed(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC().Unix())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE records SET last_accessed = ? WHERE record_id IN (%s)`, strings.Join(placeholders, ","))
	_, err := s.db.ExecContext(ctx, query, args...)
	return wrapDBError("touch last_accessed", err)
}

func (s *SQLiteStorage) GetByID(ctx context.Context, recordID string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, ci_id, session_id, turn_id, type, content, importance,
			importance_note, timestamp, last_accessed, marked_important,
			marked_forgettable, emotion_intensity, emotion_type, emotion_pad,
			graph_centrality, connection_count, pattern_id, isolation,
			team_name, share_targets, session_scoped
		FROM records WHERE record_id = ?
	`, recordID)
	return scanRecord(row)
}

func (s *SQLiteStorage) UpdateMetadata(ctx context.Context, recordID string, update storage.MetadataUpdate) error {
	if update.MarkedImportant == nil && update.MarkedForgettable == nil && update.Collection == nil {
		return katraerr.New(katraerr.KindInputNull, "at least one metadata field must be provided")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []any
	if update.MarkedImportant != nil {
		sets = append(sets, "marked_important = ?")
		args = append(args, boolToInt(*update.MarkedImportant))
		if *update.MarkedImportant {
			sets = append(sets, "marked_forgettable = 0")
		}
	}
	if update.MarkedForgettable != nil {
		sets = append(sets, "marked_forgettable = ?")
		args = append(args, boolToInt(*update.MarkedForgettable))
	}
	if update.Collection != nil {
		sets = append(sets, "pattern_id = ?")
		args = append(args, *update.Collection)
	}
	args = append(args, recordID)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE records SET %s WHERE record_id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return wrapDBError("update metadata", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("check update metadata result", err)
	}
	if n == 0 {
		return katraerr.New(katraerr.KindNotFound, "record not found: "+recordID)
	}
	return nil
}

func (s *SQLiteStorage) DeleteRecords(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(recordIDs))
	args := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM records WHERE record_id IN (%s)`, strings.Join(placeholders, ",")), args...)
	return wrapDBError("delete records", err)
}

func (s *SQLiteStorage) ConvertToNonSessionScoped(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(recordIDs))
	args := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE records SET session_scoped = 0 WHERE record_id IN (%s)`, strings.Join(placeholders, ",")), args...)
	return wrapDBError("convert session scoped", err)
}

func (s *SQLiteStorage) CountSessionScoped(ctx context.Context, ciID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE ci_id = ? AND session_scoped = 1`, ciID).Scan(&count)
	return count, wrapDBError("count session scoped", err)
}

func (s *SQLiteStorage) OldestSessionScoped(ctx context.Context, ciID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id FROM records
		WHERE ci_id = ? AND session_scoped = 1
		ORDER BY timestamp ASC, record_id ASC
		LIMIT ?
	`, ciID, limit)
	if err != nil {
		return nil, wrapDBError("query oldest session scoped", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan oldest session scoped", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDBError("iterate oldest session scoped", rows.Err())
}

func (s *SQLiteStorage) CountAll(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, wrapDBError("count all records", err)
}

func (s *SQLiteStorage) DistinctCIIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ci_id FROM records`)
	if err != nil {
		return nil, wrapDBError("list distinct ci_ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan distinct ci_id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDBError("iterate distinct ci_ids", rows.Err())
}

func (s *SQLiteStorage) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`)
	return wrapDBError("flush tier1", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var r types.Record
	var typeStr, isolationStr, emotionJSON, shareTargetsJSON string
	var timestampUnix, lastAccessedUnix int64
	var markedImportant, markedForgettable, sessionScoped int

	err := row.Scan(
		&r.RecordID, &r.CIID, &r.SessionID, &r.TurnID, &typeStr, &r.Content, &r.Importance,
		&r.ImportanceNote, &timestampUnix, &lastAccessedUnix, &markedImportant,
		&markedForgettable, &r.EmotionIntensity, &r.EmotionType, &emotionJSON,
		&r.GraphCentrality, &r.ConnectionCount, &r.PatternID, &isolationStr,
		&r.TeamName, &shareTargetsJSON, &sessionScoped,
	)
	if err != nil {
		return nil, wrapDBError("scan record", err)
	}

	r.Type = types.MemoryType(typeStr)
	r.Isolation = types.IsolationLevel(isolationStr)
	r.Timestamp = time.Unix(timestampUnix, 0).UTC()
	r.LastAccessed = time.Unix(lastAccessedUnix, 0).UTC()
	r.MarkedImportant = markedImportant != 0
	r.MarkedForgettable = markedForgettable != 0
	r.SessionScoped = sessionScoped != 0

	if emotionJSON != "" && emotionJSON != "null" {
		var pad types.PAD
		if err := json.Unmarshal([]byte(emotionJSON), &pad); err == nil {
			r.Emotion = &pad
		}
	}
	if shareTargetsJSON != "" {
		var targets []types.ShareTarget
		if err := json.Unmarshal([]byte(shareTargetsJSON), &targets); err == nil {
			r.ShareTargets = targets
		}
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sortRecordIDs sorts ids ascending, the same order Query's record_id
// tie-break uses.
func sortRecordIDs(ids []string) {
	sort.Strings(ids)
}
