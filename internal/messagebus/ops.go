package messagebus

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ckoons/katra/internal/debug"
	"github.com/ckoons/katra/internal/katraerr"
)

// Say implements spec §4.8's say(sender_name, content, recipients_spec).
// recipients_spec empty or case-insensitively "broadcast" fans the
// message out to every registered agent except the sender; otherwise it
// is a comma-separated list of recipient names, resolved case-insensitively,
// deduped, with unknown names skipped (logged) and the sender always
// excluded — the self-filter invariant.
func (b *Bus) Say(ctx context.Context, senderName, content, recipientsSpec string) (string, error) {
	if b.cfg.MaxMessageLength > 0 && len(content) > b.cfg.MaxMessageLength {
		return "", katraerr.New(katraerr.KindInputTooLong, "message content exceeds max_message_length")
	}

	senderCIID, found, err := b.resolveByName(ctx, senderName)
	if err != nil {
		return "", err
	}
	if !found {
		// Sender isn't registered; fall back to treating the supplied name
		// as its own ci_id so the self-filter invariant still has an anchor.
		senderCIID = senderName
	}

	spec := strings.TrimSpace(recipientsSpec)
	if spec == "" || strings.EqualFold(spec, "broadcast") {
		return b.sayBroadcast(ctx, senderCIID, senderName, content)
	}
	return "", b.sayDirect(ctx, senderCIID, senderName, content, spec)
}

func (b *Bus) sayBroadcast(ctx context.Context, senderCIID, senderName, content string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	messageID := b.nextID("bmsg", content)
	now := time.Now().UTC()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapDBError("begin broadcast transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO broadcast_history (message_id, sender_ci_id, sender_name, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, messageID, senderCIID, senderName, content, now.Unix())
	if err != nil {
		return "", wrapDBError("insert broadcast history", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT ci_id, name FROM registry WHERE ci_id != ?`, senderCIID)
	if err != nil {
		return "", wrapDBError("list broadcast recipients", err)
	}
	type recipient struct{ ciID, name string }
	var recipients []recipient
	for rows.Next() {
		var r recipient
		if err := rows.Scan(&r.ciID, &r.name); err != nil {
			rows.Close()
			return "", wrapDBError("scan broadcast recipient", err)
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return "", wrapDBError("iterate broadcast recipients", err)
	}
	rows.Close()

	for _, r := range recipients {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO queue (recipient_ci_id, recipient_name, sender_ci_id, sender_name, content, recipients, broadcast_message_id, created_at)
			VALUES (?, ?, ?, ?, ?, 'broadcast', ?, ?)
		`, r.ciID, r.name, senderCIID, senderName, content, messageID, now.Unix())
		if err != nil {
			return "", wrapDBError("fan out broadcast to queue", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", wrapDBError("commit broadcast transaction", err)
	}
	return messageID, nil
}

func (b *Bus) sayDirect(ctx context.Context, senderCIID, senderName, content, spec string) error {
	names := strings.Split(spec, ",")
	seen := make(map[string]bool)
	type recipient struct{ ciID, name string }
	var recipients []recipient
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		ciID, canonicalName, found, err := b.resolveByNameFull(ctx, n)
		if err != nil {
			return err
		}
		if !found {
			debug.Logf("messagebus: say: unknown recipient %q, skipping\n", n)
			continue
		}
		if ciID == senderCIID || seen[ciID] {
			continue
		}
		seen[ciID] = true
		recipients = append(recipients, recipient{ciID: ciID, name: canonicalName})
	}
	if len(recipients) == 0 {
		return nil
	}

	recipientNames := make([]string, len(recipients))
	for i, r := range recipients {
		recipientNames[i] = r.name
	}
	recipientsLiteral := strings.Join(recipientNames, ",")

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin direct message transaction", err)
	}
	defer tx.Rollback()

	for _, r := range recipients {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO queue (recipient_ci_id, recipient_name, sender_ci_id, sender_name, content, recipients, broadcast_message_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, '', ?)
		`, r.ciID, r.name, senderCIID, senderName, content, recipientsLiteral, now.Unix())
		if err != nil {
			return wrapDBError("insert direct queue entry", err)
		}
	}
	return wrapDBError("commit direct message transaction", tx.Commit())
}

// Hear implements hear(recipient_name): pops the oldest queued entry for
// that name and fills more_available by counting what remains.
func (b *Bus) Hear(ctx context.Context, recipientName string) (*QueueEntry, int, error) {
	ciID, found, err := b.resolveByName(ctx, recipientName)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, katraerr.New(katraerr.KindUnknownRecipient, "unknown recipient: "+recipientName)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, wrapDBError("begin hear transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT queue_id, recipient_ci_id, recipient_name, sender_ci_id, sender_name, content, recipients, broadcast_message_id, created_at
		FROM queue WHERE recipient_ci_id = ? ORDER BY queue_id ASC LIMIT 1
	`, ciID)
	entry, err := scanQueueEntry(row)
	if err != nil {
		if katraerr.Is(err, katraerr.KindNotFound) {
			return nil, 0, ErrNoNewMessages
		}
		return nil, 0, err
	}
	readAt := time.Now().UTC()
	entry.ReadAt = &readAt

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE queue_id = ?`, entry.QueueID); err != nil {
		return nil, 0, wrapDBError("delete popped queue entry", err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE recipient_ci_id = ?`, ciID).Scan(&remaining); err != nil {
		return nil, 0, wrapDBError("count remaining queue entries", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, wrapDBError("commit hear transaction", err)
	}
	return entry, remaining, nil
}

// HearAll implements hear_all(recipient_name, max_count): an atomic batch
// pop of up to max_count oldest entries, returning them plus how many
// remain queued afterward.
func (b *Bus) HearAll(ctx context.Context, recipientName string, maxCount int) ([]*QueueEntry, int, error) {
	if maxCount <= 0 {
		maxCount = 100
	}
	ciID, found, err := b.resolveByName(ctx, recipientName)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, katraerr.New(katraerr.KindUnknownRecipient, "unknown recipient: "+recipientName)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, wrapDBError("begin hear_all transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT queue_id, recipient_ci_id, recipient_name, sender_ci_id, sender_name, content, recipients, broadcast_message_id, created_at
		FROM queue WHERE recipient_ci_id = ? ORDER BY queue_id ASC LIMIT ?
	`, ciID, maxCount)
	if err != nil {
		return nil, 0, wrapDBError("query hear_all batch", err)
	}
	readAt := time.Now().UTC()
	var entries []*QueueEntry
	var ids []int64
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		e.ReadAt = &readAt
		entries = append(entries, e)
		ids = append(ids, e.QueueID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, wrapDBError("iterate hear_all batch", err)
	}
	rows.Close()

	if len(entries) == 0 {
		return nil, 0, ErrNoNewMessages
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE queue_id = ?`, id); err != nil {
			return nil, 0, wrapDBError("delete hear_all batch entry", err)
		}
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE recipient_ci_id = ?`, ciID).Scan(&remaining); err != nil {
		return nil, 0, wrapDBError("count remaining after hear_all", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, wrapDBError("commit hear_all transaction", err)
	}
	return entries, remaining, nil
}

// Count implements count(recipient_name): a non-consuming queue depth read.
func (b *Bus) Count(ctx context.Context, recipientName string) (int, error) {
	ciID, found, err := b.resolveByName(ctx, recipientName)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, katraerr.New(katraerr.KindUnknownRecipient, "unknown recipient: "+recipientName)
	}
	var count int
	err = b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE recipient_ci_id = ?`, ciID).Scan(&count)
	return count, wrapDBError("count queue", err)
}

// SetStatus updates a registered agent's status.
func (b *Bus) SetStatus(ctx context.Context, ciID, status string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, err := b.db.ExecContext(ctx, `UPDATE registry SET status = ?, last_seen = ? WHERE ci_id = ?`, status, time.Now().UTC().Unix(), ciID)
	if err != nil {
		return wrapDBError("set status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("check set status result", err)
	}
	if n == 0 {
		return katraerr.New(katraerr.KindNotFound, "agent not registered: "+ciID)
	}
	return nil
}

// GetStatus reads a registered agent's status.
func (b *Bus) GetStatus(ctx context.Context, ciID string) (string, error) {
	var status string
	err := b.db.QueryRowContext(ctx, `SELECT status FROM registry WHERE ci_id = ?`, ciID).Scan(&status)
	return status, wrapDBError("get status", err)
}

// Register implements register(ci_id, name, role): INSERT OR REPLACE that
// preserves joined_at (and status) across re-registration, always
// refreshing last_seen. No hard cap is enforced here beyond
// max_active_cis being a configuration-time advisory (spec §4.8).
func (b *Bus) Register(ctx context.Context, ciID, name, role string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	var joinedAtUnix int64
	var status string
	err := b.db.QueryRowContext(ctx, `SELECT joined_at, status FROM registry WHERE ci_id = ?`, ciID).Scan(&joinedAtUnix, &status)
	switch {
	case err == nil:
		// existing row: joinedAtUnix and status carry forward as-is.
	case errors.Is(err, sql.ErrNoRows):
		joinedAtUnix = now.Unix()
		status = "available"
	default:
		return wrapDBError("lookup existing registration", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO registry (ci_id, name, role, status, joined_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ci_id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			last_seen = excluded.last_seen
	`, ciID, name, role, status, joinedAtUnix, now.Unix())
	return wrapDBError("register agent", err)
}

// Unregister implements unregister(ci_id).
func (b *Bus) Unregister(ctx context.Context, ciID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.ExecContext(ctx, `DELETE FROM registry WHERE ci_id = ?`, ciID)
	return wrapDBError("unregister agent", err)
}

// History implements history(count): newest-first, bounded by
// max_history_count regardless of the caller-requested count.
func (b *Bus) History(ctx context.Context, count int) ([]*BroadcastMessage, error) {
	if count <= 0 || count > b.cfg.MaxHistoryCount {
		count = b.cfg.MaxHistoryCount
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT message_id, sender_ci_id, sender_name, content, created_at
		FROM broadcast_history ORDER BY created_at DESC LIMIT ?
	`, count)
	if err != nil {
		return nil, wrapDBError("query broadcast history", err)
	}
	defer rows.Close()

	var out []*BroadcastMessage
	for rows.Next() {
		var m BroadcastMessage
		var createdAtUnix int64
		if err := rows.Scan(&m.MessageID, &m.SenderCIID, &m.SenderName, &m.Content, &createdAtUnix); err != nil {
			return nil, wrapDBError("scan broadcast history", err)
		}
		m.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
		out = append(out, &m)
	}
	return out, wrapDBError("iterate broadcast history", rows.Err())
}

// Cleanup deletes broadcast messages older than broadcast_ttl and
// registry rows whose last_seen predates stale_timeout, run on Open and
// periodically from the maintenance loop per spec §4.8.
func (b *Bus) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	if b.cfg.BroadcastTTL > 0 {
		cutoff := now.Add(-b.cfg.BroadcastTTL).Unix()
		if _, err := b.db.ExecContext(ctx, `DELETE FROM broadcast_history WHERE created_at < ?`, cutoff); err != nil {
			return wrapDBError("clean up expired broadcasts", err)
		}
	}
	if b.cfg.StaleTimeout > 0 {
		cutoff := now.Add(-b.cfg.StaleTimeout).Unix()
		if _, err := b.db.ExecContext(ctx, `DELETE FROM registry WHERE last_seen < ?`, cutoff); err != nil {
			return wrapDBError("clean up stale registry rows", err)
		}
	}
	return nil
}

func (b *Bus) resolveByName(ctx context.Context, name string) (ciID string, found bool, err error) {
	ciID, _, found, err = b.resolveByNameFull(ctx, name)
	return ciID, found, err
}

// resolveByNameFull is resolveByName plus the registry's canonical name
// (which may differ in case from the caller-supplied name), used to
// populate QueueEntry.RecipientName.
func (b *Bus) resolveByNameFull(ctx context.Context, name string) (ciID, canonicalName string, found bool, err error) {
	err = b.db.QueryRowContext(ctx, `SELECT ci_id, name FROM registry WHERE name = ? COLLATE NOCASE`, name).Scan(&ciID, &canonicalName)
	if err != nil {
		wrapped := wrapDBError("resolve recipient name", err)
		if katraerr.Is(wrapped, katraerr.KindNotFound) {
			return "", "", false, nil
		}
		return "", "", false, wrapped
	}
	return ciID, canonicalName, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(row rowScanner) (*QueueEntry, error) {
	var e QueueEntry
	var createdAtUnix int64
	err := row.Scan(&e.QueueID, &e.RecipientCIID, &e.RecipientName, &e.SenderCIID, &e.SenderName, &e.Content, &e.Recipients, &e.BroadcastMessageID, &createdAtUnix)
	if err != nil {
		return nil, wrapDBError("scan queue entry", err)
	}
	e.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	return &e, nil
}
