// Package messagebus implements spec §4.8's three durable relations —
// broadcast history, per-recipient FIFO queues, and an agent registry
// with heartbeat liveness — as a second SQLite database alongside Tier 1
// (spec §6's chat/chat.db). Grounded on two teacher packages: the
// RWMutex-guarded, copy-on-read in-memory store shape of
// internal/daemon's WispStore for queue/registry access discipline, and
// the concurrency-bounded liveness idiom of internal/registry
// (health-checking remote coop sidecars there; here, an in-process
// heartbeat timeout comparison against last_seen).
package messagebus

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/idgen"
	"github.com/ckoons/katra/internal/katraerr"

	_ "modernc.org/sqlite"
)

// BroadcastMessage is one row of the append-only broadcast history.
type BroadcastMessage struct {
	MessageID  string
	SenderCIID string
	SenderName string
	Content    string
	CreatedAt  time.Time
}

// QueueEntry is one pending direct or fanned-out broadcast message
// waiting in a recipient's FIFO queue.
type QueueEntry struct {
	QueueID            int64
	RecipientCIID      string
	RecipientName      string
	SenderCIID         string
	SenderName         string
	Content            string
	Recipients         string // "broadcast", or the resolved recipients' canonical names joined by commas
	BroadcastMessageID string // empty for direct messages
	CreatedAt          time.Time
	ReadAt             *time.Time // set once Hear/HearAll delivers the entry
}

// Registration is one agent's presence row.
type Registration struct {
	CIID     string
	Name     string
	Role     string
	Status   string
	JoinedAt time.Time
	LastSeen time.Time
}

// Bus is the message bus's handle onto chat.db.
type Bus struct {
	db      *sql.DB
	mu      sync.Mutex // serializes writes, mirroring Tier 1's single writer mutex (spec §5)
	cfg     config.MessageBusConfig
	idNonce int64
}

// Open creates (if absent) and opens the message bus database at path,
// runs schema creation, and performs the init cleanup pass spec §4.8
// requires (expired broadcasts, stale registry rows).
func Open(ctx context.Context, path string, cfg config.MessageBusConfig) (*Bus, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "create message bus directory", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, katraerr.Wrap(katraerr.KindSystemFile, "open message bus database", err)
	}
	db.SetMaxOpenConns(1)

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	b := &Bus{db: db, cfg: cfg}
	if err := b.Cleanup(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close checkpoints the WAL and closes the connection.
func (b *Bus) Close() error {
	if _, err := b.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return katraerr.Wrap(katraerr.KindSystemFile, "checkpoint message bus wal on close", err)
	}
	return b.db.Close()
}

func (b *Bus) nextID(prefix string, seed string) string {
	nonce := int(atomic.AddInt64(&b.idNonce, 1))
	return idgen.GenerateHashID(prefix, seed, "", "", time.Now().UTC(), 8, nonce)
}
