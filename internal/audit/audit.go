// Package audit provides an append-only JSONL trail of archival,
// eviction, and summarizer events, for after-the-fact review of what the
// engine did to an agent's memory and why. Grounded on the teacher's
// internal/audit package (one Append(&Entry{...}) call per event, one file
// under the data directory, an exported FileName constant) — the shape
// transfers directly; the field set is widened for katra's event kinds.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ckoons/katra/internal/idgen"
	"github.com/ckoons/katra/internal/jsonl"
)

// FileName is the audit trail's file name under the engine's data
// directory.
const FileName = "audit.jsonl"

// Entry is one audit trail record. Kind distinguishes the event:
// "archive" (consolidation archived records into a digest), "evict"
// (budget eviction converted or deleted session-scoped records),
// "llm_call" (a summarizer request/response), "maintenance_tick".
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	CIID      string    `json:"ci_id,omitempty"`
	RecordIDs []string  `json:"record_ids,omitempty"`
	DigestID  string    `json:"digest_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

var (
	mu       sync.Mutex
	dataDir  string
	nonceCtr int
)

// SetDataDir configures where Append writes FileName. Must be called once
// during engine startup before any Append call.
func SetDataDir(dir string) {
	mu.Lock()
	defer mu.Unlock()
	dataDir = dir
}

// Append writes e to the audit trail, assigning it an id and timestamp if
// not already set, and returns the assigned id.
func Append(e *Entry) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if dataDir == "" {
		return "", fmt.Errorf("audit: data directory not configured, call SetDataDir first")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		nonceCtr++
		e.ID = idgen.GenerateHashID("aud", e.Kind, e.CIID, e.Reason, e.Timestamp, 8, nonceCtr)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("audit: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	if err := jsonl.AppendFile(path, e); err != nil {
		return "", fmt.Errorf("audit: append entry: %w", err)
	}
	return e.ID, nil
}
