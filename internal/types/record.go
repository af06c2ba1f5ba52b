// Package types defines the data model shared by every katra component:
// the Tier-1 Record, the Tier-2 Digest and graph edges, plus the enums
// (including the message bus's presence status and the health status
// strings) and the per-field invariants of spec §3.
package types

import (
	"strings"
	"time"

	"github.com/ckoons/katra/internal/katraerr"
)

// RecordSizeLimit bounds Content, matching spec §4.1's "bounded by a
// record-size limit".
const RecordSizeLimit = 64 * 1024

// PAD is the optional Pleasure-Arousal-Dominance emotional triple, each
// axis in [-1,1].
type PAD struct {
	Pleasure float64 `json:"pleasure"`
	Arousal  float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// ShareTarget is an explicit grant of recall access to another agent,
// recovered from spec §3's "optional set of explicit share targets".
type ShareTarget struct {
	CIID      string    `json:"ci_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// Record is the Tier-1 memory unit, per spec §3.
type Record struct {
	RecordID    string     `json:"record_id"`
	CIID        string     `json:"ci_id"`
	SessionID   string     `json:"session_id,omitempty"`
	TurnID      int        `json:"turn_id,omitempty"`
	Type        MemoryType `json:"type"`
	Content     string     `json:"content"`
	Importance  float64    `json:"importance"`
	ImportanceNote string  `json:"importance_note,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	LastAccessed  time.Time `json:"last_accessed"`

	MarkedImportant   bool `json:"marked_important"`
	MarkedForgettable bool `json:"marked_forgettable"`

	EmotionIntensity float64 `json:"emotion_intensity,omitempty"`
	EmotionType      string  `json:"emotion_type,omitempty"`
	Emotion          *PAD    `json:"emotion_pad,omitempty"`

	GraphCentrality float64 `json:"graph_centrality,omitempty"`
	ConnectionCount int     `json:"connection_count,omitempty"`

	PatternID string `json:"pattern_id,omitempty"`

	Isolation    IsolationLevel `json:"isolation"`
	TeamName     string         `json:"team_name,omitempty"`
	ShareTargets []ShareTarget  `json:"share_targets,omitempty"`

	SessionScoped bool `json:"session_scoped"`
}

// Validate checks the per-field invariants of spec §3 that are
// independent of any prior state (content non-empty, importance range,
// team_name-when-team, marked_important dominates marked_forgettable).
func (r *Record) Validate() error {
	if r.CIID == "" {
		return katraerr.New(katraerr.KindInputNull, "ci_id is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return katraerr.New(katraerr.KindInputNull, "content is required")
	}
	if len(r.Content) > RecordSizeLimit {
		return katraerr.New(katraerr.KindInputTooLong, "content exceeds record size limit")
	}
	if r.Importance < 0 || r.Importance > 1 {
		return katraerr.New(katraerr.KindInputRange, "importance must be in [0,1]")
	}
	if !r.Type.Valid() {
		return katraerr.New(katraerr.KindInputRange, "unknown memory type")
	}
	if r.Isolation == "" {
		r.Isolation = IsolationPrivate
	}
	if !r.Isolation.Valid() {
		return katraerr.New(katraerr.KindInputRange, "unknown isolation level")
	}
	if r.Isolation == IsolationTeam && r.TeamName == "" {
		return katraerr.New(katraerr.KindInputNull, "team_name is required when isolation=team")
	}
	if r.MarkedImportant && r.MarkedForgettable {
		// marked_important dominates on conflict, per spec §3.
		r.MarkedForgettable = false
	}
	return nil
}

// Clone returns a deep-enough copy to hand back to a caller without
// risking aliased mutation of store-owned slices, matching the
// copy-on-read idiom used throughout the engine's in-memory stores.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Emotion != nil {
		pad := *r.Emotion
		cp.Emotion = &pad
	}
	if r.ShareTargets != nil {
		cp.ShareTargets = append([]ShareTarget(nil), r.ShareTargets...)
	}
	return &cp
}
