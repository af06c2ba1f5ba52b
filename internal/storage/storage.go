// Package storage defines the Tier-1 hot record store's contract. The
// concrete implementation lives in internal/storage/sqlite; callers code
// against this interface so the engine could swap backends without
// touching internal/retrieval, internal/consolidate, or internal/budget.
package storage

import (
	"context"
	"time"

	"github.com/ckoons/katra/internal/types"
)

// Filter selects records for Query. CIID is required; the zero value of
// every other field means "no constraint on this dimension".
type Filter struct {
	CIID          string
	StartTime     time.Time
	EndTime       time.Time
	Type          types.MemoryType
	MinImportance float64
	SessionScoped *bool
	Limit         int
}

// MetadataUpdate is a partial mutation for UpdateMetadata. At least one
// field must be non-nil.
type MetadataUpdate struct {
	MarkedImportant   *bool
	MarkedForgettable *bool
	Collection        *string
}

// Storage is the Tier-1 hot record store: durable, mutable, indexed by
// ci_id/time/type/importance/session-scope.
type Storage interface {
	// CreateRecord validates, mints a record_id if absent, and stores r.
	// Returns the record_id.
	CreateRecord(ctx context.Context, r *types.Record) (string, error)

	// Store appends r to the durable backing store. A store whose
	// (ci_id, content) duplicates one within the configured dedup window
	// is silently collapsed: Store returns nil without inserting.
	Store(ctx context.Context, r *types.Record) error

	// Query returns records matching filter, newest-first with a
	// record_id tie-break, and marks each returned record's
	// last_accessed as now.
	Query(ctx context.Context, filter Filter) ([]*types.Record, error)

	// GetByID fetches one record without updating last_accessed.
	GetByID(ctx context.Context, recordID string) (*types.Record, error)

	// UpdateMetadata applies a partial mutation to an existing record.
	UpdateMetadata(ctx context.Context, recordID string, update MetadataUpdate) error

	// DeleteRecords removes the given record_ids. Used by archival and
	// by the working-memory budget's hard-limit eviction.
	DeleteRecords(ctx context.Context, recordIDs []string) error

	// ConvertToNonSessionScoped flips session_scoped to false for the
	// given record_ids, used by the working-memory budget's soft-limit
	// eviction.
	ConvertToNonSessionScoped(ctx context.Context, recordIDs []string) error

	// CountSessionScoped returns how many session-scoped records the
	// given agent currently holds, for budget accounting.
	CountSessionScoped(ctx context.Context, ciID string) (int, error)

	// OldestSessionScoped returns up to limit session-scoped record_ids
	// for ciID, oldest timestamp first, for budget eviction batches.
	OldestSessionScoped(ctx context.Context, ciID string, limit int) ([]string, error)

	// CountAll returns the total Tier-1 record count across every agent,
	// the "tier-1 record count" the maintenance loop's health computation
	// needs (spec §4.9).
	CountAll(ctx context.Context) (int, error)

	// DistinctCIIDs lists every agent with at least one Tier-1 record, so
	// the maintenance loop can run per-agent consolidation and budget
	// checks without an external agent roster.
	DistinctCIIDs(ctx context.Context) ([]string, error)

	// Flush is a durability barrier: once it returns, every prior Store
	// is safe across a crash.
	Flush(ctx context.Context) error

	// Close releases the backing connection, checkpointing WAL first.
	Close() error
}
