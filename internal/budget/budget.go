// Package budget implements the per-agent working-memory budget of spec
// §4.7: a soft/hard/batch eviction policy over session_scoped Tier-1
// records, run on every maintenance tick. Grounded on spec §4.7
// directly — no teacher analogue exists (an issue tracker has no
// working-set eviction concept) — implemented in the corpus's general
// small-policy-package style: exported functions over the
// internal/storage interface, the same shape as its sibling
// internal/consolidate.
package budget

import (
	"context"

	"github.com/ckoons/katra/internal/audit"
	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/storage"
)

// Action records which eviction path, if any, a Check call took.
type Action int

const (
	// ActionNone means count was below soft_limit: no-op.
	ActionNone Action = iota
	// ActionConverted means the oldest batch_size session-scoped records
	// were converted to non-session-scoped (soft-limit path).
	ActionConverted
	// ActionDeleted means the oldest batch_size session-scoped records
	// were deleted outright (hard-limit path).
	ActionDeleted
)

// Result reports what Check did for one agent.
type Result struct {
	Action    Action
	RecordIDs []string
}

// Check applies spec §4.7's policy for ciID: delete the oldest
// batch_size session-scoped records if count >= hard_limit; else
// convert the oldest batch_size to non-session-scoped if count >=
// soft_limit; else no-op. Both eviction paths are idempotent under
// repeated calls, since each call only ever touches up to batch_size
// records and re-evaluates count fresh each time.
func Check(ctx context.Context, store storage.Storage, ciID string, cfg config.BudgetConfig) (Result, error) {
	count, err := store.CountSessionScoped(ctx, ciID)
	if err != nil {
		return Result{}, err
	}

	switch {
	case count >= cfg.HardLimit:
		ids, err := store.OldestSessionScoped(ctx, ciID, cfg.BatchSize)
		if err != nil {
			return Result{}, err
		}
		if len(ids) == 0 {
			return Result{Action: ActionNone}, nil
		}
		if err := store.DeleteRecords(ctx, ids); err != nil {
			return Result{}, err
		}
		_, _ = audit.Append(&audit.Entry{Kind: "evict", CIID: ciID, RecordIDs: ids, Reason: "hard limit: deleted"}) // best-effort
		return Result{Action: ActionDeleted, RecordIDs: ids}, nil

	case count >= cfg.SoftLimit:
		ids, err := store.OldestSessionScoped(ctx, ciID, cfg.BatchSize)
		if err != nil {
			return Result{}, err
		}
		if len(ids) == 0 {
			return Result{Action: ActionNone}, nil
		}
		if err := store.ConvertToNonSessionScoped(ctx, ids); err != nil {
			return Result{}, err
		}
		_, _ = audit.Append(&audit.Entry{Kind: "evict", CIID: ciID, RecordIDs: ids, Reason: "soft limit: converted"}) // best-effort
		return Result{Action: ActionConverted, RecordIDs: ids}, nil

	default:
		return Result{Action: ActionNone}, nil
	}
}
