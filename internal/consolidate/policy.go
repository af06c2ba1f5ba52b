// Package consolidate implements the archival policy and archive
// operation of spec §4.6. Grounded on the teacher's internal/compact
// package, which already speaks in "Tier 1"/"Tier 2" vocabulary
// (`CheckEligibility(ctx, id, tier)` gating a compaction op on a set of
// boolean predicates) — the same eligibility-then-operate shape, with
// the predicates replaced by spec §4.6's too_old/recently_accessed/
// high_emotion/high_centrality policy.
package consolidate

import (
	"time"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/types"
)

// Decision is the policy's verdict for one record, per spec §4.6.
type Decision struct {
	// Skip is true when the record is pinned active (marked_important)
	// and must never be archived.
	Skip bool
	// Archive is true when the record should be archived this tick,
	// either immediately (marked_forgettable) or because every
	// too_old/¬recently_accessed/¬high_emotion/¬high_centrality
	// condition holds.
	Archive bool
}

// Evaluate applies spec §4.6's policy to r as of now.
func Evaluate(r *types.Record, now time.Time, cfg config.ConsolidateConfig) Decision {
	if r.MarkedImportant {
		return Decision{Skip: true}
	}
	if r.MarkedForgettable {
		return Decision{Archive: true}
	}

	tooOld := r.Timestamp.Before(now.Add(-cfg.TooOldAfter))
	highEmotion := r.EmotionIntensity >= cfg.HighEmotionThreshold
	highCentrality := r.GraphCentrality >= cfg.HighCentralityThreshold

	recentlyAccessed := false
	if !r.LastAccessed.IsZero() {
		sinceAccess := now.Sub(r.LastAccessed)
		recentlyAccessed = sinceAccess > cfg.IgnoreWindow && sinceAccess < cfg.RecentlyAccessedWithin
	}

	return Decision{Archive: tooOld && !recentlyAccessed && !highEmotion && !highCentrality}
}
