package consolidate

import (
	"context"
	"time"

	"github.com/ckoons/katra/internal/audit"
	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/idgen"
	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/tier2"
	"github.com/ckoons/katra/internal/types"
)

// Archiver runs the consolidation policy and the archive operation of
// spec §4.6 for one agent: group candidates by (period_type, period_id)
// → summarize → store_digest → delete from Tier 1 → audit event.
type Archiver struct {
	store      storage.Storage
	tier2      *tier2.Store
	summarizer Summarizer
	cfg        config.ConsolidateConfig
	periodType types.PeriodType
	nonce      int
}

// New builds an Archiver. periodType selects which Tier-2 bucket
// granularity archived digests land in (spec §4.4 supports both weekly
// and monthly buckets; a host typically runs one Archiver per
// granularity it wants populated).
func New(store storage.Storage, t2 *tier2.Store, summarizer Summarizer, cfg config.ConsolidateConfig, periodType types.PeriodType) *Archiver {
	return &Archiver{store: store, tier2: t2, summarizer: summarizer, cfg: cfg, periodType: periodType}
}

// Run evaluates spec §4.6's policy against every Tier-1 record held for
// ciID and archives every eligible one.
func (a *Archiver) Run(ctx context.Context, ciID string) error {
	return a.run(ctx, ciID, time.Time{})
}

// ArchiveOlderThan is the acceptance-test-named entrypoint (spec §9):
// archives ciID's records whose timestamp is older than `days` days,
// evaluated otherwise identically through the same policy (so a
// marked_important record older than the cutoff is still skipped).
func (a *Archiver) ArchiveOlderThan(ctx context.Context, ciID string, days int) error {
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return a.run(ctx, ciID, cutoff)
}

func (a *Archiver) run(ctx context.Context, ciID string, explicitCutoff time.Time) error {
	now := time.Now()
	filter := storage.Filter{CIID: ciID}
	if !explicitCutoff.IsZero() {
		filter.EndTime = explicitCutoff
	}

	candidates, err := a.store.Query(ctx, filter)
	if err != nil {
		return err
	}

	// Query's own scan touches last_accessed on every candidate (spec
	// §4.1), which would otherwise make every record look freshly
	// accessed to the policy below. Re-fetch each candidate via GetByID,
	// which never touches last_accessed, so Evaluate sees the
	// last_accessed value as it stood before this scan.
	records := make([]*types.Record, 0, len(candidates))
	for _, c := range candidates {
		r, err := a.store.GetByID(ctx, c.RecordID)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	cfg := a.cfg
	if !explicitCutoff.IsZero() {
		// ArchiveOlderThan's caller-supplied cutoff stands in for
		// too_old_after: every record already satisfies timestamp <
		// cutoff via the query filter, so evaluating too_old against
		// "now" would double-apply the window. Set too_old_after to the
		// cutoff's age, so Evaluate's too_old check reduces to timestamp
		// < cutoff and holds for every record the filter selected.
		cfg.TooOldAfter = now.Sub(explicitCutoff)
	}

	groups := make(map[types.BucketKey][]*types.Record)
	for _, r := range records {
		d := Evaluate(r, now, cfg)
		if d.Skip || !d.Archive {
			continue
		}
		key := types.BucketKey{PeriodType: a.periodType, PeriodID: PeriodID(r.Timestamp, a.periodType)}
		groups[key] = append(groups[key], r)
	}

	for key, group := range groups {
		if err := a.archiveGroup(ctx, ciID, key, group); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) archiveGroup(ctx context.Context, ciID string, key types.BucketKey, group []*types.Record) error {
	fields, err := a.summarizer.Summarize(ctx, ciID, group)
	if err != nil {
		return katraerr.Wrap(katraerr.KindSystemMemory, "summarize archival group", err)
	}

	a.nonce++
	digestID := idgen.GenerateHashID("dig", key.PeriodID, ciID, "consolidate", time.Now(), 8, a.nonce)

	recordIDs := make([]string, len(group))
	for i, r := range group {
		recordIDs[i] = r.RecordID
	}

	digest := &types.Digest{
		DigestID:          digestID,
		Timestamp:         time.Now(),
		PeriodType:        key.PeriodType,
		PeriodID:          key.PeriodID,
		SourceTier:        1,
		SourceRecordCount: len(group),
		CIID:              ciID,
		DigestType:        fields.DigestType,
		Themes:            fields.Themes,
		Keywords:          fields.Keywords,
		Entities:          fields.Entities,
		Summary:           fields.Summary,
		KeyInsights:       fields.KeyInsights,
		QuestionsAsked:    fields.QuestionsAsked,
		DecisionsMade:     fields.DecisionsMade,
	}

	if err := a.tier2.StoreDigest(ctx, digest); err != nil {
		return err
	}
	if err := a.store.DeleteRecords(ctx, recordIDs); err != nil {
		return err
	}

	_, auditErr := audit.Append(&audit.Entry{
		Kind:      "archive",
		CIID:      ciID,
		RecordIDs: recordIDs,
		DigestID:  digestID,
		Reason:    "consolidation policy",
	})
	// Audit is best-effort, per the teacher's compact/haiku.go idiom of
	// never failing the primary operation on an audit write failure.
	_ = auditErr

	return nil
}
