package consolidate

import (
	"context"

	"github.com/ckoons/katra/internal/types"
)

// SummaryFields is what a Summarizer derives from one bucket's worth of
// Tier-1 records, per spec §6's external summarizer collaborator
// contract: "consumes a set of Tier-1 records and produces digest
// fields (themes, keywords, summary, insights)".
type SummaryFields struct {
	DigestType     types.DigestType
	Themes         []string
	Keywords       []string
	Entities       types.Entities
	Summary        string
	KeyInsights    []string
	QuestionsAsked int
	DecisionsMade  []string
}

// Summarizer derives SummaryFields from a batch of records belonging to
// one (period_type, period_id) bucket for one agent. Per spec §6 the
// engine's contract with it is deterministic: "same inputs → equivalent
// outputs". Defined here, not in internal/summarizer, so a caller can
// substitute a deterministic test-double without importing the
// Anthropic-backed default adapter.
type Summarizer interface {
	Summarize(ctx context.Context, ciID string, records []*types.Record) (SummaryFields, error)
}
