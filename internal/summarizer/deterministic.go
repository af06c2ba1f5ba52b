package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ckoons/katra/internal/consolidate"
	"github.com/ckoons/katra/internal/types"
)

// Deterministic is a test-double consolidate.Summarizer with no network
// dependency: it derives digest fields from the batch's own content
// (themes from distinct record types, summary from a truncated
// concatenation) instead of calling a model. Engine.Open falls back to
// this when New returns ErrAPIKeyRequired, mirroring the teacher's
// errAPIKeyRequired -> dry-run path.
type Deterministic struct{}

var _ consolidate.Summarizer = Deterministic{}

// Summarize implements consolidate.Summarizer without calling a model.
func (Deterministic) Summarize(_ context.Context, _ string, records []*types.Record) (consolidate.SummaryFields, error) {
	seen := make(map[types.MemoryType]bool)
	var themes []string
	var parts []string
	for _, r := range records {
		if !seen[r.Type] {
			seen[r.Type] = true
			themes = append(themes, string(r.Type))
		}
		parts = append(parts, r.Content)
	}

	summary := strings.Join(parts, " ")
	const maxSummaryLen = 280
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen]
	}

	return consolidate.SummaryFields{
		DigestType: types.DigestMixed,
		Themes:     themes,
		Summary:    fmt.Sprintf("%d records: %s", len(records), summary),
	}, nil
}
