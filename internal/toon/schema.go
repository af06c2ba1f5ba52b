// Package toon defines the canonical field schema for a Digest and a
// compact token-oriented (TOON) serialization of it, per spec §6: "a
// compact token-oriented (TOON) serialization with the same semantic
// fields is also supported for low-cost LLM context loading." Grounded
// on the teacher's internal/toon schema (canonical field order, a
// Field descriptor carrying Required/MaxLength/Omittable/EnumValues,
// and a Validate entrypoint) — the shape transfers directly from Issue
// fields to Digest fields.
package toon

import (
	"fmt"

	"github.com/ckoons/katra/internal/types"
)

// Field describes one Digest field's wire constraints.
type Field struct {
	Name       string
	Required   bool
	Omittable  bool
	MaxLength  int
	EnumValues []string
}

// Schema is the canonical Digest field set, in the order spec §6
// documents for diff-friendliness.
type Schema struct {
	fields []Field
	byName map[string]Field
}

// NewSchema builds the canonical Digest schema.
func NewSchema() *Schema {
	fields := []Field{
		{Name: "digest_id", Required: true, MaxLength: 100},
		{Name: "timestamp", Required: true},
		{Name: "period_type", Required: true, EnumValues: []string{"weekly", "monthly"}},
		{Name: "period_id", Required: true, MaxLength: 100},
		{Name: "source_tier", Required: true},
		{Name: "source_record_count", Required: true},
		{Name: "ci_id", Required: true, MaxLength: 200},
		{Name: "digest_type", Required: true, EnumValues: []string{"interaction", "learning", "project", "mixed"}},
		{Name: "themes", Omittable: true},
		{Name: "keywords", Omittable: true},
		{Name: "entities", Omittable: true},
		{Name: "summary", Required: true, MaxLength: 8000},
		{Name: "key_insights", Omittable: true},
		{Name: "questions_asked", Omittable: true},
		{Name: "decisions_made", Omittable: true},
		{Name: "archived", Omittable: true},
	}

	s := &Schema{fields: fields, byName: make(map[string]Field, len(fields))}
	for _, f := range fields {
		s.byName[f.Name] = f
	}
	return s
}

// GetField returns the named field's descriptor.
func (s *Schema) GetField(name string) (Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// GetFieldOrder returns field names in canonical wire order.
func (s *Schema) GetFieldOrder() []string {
	order := make([]string, len(s.fields))
	for i, f := range s.fields {
		order[i] = f.Name
	}
	return order
}

// ValidateDigest checks d against the schema's required fields, enum
// values, and length limits, plus the cross-field invariants of spec
// §3 (a digest's period_id+period_type identify its bucket; archived
// is a flag only, never toggled here).
func (s *Schema) ValidateDigest(d *types.Digest) error {
	if d.DigestID == "" {
		return fmt.Errorf("toon: digest_id is required")
	}
	if f, ok := s.GetField("digest_id"); ok && f.MaxLength > 0 && len(d.DigestID) > f.MaxLength {
		return fmt.Errorf("toon: digest_id exceeds max length %d", f.MaxLength)
	}
	if d.PeriodID == "" {
		return fmt.Errorf("toon: period_id is required")
	}
	if f, ok := s.GetField("period_id"); ok && f.MaxLength > 0 && len(d.PeriodID) > f.MaxLength {
		return fmt.Errorf("toon: period_id exceeds max length %d", f.MaxLength)
	}
	if d.CIID == "" {
		return fmt.Errorf("toon: ci_id is required")
	}
	if f, ok := s.GetField("ci_id"); ok && f.MaxLength > 0 && len(d.CIID) > f.MaxLength {
		return fmt.Errorf("toon: ci_id exceeds max length %d", f.MaxLength)
	}
	if d.Summary == "" {
		return fmt.Errorf("toon: summary is required")
	}
	if f, ok := s.GetField("summary"); ok && f.MaxLength > 0 && len(d.Summary) > f.MaxLength {
		return fmt.Errorf("toon: summary exceeds max length %d", f.MaxLength)
	}
	if d.PeriodType != types.PeriodWeekly && d.PeriodType != types.PeriodMonthly {
		return fmt.Errorf("toon: period_type %v is not a recognized enum value", d.PeriodType)
	}
	switch d.DigestType {
	case types.DigestInteraction, types.DigestLearning, types.DigestProject, types.DigestMixed:
	default:
		return fmt.Errorf("toon: digest_type %v is not a recognized enum value", d.DigestType)
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("toon: timestamp is required")
	}
	if d.SourceRecordCount < 1 {
		return fmt.Errorf("toon: source_record_count must be >= 1")
	}
	return nil
}
