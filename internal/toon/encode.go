package toon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ckoons/katra/internal/types"
)

// Encode renders d in the compact TOON form: one "key: value" line per
// schema field, in canonical order, arrays flattened to a pipe-joined
// list, omittable empty fields dropped entirely. This is the low-cost
// context-loading form spec §6 calls for alongside the JSONL wire
// format; it carries the same semantic fields but none of JSON's
// quoting/brace overhead.
func Encode(d *types.Digest) string {
	var b strings.Builder
	for _, name := range NewSchema().GetFieldOrder() {
		line, ok := encodeField(d, name)
		if !ok {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func encodeField(d *types.Digest, name string) (string, bool) {
	switch name {
	case "digest_id":
		return kv(name, d.DigestID), true
	case "timestamp":
		return kv(name, strconv.FormatInt(d.Timestamp.Unix(), 10)), true
	case "period_type":
		return kv(name, d.PeriodType.String()), true
	case "period_id":
		return kv(name, d.PeriodID), true
	case "source_tier":
		return kv(name, strconv.Itoa(d.SourceTier)), true
	case "source_record_count":
		return kv(name, strconv.Itoa(d.SourceRecordCount)), true
	case "ci_id":
		return kv(name, d.CIID), true
	case "digest_type":
		return kv(name, d.DigestType.String()), true
	case "themes":
		if len(d.Themes) == 0 {
			return "", false
		}
		return kv(name, strings.Join(d.Themes, "|")), true
	case "keywords":
		if len(d.Keywords) == 0 {
			return "", false
		}
		return kv(name, strings.Join(d.Keywords, "|")), true
	case "entities":
		if len(d.Entities.Files) == 0 && len(d.Entities.Concepts) == 0 && len(d.Entities.People) == 0 {
			return "", false
		}
		return kv(name, fmt.Sprintf("files=%s;concepts=%s;people=%s",
			strings.Join(d.Entities.Files, "|"),
			strings.Join(d.Entities.Concepts, "|"),
			strings.Join(d.Entities.People, "|"))), true
	case "summary":
		return kv(name, d.Summary), true
	case "key_insights":
		if len(d.KeyInsights) == 0 {
			return "", false
		}
		return kv(name, strings.Join(d.KeyInsights, "|")), true
	case "questions_asked":
		if d.QuestionsAsked == 0 {
			return "", false
		}
		return kv(name, strconv.Itoa(d.QuestionsAsked)), true
	case "decisions_made":
		if len(d.DecisionsMade) == 0 {
			return "", false
		}
		return kv(name, strings.Join(d.DecisionsMade, "|")), true
	case "archived":
		if !d.Archived {
			return "", false
		}
		return kv(name, "true"), true
	default:
		return "", false
	}
}

func kv(name, value string) string {
	return name + ": " + value
}
