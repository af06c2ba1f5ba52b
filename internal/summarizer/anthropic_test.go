package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/types"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := New(config.Default().Summarizer)
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
	if !errors.Is(err, ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestNew_UsesEnvKeyAndDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key-from-env")

	s, err := New(config.SummarizerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil summarizer")
	}
	if s.model != "claude-3-5-haiku-20241022" {
		t.Errorf("expected default model, got %q", s.model)
	}
	if s.maxTries != 3 {
		t.Errorf("expected default max tries 3, got %d", s.maxTries)
	}
}

func TestRenderPrompt_IncludesRecordContentAndInstructions(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	s, err := New(config.Default().Summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := []*types.Record{
		{RecordID: "rec-1", Type: types.TypeDecision, Content: "Chose SQLite for Tier 1 storage"},
		{RecordID: "rec-2", Type: types.TypeReflection, Content: "Realized dedup window needed widening"},
	}

	prompt, err := s.renderPrompt(records)
	if err != nil {
		t.Fatalf("renderPrompt: %v", err)
	}
	if !strings.Contains(prompt, "Chose SQLite for Tier 1 storage") {
		t.Error("prompt should contain first record's content")
	}
	if !strings.Contains(prompt, "Realized dedup window needed widening") {
		t.Error("prompt should contain second record's content")
	}
	if !strings.Contains(prompt, "decision") {
		t.Error("prompt should contain first record's type tag")
	}
	if !strings.Contains(prompt, "digest_type") {
		t.Error("prompt should contain response format instructions")
	}
}

func TestParseSummaryResponse_ValidJSON(t *testing.T) {
	resp := `{
		"digest_type": "learning",
		"themes": ["storage", "tuning"],
		"keywords": ["sqlite", "dedup"],
		"entities": {"files": ["store.go"], "concepts": ["dedup window"], "people": []},
		"summary": "Learned that the dedup window needed widening to avoid duplicate records.",
		"key_insights": ["widen dedup window to 2s"],
		"questions_asked": 2,
		"decisions_made": ["use SQLite for Tier 1"]
	}`

	fields, err := parseSummaryResponse(resp)
	if err != nil {
		t.Fatalf("parseSummaryResponse: %v", err)
	}
	if fields.DigestType != types.DigestLearning {
		t.Errorf("expected DigestLearning, got %v", fields.DigestType)
	}
	if len(fields.Themes) != 2 || fields.Themes[0] != "storage" {
		t.Errorf("unexpected themes: %v", fields.Themes)
	}
	if len(fields.Entities.Files) != 1 || fields.Entities.Files[0] != "store.go" {
		t.Errorf("unexpected entities.files: %v", fields.Entities.Files)
	}
	if fields.QuestionsAsked != 2 {
		t.Errorf("expected 2 questions asked, got %d", fields.QuestionsAsked)
	}
	if len(fields.DecisionsMade) != 1 {
		t.Errorf("unexpected decisions_made: %v", fields.DecisionsMade)
	}
}

func TestParseSummaryResponse_TrimsWhitespace(t *testing.T) {
	resp := "\n\n  " + `{"digest_type": "project", "summary": "ok"}` + "  \n"
	fields, err := parseSummaryResponse(resp)
	if err != nil {
		t.Fatalf("parseSummaryResponse: %v", err)
	}
	if fields.DigestType != types.DigestProject {
		t.Errorf("expected DigestProject, got %v", fields.DigestType)
	}
}

func TestParseSummaryResponse_InvalidJSON(t *testing.T) {
	_, err := parseSummaryResponse("not json")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseDigestType(t *testing.T) {
	tests := []struct {
		in   string
		want types.DigestType
	}{
		{"learning", types.DigestLearning},
		{"Project", types.DigestProject},
		{" MIXED ", types.DigestMixed},
		{"interaction", types.DigestInteraction},
		{"unknown", types.DigestInteraction},
		{"", types.DigestInteraction},
	}
	for _, tt := range tests {
		if got := parseDigestType(tt.in); got != tt.want {
			t.Errorf("parseDigestType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(nil) {
		t.Error("nil error should not be retryable")
	}
	if isRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if isRetryable(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should not be retryable")
	}
	if isRetryable(errors.New("some error")) {
		t.Error("generic error should not be retryable")
	}
}

type mockTimeoutError struct{ timeout bool }

func (e *mockTimeoutError) Error() string   { return "mock timeout error" }
func (e *mockTimeoutError) Timeout() bool   { return e.timeout }
func (e *mockTimeoutError) Temporary() bool { return false }

func TestIsRetryable_NetworkTimeout(t *testing.T) {
	if !isRetryable(&mockTimeoutError{timeout: true}) {
		t.Error("network timeout error should be retryable")
	}
	if isRetryable(&mockTimeoutError{timeout: false}) {
		t.Error("non-timeout network error should not be retryable")
	}
}
