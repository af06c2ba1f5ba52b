// Package summarizer provides the default real implementation of
// internal/consolidate.Summarizer: an Anthropic Claude Haiku-backed
// adapter that turns a batch of Tier-1 records into digest fields.
// Grounded on the teacher's internal/compact/haiku.go haikuClient —
// same Anthropic client construction, OTel metrics, best-effort audit
// logging, and text/template prompt rendering — retargeted from
// compacting one issue's prose to summarizing a batch of records for
// one (period_type, period_id) bucket, and with the hand-rolled
// math.Pow backoff in callWithRetry replaced by cenkalti/backoff/v4
// (declared in the teacher's own go.mod but not actually called from
// the retrieved file subset).
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ckoons/katra/internal/audit"
	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/consolidate"
	"github.com/ckoons/katra/internal/telemetry"
	"github.com/ckoons/katra/internal/types"
)

// ErrAPIKeyRequired is returned by New when no Anthropic API key is
// available, mirroring the teacher's errAPIKeyRequired → dry-run
// fallback: callers should fall back to a deterministic test-double
// consolidate.Summarizer rather than treat this as fatal.
var ErrAPIKeyRequired = errors.New("summarizer: ANTHROPIC_API_KEY required")

// AnthropicSummarizer implements consolidate.Summarizer over the
// Anthropic Messages API.
type AnthropicSummarizer struct {
	client   anthropic.Client
	model    anthropic.Model
	tmpl     *template.Template
	maxTries int
	timeout  time.Duration
}

var _ consolidate.Summarizer = (*AnthropicSummarizer)(nil)

// New builds an AnthropicSummarizer. The API key comes only from the
// ANTHROPIC_API_KEY environment variable; if it is unset or empty, New
// returns ErrAPIKeyRequired.
func New(cfg config.SummarizerConfig) (*AnthropicSummarizer, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	tmpl, err := template.New("batch").Parse(batchPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("summarizer: parse prompt template: %w", err)
	}

	metricsOnce.Do(initMetrics)

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	maxTries := cfg.MaxRetries
	if maxTries <= 0 {
		maxTries = 3
	}

	return &AnthropicSummarizer{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    anthropic.Model(model),
		tmpl:     tmpl,
		maxTries: maxTries,
		timeout:  cfg.Timeout,
	}, nil
}

// Summarize renders records as a batch prompt, calls the model with
// retry/backoff, parses its structured JSON response into
// consolidate.SummaryFields, and records a best-effort audit event.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, ciID string, records []*types.Record) (consolidate.SummaryFields, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	prompt, err := s.renderPrompt(records)
	if err != nil {
		return consolidate.SummaryFields{}, fmt.Errorf("summarizer: render prompt: %w", err)
	}

	resp, callErr := s.callWithRetry(ctx, prompt)

	recordIDs := make([]string, len(records))
	for i, r := range records {
		recordIDs[i] = r.RecordID
	}
	auditEntry := &audit.Entry{
		Kind:      "llm_call",
		CIID:      ciID,
		RecordIDs: recordIDs,
		Model:     string(s.model),
		Prompt:    prompt,
		Response:  resp,
	}
	if callErr != nil {
		auditEntry.Error = callErr.Error()
	}
	_, _ = audit.Append(auditEntry) // best-effort: audit must never fail summarization

	if callErr != nil {
		return consolidate.SummaryFields{}, callErr
	}

	fields, err := parseSummaryResponse(resp)
	if err != nil {
		return consolidate.SummaryFields{}, fmt.Errorf("summarizer: parse response: %w", err)
	}
	return fields, nil
}

var (
	summaryMetrics struct {
		inputTokens  metric.Int64Counter
		outputTokens metric.Int64Counter
		duration     metric.Float64Histogram
	}
	metricsOnce sync.Once
)

func initMetrics() {
	m := telemetry.Meter("github.com/ckoons/katra/summarizer")
	summaryMetrics.inputTokens, _ = m.Int64Counter("katra.summarizer.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed by digest summarization"),
		metric.WithUnit("{token}"),
	)
	summaryMetrics.outputTokens, _ = m.Int64Counter("katra.summarizer.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated by digest summarization"),
		metric.WithUnit("{token}"),
	)
	summaryMetrics.duration, _ = m.Float64Histogram("katra.summarizer.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (s *AnthropicSummarizer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/ckoons/katra/summarizer")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("katra.summarizer.model", string(s.model)),
		attribute.String("katra.summarizer.operation", "digest"),
	)

	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxTries))
	bo = backoff.WithContext(bo, ctx)

	var result string
	var attempts int
	op := func() error {
		attempts++
		t0 := time.Now()
		message, err := s.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(fmt.Errorf("non-retryable error: %w", err))
			}
			return err
		}

		modelAttr := attribute.String("katra.summarizer.model", string(s.model))
		if summaryMetrics.inputTokens != nil {
			summaryMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
			summaryMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
			summaryMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
		}
		span.SetAttributes(
			attribute.Int64("katra.summarizer.input_tokens", message.Usage.InputTokens),
			attribute.Int64("katra.summarizer.output_tokens", message.Usage.OutputTokens),
			attribute.Int("katra.summarizer.attempts", attempts),
		)

		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("unexpected response format: no content blocks"))
		}
		content := message.Content[0]
		if content.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type))
		}
		result = content.Text
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return result, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type batchRecord struct {
	Type    string
	Content string
}

type batchData struct {
	Records []batchRecord
}

func (s *AnthropicSummarizer) renderPrompt(records []*types.Record) (string, error) {
	data := batchData{Records: make([]batchRecord, len(records))}
	for i, r := range records {
		data.Records[i] = batchRecord{Type: string(r.Type), Content: r.Content}
	}
	var b strings.Builder
	if err := s.tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

const batchPromptTemplate = `You are summarizing a batch of memory records from a long-running conversational agent for archival into cold storage. Your goal is to COMPRESS the content - the output MUST be significantly shorter than the input while preserving key technical decisions, outcomes, and recurring topics.

{{range .Records}}**[{{.Type}}]** {{.Content}}
{{end}}
Respond with ONLY a single JSON object (no prose, no markdown fences) with exactly these fields:
{
  "digest_type": one of "interaction", "learning", "project", "mixed",
  "themes": [short recurring topic strings],
  "keywords": [short searchable keyword strings],
  "entities": {"files": [...], "concepts": [...], "people": [...]},
  "summary": "2-3 concise sentences covering what happened and why",
  "key_insights": [short bullet strings],
  "questions_asked": integer count of distinct questions raised,
  "decisions_made": [short bullet strings]
}`

// parseSummaryResponse parses the model's JSON response into
// consolidate.SummaryFields.
func parseSummaryResponse(resp string) (consolidate.SummaryFields, error) {
	var raw struct {
		DigestType     string   `json:"digest_type"`
		Themes         []string `json:"themes"`
		Keywords       []string `json:"keywords"`
		Entities       struct {
			Files    []string `json:"files"`
			Concepts []string `json:"concepts"`
			People   []string `json:"people"`
		} `json:"entities"`
		Summary        string   `json:"summary"`
		KeyInsights    []string `json:"key_insights"`
		QuestionsAsked int      `json:"questions_asked"`
		DecisionsMade  []string `json:"decisions_made"`
	}

	trimmed := strings.TrimSpace(resp)
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return consolidate.SummaryFields{}, fmt.Errorf("unmarshal summarizer JSON response: %w", err)
	}

	return consolidate.SummaryFields{
		DigestType:     parseDigestType(raw.DigestType),
		Themes:         raw.Themes,
		Keywords:       raw.Keywords,
		Entities:       types.Entities{Files: raw.Entities.Files, Concepts: raw.Entities.Concepts, People: raw.Entities.People},
		Summary:        raw.Summary,
		KeyInsights:    raw.KeyInsights,
		QuestionsAsked: raw.QuestionsAsked,
		DecisionsMade:  raw.DecisionsMade,
	}, nil
}

func parseDigestType(s string) types.DigestType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "learning":
		return types.DigestLearning
	case "project":
		return types.DigestProject
	case "mixed":
		return types.DigestMixed
	default:
		return types.DigestInteraction
	}
}
