package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/resilience"
	"github.com/sells-group/screening-cli/pkg/anthropic"
)

// Runner executes extraction stages against the shared capability. One runner
// serves all categories; the per-stage behavior comes entirely from the Spec.
type Runner struct {
	capability extract.Capability
	retry      resilience.RetryConfig
}

// NewRunner builds a stage runner. retry's MaxAttempts is overridden per stage
// from the spec's MaxRetries.
func NewRunner(capability extract.Capability, retry resilience.RetryConfig) *Runner {
	return &Runner{capability: capability, retry: retry}
}

// Result is the output of one stage execution.
type Result struct {
	Items    []model.CandidateItem
	Reports  []model.ValidationReport
	Usage    model.TokenUsage
	Degraded bool
}

// itemPayload is the wire shape extraction responses must follow.
type itemPayload struct {
	Items []struct {
		Statement string `json:"statement"`
		Quotes    []struct {
			Text string `json:"text"`
			Page int    `json:"page"`
			Type string `json:"type"`
		} `json:"quotes"`
	} `json:"items"`
}

// Run executes the stage over every chunk. Each chunk gets a bounded feedback
// retry loop: a validation failure re-invokes the capability with the issues
// appended to the prompt. A chunk that exhausts its attempts contributes its
// last partial parse and marks the result degraded; it never fails the stage.
func (r *Runner) Run(ctx context.Context, spec Spec, system []anthropic.SystemBlock, chunks []Chunk) (*Result, error) {
	out := &Result{}
	start := time.Now()

	cfg := r.retry
	cfg.MaxAttempts = spec.MaxRetries + 1
	cfg.OnRetry = resilience.RetryLogger("extraction", spec.Name)

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		items, report, usage, err := r.runChunk(ctx, cfg, spec, system, chunk)
		out.Usage.Add(usage)
		out.Reports = append(out.Reports, report)
		if err != nil {
			zap.L().Warn("chunk extraction degraded",
				zap.String("stage", spec.Name),
				zap.String("chunk", chunk.ID),
				zap.Error(err),
			)
			out.Degraded = true
		}
		out.Items = append(out.Items, items...)
	}

	if minReport := r.checkMinItems(spec, out.Items); minReport != nil {
		out.Reports = append(out.Reports, *minReport)
	}

	zap.L().Info("stage complete",
		zap.String("stage", spec.Name),
		zap.Int("chunks", len(chunks)),
		zap.Int("items", len(out.Items)),
		zap.Bool("degraded", out.Degraded),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return out, nil
}

// runChunk drives the feedback retry loop for one chunk.
func (r *Runner) runChunk(ctx context.Context, cfg resilience.RetryConfig, spec Spec, system []anthropic.SystemBlock, chunk Chunk) ([]model.CandidateItem, model.ValidationReport, model.TokenUsage, error) {
	var usage model.TokenUsage
	var lastItems []model.CandidateItem
	var lastIssues []string

	items, err := resilience.Run(ctx, cfg, func(ctx context.Context, feedback string) resilience.Outcome[[]model.CandidateItem] {
		prompt := fmt.Sprintf(spec.Prompt, chunk.Text)
		if feedback != "" {
			prompt += fmt.Sprintf(feedbackSuffix, feedback)
		}

		res, err := r.capability.Extract(ctx, extract.Request{
			Stage:  spec.Name,
			System: system,
			Prompt: prompt,
		})
		if err != nil {
			if resilience.IsTransient(err) {
				return resilience.Retryable[[]model.CandidateItem]("", err)
			}
			return resilience.Fatal[[]model.CandidateItem](err)
		}
		usage.Add(res.Usage)

		parsed, parseErr := parseItems(spec, chunk.ID, res.JSON)
		if parseErr != nil {
			lastIssues = []string{parseErr.Error()}
			return resilience.Retryable[[]model.CandidateItem](parseErr.Error(), parseErr)
		}
		lastItems = parsed

		issues := validateItems(spec, parsed)
		if len(issues) > 0 {
			lastIssues = issues
			return resilience.Retryable[[]model.CandidateItem](strings.Join(issues, "; "), fmt.Errorf("validation failed: %s", strings.Join(issues, "; ")))
		}

		lastIssues = nil
		return resilience.Ok(parsed)
	})

	report := model.ValidationReport{
		Stage:  spec.Name,
		Kind:   model.ValidationSchema,
		Passed: err == nil,
		Issues: lastIssues,
	}
	if err != nil {
		// Last partial parse still feeds consolidation; the report records why
		// the chunk is degraded.
		return lastItems, report, usage, err
	}
	return items, report, usage, nil
}

// parseItems decodes the capability payload into candidate items.
func parseItems(spec Spec, chunkID string, raw json.RawMessage) ([]model.CandidateItem, error) {
	var payload itemPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("response does not match the items schema: %v", err)
	}

	items := make([]model.CandidateItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		item := model.CandidateItem{
			Category:  spec.Category,
			Statement: strings.TrimSpace(it.Statement),
			ChunkID:   chunkID,
		}
		for _, q := range it.Quotes {
			item.Quotes = append(item.Quotes, model.Quote{
				Text: strings.TrimSpace(q.Text),
				Page: q.Page,
				Type: model.QuoteType(q.Type),
			})
		}
		items = append(items, item)
	}
	return items, nil
}

// validateItems applies the schema rules plus the spec's own validator.
func validateItems(spec Spec, items []model.CandidateItem) []string {
	var issues []string
	for i, item := range items {
		if item.Statement == "" {
			issues = append(issues, fmt.Sprintf("item %d has an empty statement", i+1))
		}
		for j, q := range item.Quotes {
			if q.Text == "" {
				issues = append(issues, fmt.Sprintf("item %d quote %d has empty text", i+1, j+1))
			}
			if !validQuoteType(q.Type) {
				issues = append(issues, fmt.Sprintf("item %d quote %d has invalid type %q", i+1, j+1, q.Type))
			}
		}
	}
	if spec.Validate != nil {
		issues = append(issues, spec.Validate(items)...)
	}
	return issues
}

func validQuoteType(t model.QuoteType) bool {
	for _, v := range model.QuoteTypes {
		if t == v {
			return true
		}
	}
	return false
}

// checkMinItems produces a warning report when the stage yielded fewer items
// than a plausible paper should. Warnings never fail the stage.
func (r *Runner) checkMinItems(spec Spec, items []model.CandidateItem) *model.ValidationReport {
	if spec.MinItems <= 0 || len(items) >= spec.MinItems {
		return nil
	}
	return &model.ValidationReport{
		Stage:  spec.Name,
		Kind:   model.ValidationLogic,
		Passed: true,
		Warnings: []string{
			fmt.Sprintf("expected at least %d %s item(s), got %d", spec.MinItems, spec.Name, len(items)),
		},
	}
}
