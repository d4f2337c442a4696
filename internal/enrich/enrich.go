// Package enrich validates an item's quotes against the authoritative source
// text, re-extracting marginal quotes with corrective feedback and dropping
// fabricated ones.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/textmatch"
)

// Validation bands for quote fuzzy scores.
const (
	AcceptThreshold = 0.85
	RejectThreshold = 0.60
)

// DefaultMaxAttempts bounds re-extraction of a marginal quote, counting the
// original extraction as the first attempt.
const DefaultMaxAttempts = 3

const reextractPrompt = `A quote extracted from a scientific paper failed verification against the source text.

Claimed quote: %q
Problem: %s
Closest source passage: %q

Return the quote copied EXACTLY from the source passage, character for character, including any in-text citations such as "(Smith, 2020)". Do not paraphrase.

Respond with a valid JSON object: {"text": "<verbatim quote>", "page": %d}`

// Enricher scores and repairs quotes for consolidated items.
type Enricher struct {
	capability  extract.Capability
	maxAttempts int
}

// New builds an Enricher. maxAttempts <= 0 selects the default.
func New(capability extract.Capability, maxAttempts int) *Enricher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Enricher{capability: capability, maxAttempts: maxAttempts}
}

// Result is the enrichment outcome for one item.
type Result struct {
	Item   model.ConsolidatedItem
	Report model.ValidationReport
	Usage  model.TokenUsage
	// MeanScore averages the surviving quotes' validation scores; the
	// orchestrator uses it for the human-review confidence signal.
	MeanScore float64
}

// Enrich validates every quote of the item against the source text. Scores at
// or above the accept threshold pass; marginal scores trigger bounded
// re-extraction with feedback; scores below the reject threshold drop the
// quote. A source sentence whose citation marker the quote stripped also
// forces re-extraction, regardless of score.
func (e *Enricher) Enrich(ctx context.Context, item model.ConsolidatedItem, source string) (*Result, error) {
	res := &Result{Item: item}
	res.Report = model.ValidationReport{
		Stage:  "enrich",
		Kind:   model.ValidationContext,
		Passed: true,
	}

	sentences := textmatch.SplitSentences(source)

	var kept []model.Quote
	var total float64
	for _, quote := range item.Quotes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		final, ok, usage := e.validateQuote(ctx, &res.Report, quote, source, sentences)
		res.Usage.Add(usage)
		if !ok {
			continue
		}
		kept = append(kept, final)
		total += final.Score
	}

	res.Item.Quotes = kept
	if len(kept) > 0 {
		res.MeanScore = total / float64(len(kept))
	}
	if len(kept) == 0 && len(item.Quotes) > 0 {
		// Every quote failed verification; downstream must not trust the item.
		res.Item.Degraded = true
		res.Report.Passed = false
	}
	return res, nil
}

// validateQuote drives the accept/retry/drop loop for one quote.
func (e *Enricher) validateQuote(ctx context.Context, report *model.ValidationReport, quote model.Quote, source string, sentences []string) (model.Quote, bool, model.TokenUsage) {
	var usage model.TokenUsage
	current := quote

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		match := textmatch.ValidateQuote(current.Text, source)
		current.Score = match.Score
		current.HasCitation = textmatch.HasCitationMarker(current.Text)

		problem := ""
		switch {
		case match.Score < RejectThreshold:
			report.Issues = append(report.Issues,
				fmt.Sprintf("quote dropped, score %.2f below %.2f: %s", match.Score, RejectThreshold, textmatch.Truncate(current.Text, 80)))
			return current, false, usage
		case match.Score < AcceptThreshold:
			problem = fmt.Sprintf("similarity to the source is only %.2f", match.Score)
		}

		// Citation stripping overrides an otherwise-passing score.
		sentence, _ := textmatch.BestSentence(current.Text, sentences)
		if stripped, marker := textmatch.CitationStripped(current.Text, sentence); stripped {
			problem = fmt.Sprintf("the source citation %s was dropped from the quote", marker)
		}

		if problem == "" {
			return current, true, usage
		}
		if attempt == e.maxAttempts {
			report.Issues = append(report.Issues,
				fmt.Sprintf("quote dropped after %d attempts (%s): %s", attempt, problem, textmatch.Truncate(current.Text, 80)))
			return current, false, usage
		}

		fixed, u, err := e.reextract(ctx, current, problem, sentence)
		usage.Add(u)
		if err != nil {
			zap.L().Warn("quote re-extraction failed",
				zap.String("item", textmatch.Truncate(current.Text, 60)),
				zap.Error(err),
			)
			report.Issues = append(report.Issues,
				fmt.Sprintf("quote dropped, re-extraction failed: %s", textmatch.Truncate(current.Text, 80)))
			return current, false, usage
		}
		current = fixed
	}
	return current, false, usage
}

// reextract asks the capability for a corrected verbatim quote.
func (e *Enricher) reextract(ctx context.Context, quote model.Quote, problem, sentence string) (model.Quote, model.TokenUsage, error) {
	res, err := e.capability.Extract(ctx, extract.Request{
		Stage:  "enrich",
		Prompt: fmt.Sprintf(reextractPrompt, quote.Text, problem, sentence, quote.Page),
	})
	if err != nil {
		return quote, model.TokenUsage{}, err
	}

	var payload struct {
		Text string `json:"text"`
		Page int    `json:"page"`
	}
	if err := json.Unmarshal(res.JSON, &payload); err != nil {
		return quote, res.Usage, err
	}

	fixed := quote
	if strings.TrimSpace(payload.Text) != "" {
		fixed.Text = strings.TrimSpace(payload.Text)
	}
	if payload.Page > 0 {
		fixed.Page = payload.Page
	}
	return fixed, res.Usage, nil
}
