package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/textmatch"
)

const holisticPrompt = `You are screening a scientific paper for a systematic review. Based on everything extracted from it below, classify how relevant the paper is to the review as a whole.

Paper: %s

Extracted items by category:
%s

Classify the overall relevance on this exact scale:
- "not_relevant": the paper does not concern the review topic
- "peripheral": the topic appears only in passing
- "substantial": the paper meaningfully engages the topic
- "primary": the topic is the paper's central subject

Respond with a valid JSON object: {"holistic": "<level>"}`

// assess obtains the holistic relevance classification for the paper from the
// capability. An unknown level in the response is a structural failure.
func (o *Orchestrator) assess(ctx context.Context, state *model.RunState) (model.HolisticLevel, model.TokenUsage, error) {
	title := state.Identifier.Title()
	if title == "" {
		title = "(title unresolved)"
	}

	res, err := o.capability.Extract(ctx, extract.Request{
		Stage:  "assess",
		Prompt: fmt.Sprintf(holisticPrompt, title, summarizeItems(state.Items)),
	})
	if err != nil {
		return "", model.TokenUsage{}, eris.Wrap(err, "pipeline: holistic assessment")
	}

	var payload struct {
		Holistic model.HolisticLevel `json:"holistic"`
	}
	if err := json.Unmarshal(res.JSON, &payload); err != nil {
		return "", res.Usage, eris.Wrap(err, "pipeline: decode holistic response")
	}
	if !payload.Holistic.Valid() {
		return "", res.Usage, eris.Errorf("pipeline: unknown holistic level %q", payload.Holistic)
	}
	return payload.Holistic, res.Usage, nil
}

// summarizeItems renders the consolidated items for the assessment prompt, in
// canonical category order.
func summarizeItems(items map[model.Category][]model.ConsolidatedItem) string {
	var b strings.Builder
	for _, cat := range model.Categories {
		fmt.Fprintf(&b, "%s (%d):\n", cat, len(items[cat]))
		for _, item := range items[cat] {
			fmt.Fprintf(&b, "- %s\n", textmatch.Truncate(item.Statement, 200))
		}
	}
	return b.String()
}

// reviewConfidence averages the signals that feed the human-review flag:
// resolved identifier confidences and surviving quote scores. A run with no
// signals at all scores zero.
func reviewConfidence(state *model.RunState) float64 {
	var total float64
	var n int

	for _, field := range model.IdentifierFields {
		f := state.Identifier.Field(field)
		if f.Resolved {
			total += f.Confidence
			n++
		}
	}
	for _, cat := range model.Categories {
		for _, item := range state.Items[cat] {
			for _, q := range item.Quotes {
				total += q.Score
				n++
			}
		}
	}

	if n == 0 {
		return 0
	}
	return total / float64(n)
}
