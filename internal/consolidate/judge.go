package consolidate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/extract"
	"github.com/sells-group/screening-cli/internal/model"
)

const equivalencePrompt = `Two statements were extracted from the same scientific paper as "%s" items. Decide whether they describe the same underlying fact.

Statement A: %s
Statement B: %s

Treat rephrasings, different levels of detail about the same fact, and subset/superset descriptions as the same. Treat statements about distinct facts as different, even when related.

Respond with a valid JSON object: {"equivalent": true|false}`

// CapabilityJudge answers equivalence questions through the extraction
// capability, sharing its rate limiter with everything else.
type CapabilityJudge struct {
	capability extract.Capability
}

var _ Judge = (*CapabilityJudge)(nil)

// NewCapabilityJudge builds the production judge.
func NewCapabilityJudge(capability extract.Capability) *CapabilityJudge {
	return &CapabilityJudge{capability: capability}
}

func (j *CapabilityJudge) Equivalent(ctx context.Context, category model.Category, a, b string) (bool, model.TokenUsage, error) {
	res, err := j.capability.Extract(ctx, extract.Request{
		Stage:  "consolidate",
		Prompt: fmt.Sprintf(equivalencePrompt, category, a, b),
	})
	if err != nil {
		return false, model.TokenUsage{}, eris.Wrap(err, "consolidate: equivalence call")
	}

	var payload struct {
		Equivalent bool `json:"equivalent"`
	}
	if err := json.Unmarshal(res.JSON, &payload); err != nil {
		return false, res.Usage, eris.Wrap(err, "consolidate: decode equivalence response")
	}
	return payload.Equivalent, res.Usage, nil
}
