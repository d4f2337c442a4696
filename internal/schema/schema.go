// Package schema assembles the final screening output and enforces its shape.
// Enum violations and missing required fields are hard errors at assembly, not
// coercions.
package schema

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
)

// Assemble maps the run's accumulated state into the output document and
// validates it. Any violation is a run failure.
func Assemble(run *model.Run, state *model.RunState) (*model.ScreeningOutput, error) {
	if run == nil || state == nil {
		return nil, eris.New("schema: nil run or state")
	}

	out := &model.ScreeningOutput{
		RunID:           run.ID,
		StudyIdentifier: state.Identifier,
		Items:           state.Items,
		FinalAssessment: state.Assessment,
		Degraded:        state.Degraded,
		Usage:           state.Usage,
	}
	if out.Items == nil {
		out.Items = map[model.Category][]model.ConsolidatedItem{}
	}

	if err := ValidateOutput(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateOutput checks the assembled document against the output contract.
func ValidateOutput(out *model.ScreeningOutput) error {
	var issues []string

	if out.RunID == "" {
		issues = append(issues, "run_id is required")
	}
	if out.StudyIdentifier == nil {
		issues = append(issues, "study_identifier is required")
	}
	if out.FinalAssessment == nil {
		issues = append(issues, "final_assessment is required")
	} else {
		issues = append(issues, validateAssessment(out.FinalAssessment)...)
	}

	for cat, items := range out.Items {
		if !validCategory(cat) {
			issues = append(issues, fmt.Sprintf("unknown item category %q", cat))
			continue
		}
		for i, item := range items {
			issues = append(issues, validateItem(cat, i, item)...)
		}
	}

	if len(issues) > 0 {
		return eris.Errorf("schema: output validation failed: %v", issues)
	}
	return nil
}

func validateAssessment(a *model.FinalAssessment) []string {
	var issues []string
	if !a.Holistic.Valid() {
		issues = append(issues, fmt.Sprintf("unknown holistic level %q", a.Holistic))
	}
	switch a.Priority {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
	default:
		issues = append(issues, fmt.Sprintf("unknown priority %q", a.Priority))
	}
	if len(a.Reasoning) == 0 {
		issues = append(issues, "reasoning trail is empty")
	}
	if a.Override != nil && a.Override.Justification == "" {
		issues = append(issues, "override without justification")
	}
	return issues
}

func validateItem(cat model.Category, idx int, item model.ConsolidatedItem) []string {
	var issues []string
	prefix := fmt.Sprintf("%s[%d]", cat, idx)

	if item.ID == "" {
		issues = append(issues, prefix+": missing id")
	}
	if item.Statement == "" {
		issues = append(issues, prefix+": missing statement")
	}
	if item.Category != cat {
		issues = append(issues, fmt.Sprintf("%s: category %q does not match its bucket", prefix, item.Category))
	}
	if len(item.Provenance) == 0 {
		issues = append(issues, prefix+": missing provenance")
	}
	for j, q := range item.Quotes {
		if q.Text == "" {
			issues = append(issues, fmt.Sprintf("%s quote[%d]: empty text", prefix, j))
		}
		if !validQuoteType(q.Type) {
			issues = append(issues, fmt.Sprintf("%s quote[%d]: unknown type %q", prefix, j, q.Type))
		}
		if q.Score < 0 || q.Score > 1 {
			issues = append(issues, fmt.Sprintf("%s quote[%d]: score %.2f out of range", prefix, j, q.Score))
		}
	}
	return issues
}

func validCategory(c model.Category) bool {
	for _, v := range model.Categories {
		if c == v {
			return true
		}
	}
	return false
}

func validQuoteType(t model.QuoteType) bool {
	for _, v := range model.QuoteTypes {
		if t == v {
			return true
		}
	}
	return false
}
