// Package reconcile arbitrates bibliographic identifier fields gathered from
// multiple identification sources into a single StudyIdentifier.
package reconcile

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/model"
)

// FieldCandidate is one (source, value) observation for an identifier field.
type FieldCandidate struct {
	Field  model.IdentifierField
	Source model.SourceKind
	Value  string
}

// Reconcile arbitrates the candidate list into a StudyIdentifier. Each field
// is resolved independently:
//
//   - all non-empty sources agree (after normalized comparison): confidence 1.0
//   - sources disagree: the highest-precedence source wins, every losing value
//     is recorded as a Disagreement, confidence reflects the agreeing share
//   - every source empty: the field stays unresolved, never defaulted
//
// The result is deterministic for a fixed candidate order. Winning values are
// returned verbatim; normalization is used only for comparison.
func Reconcile(candidates []FieldCandidate) model.StudyIdentifier {
	si := model.StudyIdentifier{
		Fields: make(map[model.IdentifierField]model.ResolvedField, len(model.IdentifierFields)),
	}

	byField := make(map[model.IdentifierField][]FieldCandidate)
	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		byField[c.Field] = append(byField[c.Field], c)
	}

	for _, field := range model.IdentifierFields {
		group := byField[field]
		if len(group) == 0 {
			si.Fields[field] = model.ResolvedField{}
			continue
		}

		winner := group[0]
		for _, c := range group[1:] {
			if model.SourcePrecedence(c.Source) < model.SourcePrecedence(winner.Source) {
				winner = c
			}
		}

		winnerNorm := normalizeValue(field, winner.Value)
		agreeing := 0
		for _, c := range group {
			if normalizeValue(field, c.Value) == winnerNorm {
				agreeing++
				continue
			}
			si.Disagreements = append(si.Disagreements, model.Disagreement{
				Field:  field,
				Source: c.Source,
				Value:  c.Value,
			})
		}

		confidence := float64(agreeing) / float64(len(group))
		if agreeing < len(group) {
			zap.L().Debug("identifier field disagreement",
				zap.String("field", string(field)),
				zap.String("winner_source", string(winner.Source)),
				zap.Int("agreeing", agreeing),
				zap.Int("candidates", len(group)),
			)
		}

		si.Fields[field] = model.ResolvedField{
			Value:      winner.Value,
			Source:     winner.Source,
			Confidence: confidence,
			Resolved:   true,
		}
	}

	return si
}

// normalizeValue produces the comparison form of a field value. DOIs are
// lowercased with any resolver URL prefix stripped; other fields fold case and
// whitespace.
func normalizeValue(field model.IdentifierField, v string) string {
	v = strings.ToLower(strings.Join(strings.Fields(v), " "))
	if field == model.FieldDOI {
		for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
			v = strings.TrimPrefix(v, prefix)
		}
	}
	return v
}

// ApplyFallback fills unresolved fields from a caller-supplied identifier,
// marking each substituted field. Arbitration itself never defaults; this hook
// exists for the orchestrator's degraded-continuation path.
func ApplyFallback(si model.StudyIdentifier, fallback model.StudyIdentifier) model.StudyIdentifier {
	for _, field := range model.IdentifierFields {
		if si.Fields[field].Resolved {
			continue
		}
		fb := fallback.Field(field)
		if !fb.Resolved && fb.Value == "" {
			continue
		}
		si.Fields[field] = model.ResolvedField{
			Value:      fb.Value,
			Source:     fb.Source,
			Confidence: fb.Confidence,
			Resolved:   true,
			Fallback:   true,
		}
	}
	return si
}
