// Package decision produces the final inclusion determination from the
// accumulated items and the holistic relevance signal.
package decision

import (
	"fmt"
	"strings"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/textmatch"
)

// DefaultMinElements is how many element categories must be evidenced for the
// enhanced pathway's element condition.
const DefaultMinElements = 2

// explicitMatchThreshold is the similarity a gap statement must reach against
// the target-gap statement to count as an explicit match.
const explicitMatchThreshold = 0.85

// Element is one evidence category the enhanced pathway looks for. The element
// is present when any of its terms appears in any item's text.
type Element struct {
	Name  string   `mapstructure:"name" yaml:"name"`
	Terms []string `mapstructure:"terms" yaml:"terms"`
}

// Rules configures the two decision pathways for a review.
type Rules struct {
	// TargetGap is the review's target-gap definition. A gap item matching it
	// near-exactly satisfies the explicit pathway.
	TargetGap string
	// Anchors are the two topic phrases that must BOTH appear somewhere across
	// the items for the enhanced pathway's foundation condition.
	Anchors []string
	// Elements are the five evidence categories counted against MinElements.
	Elements []Element
	// MinElements is the minimum number of distinct elements that must be
	// present. Zero selects the default.
	MinElements int
}

// Engine evaluates the decision rules. It is pure: same inputs, same output,
// same reasoning order.
type Engine struct {
	rules Rules
}

// New builds an Engine, applying rule defaults.
func New(rules Rules) *Engine {
	if rules.MinElements <= 0 {
		rules.MinElements = DefaultMinElements
	}
	return &Engine{rules: rules}
}

// Decide evaluates both pathways against the items and combines them with the
// holistic signal. An override is recorded verbatim; with a written
// justification it also sets the determination. The reasoning trail order is
// fixed: explicit check, enhanced check, holistic summary, then override.
func (e *Engine) Decide(items map[model.Category][]model.ConsolidatedItem, holistic model.HolisticLevel, override *model.Override) *model.FinalAssessment {
	corpus := collectTexts(items)

	explicit, explicitWhy := e.explicitPathway(items[model.CategoryGap])
	enhanced, enhancedWhy := e.enhancedPathway(corpus)

	include := (explicit || enhanced) && holistic.AtLeast(model.HolisticSubstantial)

	reasoning := []string{explicitWhy, enhancedWhy,
		fmt.Sprintf("holistic relevance assessed as %q (inclusion floor: %q)", holistic, model.HolisticSubstantial),
	}

	if override != nil && override.Justification != "" {
		include = override.Include
		verdict := "exclude"
		if override.Include {
			verdict = "include"
		}
		reasoning = append(reasoning, fmt.Sprintf("override applied (%s): %s", verdict, override.Justification))
	}

	return &model.FinalAssessment{
		ExplicitPathway: explicit,
		EnhancedPathway: enhanced,
		Holistic:        holistic,
		Include:         include,
		Priority:        priorityFor(holistic),
		Override:        override,
		Reasoning:       reasoning,
	}
}

// explicitPathway reports whether any gap item near-exactly matches the
// configured target-gap statement.
func (e *Engine) explicitPathway(gaps []model.ConsolidatedItem) (bool, string) {
	if e.rules.TargetGap == "" {
		return false, "explicit pathway: no target gap configured"
	}
	for _, g := range gaps {
		if score := textmatch.Score(g.Statement, e.rules.TargetGap); score >= explicitMatchThreshold {
			return true, fmt.Sprintf("explicit pathway: gap %q matches the target gap (score %.2f)",
				textmatch.Truncate(g.Statement, 80), score)
		}
	}
	return false, fmt.Sprintf("explicit pathway: no gap item matches the target gap among %d candidates", len(gaps))
}

// enhancedPathway checks the foundation condition (both anchors present) and
// the element condition (at least MinElements of the configured elements
// evidenced by some item).
func (e *Engine) enhancedPathway(corpus []string) (bool, string) {
	var missingAnchors []string
	for _, anchor := range e.rules.Anchors {
		if !corpusContains(corpus, anchor) {
			missingAnchors = append(missingAnchors, anchor)
		}
	}
	foundation := len(e.rules.Anchors) > 0 && len(missingAnchors) == 0

	var present []string
	for _, el := range e.rules.Elements {
		for _, term := range el.Terms {
			if corpusContains(corpus, term) {
				present = append(present, el.Name)
				break
			}
		}
	}
	elements := len(present) >= e.rules.MinElements

	switch {
	case !foundation && len(missingAnchors) > 0:
		return false, fmt.Sprintf("enhanced pathway: topic anchors missing: %s", strings.Join(missingAnchors, ", "))
	case !foundation:
		return false, "enhanced pathway: no topic anchors configured"
	case !elements:
		return false, fmt.Sprintf("enhanced pathway: only %d of the required %d elements present (%s)",
			len(present), e.rules.MinElements, joinOrNone(present))
	}
	return true, fmt.Sprintf("enhanced pathway: both anchors present and %d elements evidenced (%s)",
		len(present), strings.Join(present, ", "))
}

func priorityFor(holistic model.HolisticLevel) model.Priority {
	switch holistic {
	case model.HolisticPrimary:
		return model.PriorityHigh
	case model.HolisticSubstantial:
		return model.PriorityMedium
	}
	return model.PriorityLow
}

// collectTexts flattens statements and quote texts in canonical category order
// so pathway evaluation is deterministic.
func collectTexts(items map[model.Category][]model.ConsolidatedItem) []string {
	var out []string
	for _, cat := range model.Categories {
		for _, item := range items[cat] {
			out = append(out, item.Statement)
			for _, q := range item.Quotes {
				out = append(out, q.Text)
			}
		}
	}
	return out
}

func corpusContains(corpus []string, phrase string) bool {
	needle := textmatch.NormalizeForMatching(phrase)
	if needle == "" {
		return false
	}
	for _, text := range corpus {
		if strings.Contains(textmatch.NormalizeForMatching(text), needle) {
			return true
		}
	}
	return false
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
