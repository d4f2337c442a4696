package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
)

func testRules() Rules {
	return Rules{
		TargetGap: "no longitudinal studies of heavy metal exposure on hippocampal development",
		Anchors:   []string{"heavy metal exposure", "hippocampal"},
		Elements: []Element{
			{Name: "population", Terms: []string{"children", "adolescents"}},
			{Name: "exposure", Terms: []string{"lead", "cadmium"}},
			{Name: "outcome", Terms: []string{"volume", "cognition"}},
			{Name: "design", Terms: []string{"longitudinal", "cohort"}},
			{Name: "measurement", Terms: []string{"mri", "imaging"}},
		},
	}
}

func gapItem(statement string) model.ConsolidatedItem {
	return model.ConsolidatedItem{ID: "g-1", Category: model.CategoryGap, Statement: statement, Provenance: []string{"chunk-1"}}
}

func findingItem(statement string, quotes ...string) model.ConsolidatedItem {
	item := model.ConsolidatedItem{ID: "f-1", Category: model.CategoryFinding, Statement: statement, Provenance: []string{"chunk-2"}}
	for _, q := range quotes {
		item.Quotes = append(item.Quotes, model.Quote{Text: q, Page: 1, Type: model.QuoteTechnical})
	}
	return item
}

// Items that satisfy the enhanced pathway: both anchors plus three elements.
func enhancedItems() map[model.Category][]model.ConsolidatedItem {
	return map[model.Category][]model.ConsolidatedItem{
		model.CategoryFinding: {
			findingItem("heavy metal exposure reduced hippocampal volume",
				"lead levels correlated with hippocampal volume loss in children"),
		},
	}
}

func explicitItems() map[model.Category][]model.ConsolidatedItem {
	return map[model.Category][]model.ConsolidatedItem{
		model.CategoryGap: {
			gapItem("no longitudinal studies of heavy metal exposure on hippocampal development"),
		},
	}
}

func TestDecide_ExplicitPrimaryIncludesHigh(t *testing.T) {
	e := New(testRules())
	got := e.Decide(explicitItems(), model.HolisticPrimary, nil)

	assert.True(t, got.ExplicitPathway)
	assert.False(t, got.EnhancedPathway)
	assert.True(t, got.Include)
	assert.Equal(t, model.PriorityHigh, got.Priority)
}

func TestDecide_EnhancedSubstantialIncludesMedium(t *testing.T) {
	e := New(testRules())
	got := e.Decide(enhancedItems(), model.HolisticSubstantial, nil)

	assert.False(t, got.ExplicitPathway)
	assert.True(t, got.EnhancedPathway)
	assert.True(t, got.Include)
	assert.Equal(t, model.PriorityMedium, got.Priority)
}

func TestDecide_NoPathwayExcludesDespitePrimary(t *testing.T) {
	e := New(testRules())
	items := map[model.Category][]model.ConsolidatedItem{
		model.CategoryFinding: {findingItem("an unrelated observation about climate")},
	}
	got := e.Decide(items, model.HolisticPrimary, nil)

	assert.False(t, got.ExplicitPathway)
	assert.False(t, got.EnhancedPathway)
	assert.False(t, got.Include)
	assert.Equal(t, model.PriorityHigh, got.Priority)
}

func TestDecide_HolisticFloorNotMet(t *testing.T) {
	e := New(testRules())
	got := e.Decide(explicitItems(), model.HolisticPeripheral, nil)

	assert.True(t, got.ExplicitPathway)
	assert.False(t, got.Include)
	assert.Equal(t, model.PriorityLow, got.Priority)
}

func TestDecide_OverrideFlipsExclusion(t *testing.T) {
	e := New(testRules())
	items := map[model.Category][]model.ConsolidatedItem{
		model.CategoryFinding: {findingItem("an unrelated observation")},
	}
	ov := &model.Override{Include: true, Justification: "panel review found the mechanism section relevant"}
	got := e.Decide(items, model.HolisticPrimary, ov)

	assert.True(t, got.Include)
	require.NotNil(t, got.Override)
	assert.Equal(t, "panel review found the mechanism section relevant", got.Override.Justification)
	assert.Contains(t, got.Reasoning[len(got.Reasoning)-1], "override applied")
}

func TestDecide_OverrideWithoutJustificationNotApplied(t *testing.T) {
	e := New(testRules())
	items := map[model.Category][]model.ConsolidatedItem{
		model.CategoryFinding: {findingItem("an unrelated observation")},
	}
	got := e.Decide(items, model.HolisticPrimary, &model.Override{Include: true})

	assert.False(t, got.Include)
}

func TestDecide_NearExactGapMatchCountsAsExplicit(t *testing.T) {
	e := New(testRules())
	items := map[model.Category][]model.ConsolidatedItem{
		model.CategoryGap: {
			gapItem("there are no longitudinal studies of heavy metal exposure on hippocampal development"),
		},
	}
	got := e.Decide(items, model.HolisticSubstantial, nil)
	assert.True(t, got.ExplicitPathway)
	assert.True(t, got.Include)
}

func TestDecide_AnchorsWithoutElementsFailsEnhanced(t *testing.T) {
	rules := testRules()
	rules.MinElements = 4
	e := New(rules)
	got := e.Decide(enhancedItems(), model.HolisticSubstantial, nil)

	assert.False(t, got.EnhancedPathway)
	assert.False(t, got.Include)
}

func TestDecide_ReasoningOrderStable(t *testing.T) {
	e := New(testRules())
	ov := &model.Override{Include: false, Justification: "duplicate of an already-included report"}

	first := e.Decide(explicitItems(), model.HolisticPrimary, ov)
	second := e.Decide(explicitItems(), model.HolisticPrimary, ov)

	require.Len(t, first.Reasoning, 4)
	assert.Contains(t, first.Reasoning[0], "explicit pathway")
	assert.Contains(t, first.Reasoning[1], "enhanced pathway")
	assert.Contains(t, first.Reasoning[2], "holistic")
	assert.Contains(t, first.Reasoning[3], "override")
	assert.Equal(t, first.Reasoning, second.Reasoning)
}

func TestDecide_EmptyItems(t *testing.T) {
	e := New(testRules())
	got := e.Decide(nil, model.HolisticNotRelevant, nil)

	assert.False(t, got.Include)
	assert.Equal(t, model.PriorityLow, got.Priority)
	require.Len(t, got.Reasoning, 3)
}
