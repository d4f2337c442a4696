package reconcile

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
)

func TestReconcile_ExactAgreement(t *testing.T) {
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldTitle, Source: model.SourcePDFMetadata, Value: "Neural Correlates of Memory"},
		{Field: model.FieldTitle, Source: model.SourceStructured, Value: "Neural Correlates of Memory"},
	})

	f := si.Field(model.FieldTitle)
	require.True(t, f.Resolved)
	assert.Equal(t, "Neural Correlates of Memory", f.Value)
	assert.Equal(t, 1.0, f.Confidence)
	assert.Empty(t, si.Disagreements)
}

func TestReconcile_ThreeSourceDisagreement(t *testing.T) {
	// Sources A and B agree on "X", source C says "Y": the reconciled title is
	// "X", the disagreement log carries "Y", and confidence drops below 1.
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldTitle, Source: model.SourcePDFMetadata, Value: "X"},
		{Field: model.FieldTitle, Source: model.SourceStructured, Value: "X"},
		{Field: model.FieldTitle, Source: model.SourceFreeform, Value: "Y"},
	})

	f := si.Field(model.FieldTitle)
	require.True(t, f.Resolved)
	assert.Equal(t, "X", f.Value)
	assert.Equal(t, model.SourcePDFMetadata, f.Source)
	assert.Less(t, f.Confidence, 1.0)

	require.Len(t, si.Disagreements, 1)
	assert.Equal(t, model.SourceFreeform, si.Disagreements[0].Source)
	assert.Equal(t, "Y", si.Disagreements[0].Value)
}

func TestReconcile_PrecedenceBreaksTie(t *testing.T) {
	// Lookup appears first in the candidate list but loses on precedence.
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldJournal, Source: model.SourceLookup, Value: "Nature Neuroscience"},
		{Field: model.FieldJournal, Source: model.SourceStructured, Value: "Nat. Neurosci."},
	})

	f := si.Field(model.FieldJournal)
	assert.Equal(t, "Nat. Neurosci.", f.Value)
	assert.Equal(t, model.SourceStructured, f.Source)
	require.Len(t, si.Disagreements, 1)
	assert.Equal(t, model.SourceLookup, si.Disagreements[0].Source)
}

func TestReconcile_NormalizedComparison(t *testing.T) {
	// Case and whitespace differences are agreement, and the winning value is
	// kept verbatim from the highest-precedence source.
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldTitle, Source: model.SourcePDFMetadata, Value: "The  Effect of X"},
		{Field: model.FieldTitle, Source: model.SourceLookup, Value: "the effect of x"},
	})

	f := si.Field(model.FieldTitle)
	assert.Equal(t, 1.0, f.Confidence)
	assert.Equal(t, "The  Effect of X", f.Value)
	assert.Empty(t, si.Disagreements)
}

func TestReconcile_DOINormalization(t *testing.T) {
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldDOI, Source: model.SourceStructured, Value: "10.1038/s41593-020-0001"},
		{Field: model.FieldDOI, Source: model.SourceLookup, Value: "https://doi.org/10.1038/S41593-020-0001"},
	})

	f := si.Field(model.FieldDOI)
	assert.Equal(t, 1.0, f.Confidence)
	assert.Equal(t, "10.1038/s41593-020-0001", f.Value)
}

func TestReconcile_AllEmptyStaysUnresolved(t *testing.T) {
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldYear, Source: model.SourcePDFMetadata, Value: ""},
		{Field: model.FieldYear, Source: model.SourceLookup, Value: "  "},
	})

	f := si.Field(model.FieldYear)
	assert.False(t, f.Resolved)
	assert.Empty(t, f.Value)
}

func TestReconcile_Deterministic(t *testing.T) {
	candidates := []FieldCandidate{
		{Field: model.FieldTitle, Source: model.SourceFreeform, Value: "A"},
		{Field: model.FieldTitle, Source: model.SourceLookup, Value: "B"},
		{Field: model.FieldAuthors, Source: model.SourceStructured, Value: "Smith; Lee"},
		{Field: model.FieldYear, Source: model.SourceLookup, Value: "2020"},
	}

	first := Reconcile(candidates)
	second := Reconcile(candidates)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reconciliation not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestApplyFallback(t *testing.T) {
	si := Reconcile([]FieldCandidate{
		{Field: model.FieldTitle, Source: model.SourcePDFMetadata, Value: "Known Title"},
	})

	fallback := model.StudyIdentifier{Fields: map[model.IdentifierField]model.ResolvedField{
		model.FieldTitle: {Value: "Fallback Title", Resolved: true},
		model.FieldYear:  {Value: "1999", Resolved: true},
	}}

	out := ApplyFallback(si, fallback)

	// Resolved fields are never overwritten.
	assert.Equal(t, "Known Title", out.Field(model.FieldTitle).Value)
	assert.False(t, out.Field(model.FieldTitle).Fallback)

	// Unresolved fields take the fallback and are marked as such.
	year := out.Field(model.FieldYear)
	assert.Equal(t, "1999", year.Value)
	assert.True(t, year.Fallback)
}
