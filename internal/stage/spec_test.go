package stage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
)

func TestSpecs_EveryCategoryCovered(t *testing.T) {
	specs, err := Specs()
	require.NoError(t, err)

	for _, cat := range model.Categories {
		spec, ok := specs[cat]
		require.True(t, ok, "missing spec for %s", cat)
		assert.Equal(t, cat, spec.Category)
		assert.NotEmpty(t, spec.Prompt)
		assert.Contains(t, spec.Prompt, "%s", "prompt must take the chunk text")
		assert.Positive(t, spec.MaxRetries)
	}
}

func TestSpecs_MinItemsFromYAML(t *testing.T) {
	specs, err := Specs()
	require.NoError(t, err)

	assert.Equal(t, 1, specs[model.CategoryGap].MinItems)
	assert.Equal(t, 3, specs[model.CategoryVariable].MinItems)
	assert.Equal(t, 4, specs[model.CategoryTechnique].MinItems)
	assert.Equal(t, 2, specs[model.CategoryFinding].MinItems)
}

func TestSpecs_PromptsRequestVerbatimQuotes(t *testing.T) {
	specs, err := Specs()
	require.NoError(t, err)

	for cat, spec := range specs {
		assert.True(t, strings.Contains(spec.Prompt, "verbatim"), "%s prompt should demand verbatim quotes", cat)
		assert.Contains(t, spec.Prompt, `{"items":`, "%s prompt should pin the JSON shape", cat)
	}
}
