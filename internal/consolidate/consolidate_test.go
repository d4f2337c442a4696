package consolidate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
)

// stubJudge answers equivalence from a fixed table of statement pairs.
type stubJudge struct {
	mu    sync.Mutex
	pairs map[[2]string]bool
	err   error
	calls int
}

func (s *stubJudge) Equivalent(_ context.Context, _ model.Category, a, b string) (bool, model.TokenUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return false, model.TokenUsage{}, s.err
	}
	if s.pairs[[2]string{a, b}] || s.pairs[[2]string{b, a}] {
		return true, model.TokenUsage{OutputTokens: 5}, nil
	}
	return false, model.TokenUsage{OutputTokens: 5}, nil
}

func candidate(statement, chunk string, quotes ...string) model.CandidateItem {
	item := model.CandidateItem{
		Category:  model.CategoryGap,
		Statement: statement,
		ChunkID:   chunk,
	}
	for _, q := range quotes {
		item.Quotes = append(item.Quotes, model.Quote{Text: q, Page: 1, Type: model.QuoteContextual})
	}
	return item
}

func TestConsolidate_SemanticDuplicatesMerge(t *testing.T) {
	judge := &stubJudge{pairs: map[[2]string]bool{
		{"no aged-animal studies", "aged animals remain untested"}: true,
	}}
	c := New(judge, WithSeed(1))

	res, err := c.Consolidate(context.Background(), model.CategoryGap, []model.CandidateItem{
		candidate("no aged-animal studies", "chunk-1", "quote one"),
		candidate("aged animals remain untested", "chunk-2", "quote two"),
		candidate("sample sizes were small", "chunk-2", "quote three"),
	})
	require.NoError(t, err)

	assert.True(t, res.Converged)
	require.Len(t, res.Items, 2)

	var merged *model.ConsolidatedItem
	for i := range res.Items {
		if len(res.Items[i].Provenance) == 2 {
			merged = &res.Items[i]
		}
	}
	require.NotNil(t, merged, "expected one merged item carrying both chunks")
	assert.ElementsMatch(t, []string{"chunk-1", "chunk-2"}, merged.Provenance)
	assert.Len(t, merged.Quotes, 2)
}

func TestConsolidate_QuoteOverlapMergesWithoutJudge(t *testing.T) {
	// Identical quote sets merge on overlap alone; the judge is never needed
	// for these two.
	judge := &stubJudge{}
	c := New(judge, WithSeed(1))

	res, err := c.Consolidate(context.Background(), model.CategoryGap, []model.CandidateItem{
		candidate("gap phrased one way", "chunk-1", "the shared quote", "another shared quote"),
		candidate("the same gap phrased differently", "chunk-2", "The shared quote", "Another shared quote"),
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestConsolidate_DistinctItemsPreserved(t *testing.T) {
	judge := &stubJudge{}
	c := New(judge, WithSeed(7))

	res, err := c.Consolidate(context.Background(), model.CategoryGap, []model.CandidateItem{
		candidate("gap about dosage", "chunk-1", "dosage quote"),
		candidate("gap about duration", "chunk-2", "duration quote"),
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Len(t, res.Items, 2)
}

func TestConsolidate_JudgeErrorUnderMerges(t *testing.T) {
	// A failing judge must never merge or fail the run; it only under-merges.
	judge := &stubJudge{err: errors.New("capability down")}
	c := New(judge, WithSeed(1))

	res, err := c.Consolidate(context.Background(), model.CategoryGap, []model.CandidateItem{
		candidate("a", "chunk-1", "qa"),
		candidate("b", "chunk-2", "qb"),
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestConsolidate_SingleItemNoJudgeCalls(t *testing.T) {
	judge := &stubJudge{}
	c := New(judge)

	res, err := c.Consolidate(context.Background(), model.CategoryGap, []model.CandidateItem{
		candidate("only one", "chunk-1"),
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.True(t, res.Converged)
	assert.Zero(t, judge.calls)
}

func TestConsolidate_DeterministicWithSeed(t *testing.T) {
	input := []model.CandidateItem{
		candidate("a", "chunk-1", "q1"),
		candidate("b", "chunk-2", "q2"),
		candidate("c", "chunk-3", "q3"),
	}

	first, err := New(&stubJudge{}, WithSeed(42)).Consolidate(context.Background(), model.CategoryGap, input)
	require.NoError(t, err)
	second, err := New(&stubJudge{}, WithSeed(42)).Consolidate(context.Background(), model.CategoryGap, input)
	require.NoError(t, err)

	require.Equal(t, len(first.Items), len(second.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].Statement, second.Items[i].Statement)
	}
}

func TestConsolidate_ConcurrentCategoriesShareOneConsolidator(t *testing.T) {
	// The orchestrator runs the four category pipelines concurrently against a
	// single Consolidator, so Consolidate must be safe to call from multiple
	// goroutines. Run under -race this catches any shared generator state.
	c := New(&stubJudge{}, WithSeed(7))

	inputs := map[model.Category][]model.CandidateItem{
		model.CategoryGap: {
			candidate("gap one", "chunk-1", "q1"),
			candidate("gap two", "chunk-2", "q2"),
			candidate("gap three", "chunk-3", "q3"),
		},
		model.CategoryVariable: {
			candidate("variable one", "chunk-1", "q4"),
			candidate("variable two", "chunk-2", "q5"),
			candidate("variable three", "chunk-3", "q6"),
		},
	}

	var wg sync.WaitGroup
	errs := make(map[model.Category]error)
	counts := make(map[model.Category]int)
	var mu sync.Mutex

	for cat, items := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Consolidate(context.Background(), cat, items)
			mu.Lock()
			defer mu.Unlock()
			errs[cat] = err
			if res != nil {
				counts[cat] = len(res.Items)
			}
		}()
	}
	wg.Wait()

	for cat, items := range inputs {
		require.NoError(t, errs[cat])
		assert.Equal(t, len(items), counts[cat], "category %s", cat)
	}
}

func TestConsolidate_UsageAccumulates(t *testing.T) {
	judge := &stubJudge{}
	c := New(judge, WithSeed(1))

	res, err := c.Consolidate(context.Background(), model.CategoryGap, []model.CandidateItem{
		candidate("a", "chunk-1", "qa"),
		candidate("b", "chunk-2", "qb"),
	})
	require.NoError(t, err)
	assert.Equal(t, judge.calls*5, res.Usage.OutputTokens)
}

func TestQuoteOverlap(t *testing.T) {
	q := func(texts ...string) []model.Quote {
		var out []model.Quote
		for _, t := range texts {
			out = append(out, model.Quote{Text: t})
		}
		return out
	}

	assert.Equal(t, 1.0, QuoteOverlap(q("a", "b"), q("A", "B")))
	assert.Equal(t, 0.5, QuoteOverlap(q("a", "b"), q("a", "c")))
	assert.Equal(t, 0.0, QuoteOverlap(q("a"), q("b")))
	assert.Equal(t, 0.0, QuoteOverlap(nil, q("a")))
	// Overlap is measured against the smaller set.
	assert.Equal(t, 1.0, QuoteOverlap(q("a"), q("a", "b", "c")))
}
