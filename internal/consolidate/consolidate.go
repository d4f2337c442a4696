// Package consolidate merges candidate items extracted from overlapping text
// chunks into a canonical deduplicated set.
package consolidate

import (
	"context"
	"math/rand/v2"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/screening-cli/internal/model"
	"github.com/sells-group/screening-cli/internal/textmatch"
)

// DefaultMaxPasses bounds the fixed-point loop. The shuffled pass order means
// one pass can miss transitive merges; five passes is enough in practice and
// non-convergence is reported rather than silently accepted.
const DefaultMaxPasses = 5

// quoteOverlapThreshold is the fraction of shared quotes above which two items
// are considered duplicates regardless of the equivalence judgment.
const quoteOverlapThreshold = 0.5

// Judge decides whether two item statements describe the same fact. Backed by
// a capability call in production; the consolidator treats judge errors as
// "not equivalent" so a flaky judge can only under-merge, never corrupt.
type Judge interface {
	Equivalent(ctx context.Context, category model.Category, a, b string) (bool, model.TokenUsage, error)
}

// Consolidator deduplicates candidate items per category. One instance is
// shared by the concurrent category pipelines, so it holds no mutable state;
// each Consolidate call derives its own random generator.
type Consolidator struct {
	judge     Judge
	maxPasses int
	seed      uint64
	seeded    bool
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithMaxPasses overrides the fixed-point pass bound.
func WithMaxPasses(n int) Option {
	return func(c *Consolidator) {
		if n > 0 {
			c.maxPasses = n
		}
	}
}

// WithSeed makes the shuffled merge order deterministic for tests. Every
// Consolidate call seeds its own generator from this value.
func WithSeed(seed uint64) Option {
	return func(c *Consolidator) {
		c.seed = seed
		c.seeded = true
	}
}

// New builds a Consolidator.
func New(judge Judge, opts ...Option) *Consolidator {
	c := &Consolidator{
		judge:     judge,
		maxPasses: DefaultMaxPasses,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newRNG returns a generator private to one Consolidate call.
func (c *Consolidator) newRNG() *rand.Rand {
	if c.seeded {
		return rand.New(rand.NewPCG(c.seed, c.seed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Result is the outcome of consolidating one category.
type Result struct {
	Items     []model.ConsolidatedItem
	Converged bool
	Usage     model.TokenUsage
}

// Consolidate merges duplicates among the candidates until a pass produces no
// merges or the pass budget runs out. Merging is conservative: two items merge
// only when the judge calls their statements equivalent or their quote sets
// overlap at or above the threshold. A merged item keeps the union of
// provenance markers and quotes.
func (c *Consolidator) Consolidate(ctx context.Context, category model.Category, candidates []model.CandidateItem) (*Result, error) {
	res := &Result{Converged: true}

	items := make([]model.ConsolidatedItem, 0, len(candidates))
	for _, cand := range candidates {
		items = append(items, model.ConsolidatedItem{
			ID:         uuid.New().String(),
			Category:   category,
			Statement:  cand.Statement,
			Provenance: []string{cand.ChunkID},
			Quotes:     cand.Quotes,
		})
	}
	if len(items) <= 1 {
		res.Items = items
		return res, nil
	}

	rng := c.newRNG()
	converged := false
	for pass := 1; pass <= c.maxPasses; pass++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rng.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})

		merged, usage, err := c.mergePass(ctx, category, items)
		res.Usage.Add(usage)
		if err != nil {
			return nil, err
		}

		if len(merged) == len(items) {
			items = merged
			converged = true
			zap.L().Debug("consolidation converged",
				zap.String("category", string(category)),
				zap.Int("passes", pass),
				zap.Int("items", len(items)),
			)
			break
		}
		items = merged
	}

	if !converged {
		res.Converged = false
		zap.L().Warn("consolidation did not converge",
			zap.String("category", string(category)),
			zap.Int("max_passes", c.maxPasses),
			zap.Int("items", len(items)),
		)
	}

	res.Items = items
	return res, nil
}

// mergePass folds each item into the first earlier item it duplicates.
func (c *Consolidator) mergePass(ctx context.Context, category model.Category, items []model.ConsolidatedItem) ([]model.ConsolidatedItem, model.TokenUsage, error) {
	var usage model.TokenUsage
	var canon []model.ConsolidatedItem

	for _, item := range items {
		mergedInto := -1
		for i := range canon {
			same, u, err := c.duplicates(ctx, category, canon[i], item)
			usage.Add(u)
			if err != nil {
				return nil, usage, err
			}
			if same {
				mergedInto = i
				break
			}
		}
		if mergedInto >= 0 {
			canon[mergedInto] = merge(canon[mergedInto], item)
		} else {
			canon = append(canon, item)
		}
	}
	return canon, usage, nil
}

// duplicates applies the merge criteria in cheap-first order.
func (c *Consolidator) duplicates(ctx context.Context, category model.Category, a, b model.ConsolidatedItem) (bool, model.TokenUsage, error) {
	var usage model.TokenUsage

	if textmatch.NormalizeForMatching(a.Statement) == textmatch.NormalizeForMatching(b.Statement) {
		return true, usage, nil
	}
	if QuoteOverlap(a.Quotes, b.Quotes) >= quoteOverlapThreshold {
		return true, usage, nil
	}

	same, u, err := c.judge.Equivalent(ctx, category, a.Statement, b.Statement)
	usage.Add(u)
	if err != nil {
		if ctx.Err() != nil {
			return false, usage, ctx.Err()
		}
		zap.L().Warn("equivalence judgment failed, treating as distinct",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return false, usage, nil
	}
	return same, usage, nil
}

// merge folds b into a: union of provenance and quotes, a's statement wins.
func merge(a, b model.ConsolidatedItem) model.ConsolidatedItem {
	seen := make(map[string]bool, len(a.Provenance))
	for _, p := range a.Provenance {
		seen[p] = true
	}
	for _, p := range b.Provenance {
		if !seen[p] {
			a.Provenance = append(a.Provenance, p)
			seen[p] = true
		}
	}

	quoteSeen := make(map[string]bool, len(a.Quotes))
	for _, q := range a.Quotes {
		quoteSeen[textmatch.NormalizeForMatching(q.Text)] = true
	}
	for _, q := range b.Quotes {
		key := textmatch.NormalizeForMatching(q.Text)
		if !quoteSeen[key] {
			a.Quotes = append(a.Quotes, q)
			quoteSeen[key] = true
		}
	}

	a.Degraded = a.Degraded || b.Degraded
	return a
}

// QuoteOverlap is the fraction of the smaller quote set that also appears in
// the other, compared on normalized text.
func QuoteOverlap(a, b []model.Quote) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(a))
	for _, q := range a {
		set[textmatch.NormalizeForMatching(q.Text)] = true
	}

	shared := 0
	for _, q := range b {
		if set[textmatch.NormalizeForMatching(q.Text)] {
			shared++
		}
	}

	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}
