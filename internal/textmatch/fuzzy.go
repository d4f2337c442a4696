package textmatch

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// Default window geometry for the sliding-window quote search.
const (
	windowSize   = 300
	windowStride = 150
)

// Ratio is the exact-structure similarity of the two texts after
// normalization, in [0,1].
func Ratio(a, b string) float64 {
	na, nb := NormalizeForMatching(a), NormalizeForMatching(b)
	if na == "" && nb == "" {
		return 1
	}
	return levenshtein.Similarity(na, nb, nil)
}

// PartialRatio is the best Ratio of the shorter text against any
// equal-length substring of the longer, so a quote embedded in a larger
// passage still scores high.
func PartialRatio(a, b string) float64 {
	na, nb := NormalizeForMatching(a), NormalizeForMatching(b)
	if na == "" && nb == "" {
		return 1
	}
	short, long := na, nb
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	if strings.Contains(long, short) {
		return 1
	}

	best := 0.0
	// Advance by a fraction of the needle so the scan stays linear while
	// never skipping a viable alignment entirely.
	step := len(short) / 4
	if step < 1 {
		step = 1
	}
	for i := 0; i+len(short) <= len(long); i += step {
		if s := levenshtein.Similarity(short, long[i:i+len(short)], nil); s > best {
			best = s
			if best == 1 {
				break
			}
		}
	}
	// Anchor alignments: wherever the needle's leading characters occur in the
	// haystack, the exact alignment is worth scoring. The stepped scan alone
	// can straddle the true position and underestimate the match.
	for _, i := range anchorPositions(short, long) {
		end := i + len(short)
		if end > len(long) {
			end = len(long)
		}
		if s := levenshtein.Similarity(short, long[i:end], nil); s > best {
			best = s
		}
	}
	// Always try the final alignment.
	if s := levenshtein.Similarity(short, long[len(long)-len(short):], nil); s > best {
		best = s
	}
	return best
}

// anchorPositions lists occurrences of the needle's leading characters in the
// haystack, capped to keep the scan linear.
func anchorPositions(short, long string) []int {
	const prefixLen, maxAnchors = 8, 32

	n := prefixLen
	if len(short) < n {
		n = len(short)
	}
	prefix := short[:n]

	var positions []int
	from := 0
	for len(positions) < maxAnchors {
		idx := strings.Index(long[from:], prefix)
		if idx < 0 {
			break
		}
		positions = append(positions, from+idx)
		from += idx + 1
	}
	return positions
}

// TokenSortRatio is the Ratio of the two texts with tokens sorted, making the
// comparison insensitive to word order.
func TokenSortRatio(a, b string) float64 {
	return levenshtein.Similarity(sortTokens(a), sortTokens(b), nil)
}

func sortTokens(s string) string {
	tokens := strings.Fields(NormalizeForMatching(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Score returns the maximum of the three complementary similarity measures.
// This is the quote validation score used throughout the pipeline.
func Score(a, b string) float64 {
	best := Ratio(a, b)
	if s := PartialRatio(a, b); s > best {
		best = s
	}
	if s := TokenSortRatio(a, b); s > best {
		best = s
	}
	return best
}

// MatchMethod records which strategy produced a quote match.
type MatchMethod string

const (
	MethodExact   MatchMethod = "exact"
	MethodPartial MatchMethod = "partial"
	MethodWindow  MatchMethod = "window"
	MethodNone    MatchMethod = "none"
)

// QuoteMatch is the result of validating a claimed excerpt against source text.
type QuoteMatch struct {
	Score    float64
	Matched  string
	Position int
	Method   MatchMethod
}

// ValidateQuote locates the claimed quote in the source text and scores the
// match. Strategy: exact containment of the normalized quote, then a
// high-confidence partial match, then a sliding window search scored with the
// full measure.
func ValidateQuote(quote, source string) QuoteMatch {
	normQuote := NormalizeForMatching(quote)
	normSource := NormalizeForMatching(source)

	if normQuote == "" {
		return QuoteMatch{Method: MethodNone, Position: -1}
	}

	if pos := strings.Index(normSource, normQuote); pos >= 0 {
		end := pos + len(normQuote)
		if end > len(normSource) {
			end = len(normSource)
		}
		return QuoteMatch{
			Score:    1,
			Matched:  normSource[pos:end],
			Position: pos,
			Method:   MethodExact,
		}
	}

	if partial := PartialRatio(quote, source); partial > 0.95 {
		pos := approximatePosition(normQuote, normSource)
		return QuoteMatch{
			Score:    partial,
			Matched:  windowAt(normSource, pos, len(normQuote)+50),
			Position: pos,
			Method:   MethodPartial,
		}
	}

	best := QuoteMatch{Position: -1, Method: MethodNone}
	for pos := 0; pos == 0 || pos+windowSize <= len(normSource)+windowStride; pos += windowStride {
		end := pos + windowSize
		if end > len(normSource) {
			end = len(normSource)
		}
		if pos >= end {
			break
		}
		window := normSource[pos:end]
		if s := Score(quote, window); s > best.Score {
			best = QuoteMatch{Score: s, Matched: window, Position: pos, Method: MethodWindow}
		}
		if end == len(normSource) {
			break
		}
	}
	return best
}

// approximatePosition finds where the quote's leading words occur in the
// source, or 0 when they cannot be located.
func approximatePosition(normQuote, normSource string) int {
	words := strings.Fields(normQuote)
	if len(words) > 3 {
		words = words[:3]
	}
	if pos := strings.Index(normSource, strings.Join(words, " ")); pos >= 0 {
		return pos
	}
	return 0
}

func windowAt(s string, pos, length int) string {
	if pos < 0 || pos >= len(s) {
		return ""
	}
	end := pos + length
	if end > len(s) {
		end = len(s)
	}
	return s[pos:end]
}

// BestSentence returns the source sentence that best matches the quote, with
// its score. Used by citation-stripping detection, which needs the sentence
// context rather than a raw window.
func BestSentence(quote string, sentences []string) (string, float64) {
	bestScore := 0.0
	best := ""
	for _, s := range sentences {
		if score := Score(quote, s); score > bestScore {
			bestScore = score
			best = s
		}
	}
	return best, bestScore
}
