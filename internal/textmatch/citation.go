package textmatch

import (
	"regexp"
	"strings"
)

// Citation marker forms: parenthetical author-year "(Smith, 2020)",
// "(Smith et al., 2020)", multi-reference "(Smith, 2020; Lee, 2021)", and
// bracketed numeric "[12]", "[3,4]", "[5-9]".
var (
	authorYearPattern = regexp.MustCompile(`\([A-Z][A-Za-z'\-]+(?:\s+(?:et\s+al\.?|&\s+[A-Z][A-Za-z'\-]+|and\s+[A-Z][A-Za-z'\-]+))?,?\s+\d{4}[a-z]?(?:\s*;\s*[^)]+)?\)`)
	numericPattern    = regexp.MustCompile(`\[\d+(?:\s*[,\-–]\s*\d+)*\]`)
)

// CitationMarkers returns every in-text citation marker found in s, in order.
func CitationMarkers(s string) []string {
	var markers []string
	markers = append(markers, authorYearPattern.FindAllString(s, -1)...)
	markers = append(markers, numericPattern.FindAllString(s, -1)...)
	return markers
}

// HasCitationMarker reports whether s contains at least one in-text citation.
func HasCitationMarker(s string) bool {
	return authorYearPattern.MatchString(s) || numericPattern.MatchString(s)
}

// CitationStripped reports whether the source sentence carries a citation
// marker that the extracted quote dropped. Citation provenance must never be
// paraphrased away; a stripped marker forces re-extraction. Returns the first
// missing marker for feedback.
func CitationStripped(quote, sourceSentence string) (bool, string) {
	sourceMarkers := CitationMarkers(sourceSentence)
	if len(sourceMarkers) == 0 {
		return false, ""
	}

	normQuote := NormalizeForMatching(quote)
	for _, marker := range sourceMarkers {
		if !strings.Contains(normQuote, NormalizeForMatching(marker)) {
			return true, marker
		}
	}
	return false, ""
}
