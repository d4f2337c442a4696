package textmatch

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var charFolder = strings.NewReplacer(
	"–", "-", // en dash
	"—", "-", // em dash
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
	"¹", "1",
	"²", "2",
	"³", "3",
	"⁴", "4",
	"­", "", // soft hyphen
)

var isotopeFolder = strings.NewReplacer(
	"[³H]", "[3H]",
	"[¹²⁵I]", "[125I]",
	"[¹⁴C]", "[14C]",
)

// NormalizeScientific normalizes scientific text for fuzzy matching: NFKD
// decomposition, dash/quote folding, OCR superscript corrections, isotope
// notation, soft-hyphen removal, and whitespace collapse.
func NormalizeScientific(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFKD.String(text)
	// Isotope folding first: the bracket forms contain superscripts that the
	// generic folder would otherwise split apart.
	text = isotopeFolder.Replace(text)
	text = charFolder.Replace(text)
	text = strings.Join(strings.Fields(text), " ")

	return strings.TrimSpace(text)
}

// NormalizeForMatching applies scientific normalization plus lowercasing.
// All fuzzy scoring operates on this form.
func NormalizeForMatching(text string) string {
	return strings.ToLower(NormalizeScientific(text))
}

// scientific abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]bool{
	"et":   true,
	"al":   true,
	"i.e":  true,
	"e.g":  true,
	"vs":   true,
	"fig":  true,
	"figs": true,
	"dr":   true,
	"mr":   true,
	"mrs":  true,
	"etc":  true,
	"cf":   true,
	"ref":  true,
	"refs": true,
	"vol":  true,
	"no":   true,
	"p":    true,
	"pp":   true,
	"ch":   true,
	"eq":   true,
	"approx": true,
}

// SplitSentences splits text into sentences, treating common scientific
// abbreviations (et al., Fig., e.g.) as non-terminal. Each sentence is
// returned normalized.
func SplitSentences(text string) []string {
	text = NormalizeScientific(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// A terminator only ends a sentence when followed by whitespace and
		// then an uppercase letter or digit.
		if i+1 >= len(runes) {
			break
		}
		if runes[i+1] != ' ' {
			continue
		}
		next := rune(0)
		if i+2 < len(runes) {
			next = runes[i+2]
		}
		if !(next >= 'A' && next <= 'Z') && !(next >= '0' && next <= '9') {
			continue
		}

		if r == '.' && endsWithAbbreviation(current.String()) {
			continue
		}

		sentences = append(sentences, strings.TrimSpace(current.String()))
		current.Reset()
		i++ // skip the space
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func endsWithAbbreviation(s string) bool {
	s = strings.TrimSuffix(s, ".")
	idx := strings.LastIndexAny(s, " (")
	word := s
	if idx >= 0 {
		word = s[idx+1:]
	}
	return abbreviations[strings.ToLower(word)]
}

// Truncate shortens text to max characters, appending an ellipsis when cut.
func Truncate(text string, max int) string {
	const ellipsis = "..."
	if len(text) <= max {
		return text
	}
	if max <= len(ellipsis) {
		return text[:max]
	}
	return text[:max-len(ellipsis)] + ellipsis
}

// Highlight wraps occurrences of match inside text with marker pairs,
// case-insensitively. Used by report output.
func Highlight(text, match, marker string) string {
	if match == "" {
		return text
	}
	lower := strings.ToLower(text)
	needle := strings.ToLower(match)

	var b strings.Builder
	start := 0
	for {
		idx := strings.Index(lower[start:], needle)
		if idx < 0 {
			b.WriteString(text[start:])
			return b.String()
		}
		idx += start
		b.WriteString(text[start:idx])
		b.WriteString(marker)
		b.WriteString(text[idx : idx+len(match)])
		b.WriteString(marker)
		start = idx + len(match)
	}
}
