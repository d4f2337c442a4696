package model

// Category tags which section pipeline produced an item.
type Category string

const (
	CategoryGap       Category = "gaps"
	CategoryVariable  Category = "variables"
	CategoryTechnique Category = "techniques"
	CategoryFinding   Category = "findings"
)

// Categories lists the four section categories in canonical order. The order
// is load-bearing: category stages are checkpointed in this order.
var Categories = []Category{CategoryGap, CategoryVariable, CategoryTechnique, CategoryFinding}

// QuoteType tags the role an excerpt plays as evidence.
type QuoteType string

const (
	QuoteExplanatory    QuoteType = "explanatory"
	QuoteContextual     QuoteType = "contextual"
	QuoteMethodological QuoteType = "methodological"
	QuoteTechnical      QuoteType = "technical"
)

// QuoteTypes lists the valid quote type tags.
var QuoteTypes = []QuoteType{QuoteExplanatory, QuoteContextual, QuoteMethodological, QuoteTechnical}

// Quote is an excerpt attributed to the source document. Score is only ever
// set by fuzzy validation against the authoritative source text; a quote
// scoring below the acceptance threshold never reaches a finalized item.
type Quote struct {
	Text        string    `json:"text"`
	Page        int       `json:"page"`
	Type        QuoteType `json:"type"`
	Score       float64   `json:"score"`
	HasCitation bool      `json:"has_citation"`
}

// CandidateItem is one raw extracted fact before consolidation. ChunkID marks
// which text chunk produced it.
type CandidateItem struct {
	Category  Category `json:"category"`
	Statement string   `json:"statement"`
	ChunkID   string   `json:"chunk_id"`
	Quotes    []Quote  `json:"quotes,omitempty"`
}

// ConsolidatedItem is a deduplicated CandidateItem carrying the set of chunk
// ids it was merged from. No two consolidated items in the same category may
// overlap above the merge threshold; the consolidator flags a convergence
// warning otherwise.
type ConsolidatedItem struct {
	ID         string   `json:"id"`
	Category   Category `json:"category"`
	Statement  string   `json:"statement"`
	Provenance []string `json:"provenance"`
	Quotes     []Quote  `json:"quotes,omitempty"`
	Degraded   bool     `json:"degraded,omitempty"`
}
