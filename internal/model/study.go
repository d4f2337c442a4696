package model

// SourceKind identifies where an identifier field candidate came from.
// Precedence during reconciliation follows the declaration order below.
type SourceKind string

const (
	SourcePDFMetadata SourceKind = "pdf_metadata"
	SourceStructured  SourceKind = "structured_extraction"
	SourceFreeform    SourceKind = "freeform_extraction"
	SourceLookup      SourceKind = "external_lookup"
)

// SourcePrecedence returns the tie-break rank for a source; lower wins.
func SourcePrecedence(k SourceKind) int {
	switch k {
	case SourcePDFMetadata:
		return 0
	case SourceStructured:
		return 1
	case SourceFreeform:
		return 2
	case SourceLookup:
		return 3
	}
	return 4
}

// IdentifierField names one bibliographic field of a StudyIdentifier.
type IdentifierField string

const (
	FieldTitle   IdentifierField = "title"
	FieldAuthors IdentifierField = "authors"
	FieldYear    IdentifierField = "year"
	FieldDOI     IdentifierField = "doi"
	FieldJournal IdentifierField = "journal"
)

// IdentifierFields lists the reconciled fields in canonical order.
var IdentifierFields = []IdentifierField{FieldTitle, FieldAuthors, FieldYear, FieldDOI, FieldJournal}

// Disagreement records a losing candidate value for audit.
type Disagreement struct {
	Field  IdentifierField `json:"field"`
	Source SourceKind      `json:"source"`
	Value  string          `json:"value"`
}

// ResolvedField is one reconciled identifier field. Unresolved fields keep an
// empty value and Resolved=false; they are never defaulted.
type ResolvedField struct {
	Value      string     `json:"value"`
	Source     SourceKind `json:"source,omitempty"`
	Confidence float64    `json:"confidence"`
	Resolved   bool       `json:"resolved"`
	Fallback   bool       `json:"fallback,omitempty"`
}

// StudyIdentifier is the reconciled bibliographic identity of the paper.
// Produced once per run by reconciliation; immutable after the identify stage
// completes. Later stages may only annotate, never overwrite.
type StudyIdentifier struct {
	Fields        map[IdentifierField]ResolvedField `json:"fields"`
	Disagreements []Disagreement                    `json:"disagreements,omitempty"`
}

// Field returns the resolved field, or a zero ResolvedField if absent.
func (si *StudyIdentifier) Field(f IdentifierField) ResolvedField {
	if si == nil || si.Fields == nil {
		return ResolvedField{}
	}
	return si.Fields[f]
}

// Title is a convenience accessor for the reconciled title value.
func (si *StudyIdentifier) Title() string {
	return si.Field(FieldTitle).Value
}

// Paper references the document under screening.
type Paper struct {
	Path  string `json:"path"`
	Label string `json:"label,omitempty"`
}
