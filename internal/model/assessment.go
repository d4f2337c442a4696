package model

// HolisticLevel is the externally supplied whole-document relevance
// classification, on an ordered scale.
type HolisticLevel string

const (
	HolisticNotRelevant HolisticLevel = "not_relevant"
	HolisticPeripheral  HolisticLevel = "peripheral"
	HolisticSubstantial HolisticLevel = "substantial"
	HolisticPrimary     HolisticLevel = "primary"
)

// holisticRank orders the scale; unknown levels rank below not_relevant.
func holisticRank(l HolisticLevel) int {
	switch l {
	case HolisticNotRelevant:
		return 1
	case HolisticPeripheral:
		return 2
	case HolisticSubstantial:
		return 3
	case HolisticPrimary:
		return 4
	}
	return 0
}

// AtLeast reports whether l is at or above the floor on the ordered scale.
func (l HolisticLevel) AtLeast(floor HolisticLevel) bool {
	return holisticRank(l) >= holisticRank(floor)
}

// Valid reports whether l is one of the known scale values.
func (l HolisticLevel) Valid() bool {
	return holisticRank(l) > 0
}

// Priority ranks how urgently an included paper should be reviewed.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Override is a caller-supplied inclusion override. The engine records it
// verbatim; it never applies one silently.
type Override struct {
	Include       bool   `json:"include"`
	Justification string `json:"justification"`
}

// FinalAssessment is the terminal decision for a run, produced exactly once
// from the full set of consolidated items and the study identifier.
type FinalAssessment struct {
	ExplicitPathway bool          `json:"explicit_pathway"`
	EnhancedPathway bool          `json:"enhanced_pathway"`
	Holistic        HolisticLevel `json:"holistic"`
	Include         bool          `json:"include"`
	Priority        Priority      `json:"priority"`
	Override        *Override     `json:"override,omitempty"`
	Reasoning       []string      `json:"reasoning"`
	NeedsReview     bool          `json:"needs_review,omitempty"`
}
