package model

// ScreeningOutput is the one JSON document produced per run. It is validated
// against a fixed schema at assembly time; a violation there fails the run.
type ScreeningOutput struct {
	RunID           string                          `json:"run_id"`
	StudyIdentifier *StudyIdentifier                `json:"study_identifier"`
	Items           map[Category][]ConsolidatedItem `json:"items"`
	FinalAssessment *FinalAssessment                `json:"final_assessment"`
	Degraded        []string                        `json:"degraded,omitempty"`
	Usage           TokenUsage                      `json:"usage"`
}
