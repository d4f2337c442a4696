package model

import (
	"time"
)

// RunStatus represents the current state of a screening run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusDegraded  RunStatus = "degraded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCompleted RunStatus = "completed"
)

// Terminal reports whether the status admits no further stage execution.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StageIndex identifies a position in the fixed stage order of a run.
type StageIndex int

const (
	StageIdentify   StageIndex = 0
	StageGaps       StageIndex = 1
	StageVariables  StageIndex = 2
	StageTechniques StageIndex = 3
	StageFindings   StageIndex = 4
	StageAssess     StageIndex = 5
	StageAssemble   StageIndex = 6
)

// StageCount is the total number of stages in a run.
const StageCount = 7

// CategoryStage returns the stage index for a section category.
func CategoryStage(c Category) StageIndex {
	switch c {
	case CategoryGap:
		return StageGaps
	case CategoryVariable:
		return StageVariables
	case CategoryTechnique:
		return StageTechniques
	case CategoryFinding:
		return StageFindings
	}
	return -1
}

func (i StageIndex) String() string {
	switch i {
	case StageIdentify:
		return "identify"
	case StageGaps:
		return "gaps"
	case StageVariables:
		return "variables"
	case StageTechniques:
		return "techniques"
	case StageFindings:
		return "findings"
	case StageAssess:
		return "assess"
	case StageAssemble:
		return "assemble"
	}
	return "unknown"
}

// Run represents a single screening run for a paper.
type Run struct {
	ID        string     `json:"id"`
	Paper     Paper      `json:"paper"`
	Status    RunStatus  `json:"status"`
	Stage     StageIndex `json:"stage"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunState is the accumulated, serializable state of a run. It is what a
// Checkpoint snapshots: everything downstream stages need, nothing more. Items
// reference each other only by stable identifiers so the whole state
// round-trips through JSON.
type RunState struct {
	Identifier *StudyIdentifier                `json:"identifier,omitempty"`
	Items      map[Category][]ConsolidatedItem `json:"items,omitempty"`
	Degraded   []string                        `json:"degraded,omitempty"`
	Assessment *FinalAssessment                `json:"assessment,omitempty"`
	Usage      TokenUsage                      `json:"usage"`
}

// CompletedCategories returns the categories for which items (possibly empty
// slices) have been recorded.
func (s *RunState) CompletedCategories() []Category {
	var out []Category
	for _, c := range Categories {
		if _, ok := s.Items[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Checkpoint is an immutable snapshot of a run's state after a stage
// completes. Checkpoints for a run form a strictly increasing sequence by
// stage index; resume always starts from the highest index found.
type Checkpoint struct {
	RunID     string             `json:"run_id"`
	Stage     StageIndex         `json:"stage"`
	Version   int                `json:"version"`
	State     RunState           `json:"state"`
	Retries   map[string]int     `json:"retries,omitempty"`
	Reports   []ValidationReport `json:"reports,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// CheckpointVersion is the current serialization version written by this
// binary. Older versions are readable; newer ones are rejected on load.
const CheckpointVersion = 1

// ValidationKind classifies what a ValidationReport checked.
type ValidationKind string

const (
	ValidationSchema  ValidationKind = "schema"
	ValidationContext ValidationKind = "context"
	ValidationLogic   ValidationKind = "logic"
)

// ValidationReport records the outcome of one validation attempt. Reports are
// attached to checkpoints for audit.
type ValidationReport struct {
	Stage    string         `json:"stage"`
	Kind     ValidationKind `json:"kind"`
	Passed   bool           `json:"passed"`
	Issues   []string       `json:"issues,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// TokenUsage tracks model token consumption across stages.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another counter.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
