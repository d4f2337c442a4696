// Package checkpoint persists runs and their stage checkpoints. Two drivers
// implement the same Store contract: SQLite for the default local database and
// a plain-file layout for environments where a database file is unwanted.
package checkpoint

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = eris.New("checkpoint: not found")

// ErrStaleStage is returned when saving a checkpoint whose stage index does
// not strictly increase the run's checkpoint sequence.
var ErrStaleStage = eris.New("checkpoint: stage index not increasing")

// ErrVersionTooNew is returned when a stored checkpoint was written by a newer
// serialization version than this binary understands.
var ErrVersionTooNew = eris.New("checkpoint: version newer than supported")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	PaperPath string          `json:"paper_path,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for screening runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, paper model.Paper) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunError(ctx context.Context, runID string, msg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Checkpoints. Saved checkpoints are immutable; Save rejects a stage
	// index that does not strictly increase the run's sequence.
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error)
	LatestCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs a Store for the configured driver.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "file":
		return NewFile(dsn)
	}
	return nil, eris.Errorf("checkpoint: unknown driver %q", driver)
}

// validate performs driver-independent checks before a save.
func validate(cp *model.Checkpoint) error {
	if cp.RunID == "" {
		return eris.New("checkpoint: missing run id")
	}
	if cp.Stage < 0 || cp.Stage >= model.StageCount {
		return eris.Errorf("checkpoint: stage index %d out of range", cp.Stage)
	}
	return nil
}

// checkVersion rejects checkpoints written by a newer binary.
func checkVersion(cp *model.Checkpoint) error {
	if cp.Version > model.CheckpointVersion {
		return eris.Wrapf(ErrVersionTooNew, "version %d > %d", cp.Version, model.CheckpointVersion)
	}
	return nil
}
