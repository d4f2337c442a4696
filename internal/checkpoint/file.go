package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/screening-cli/internal/model"
)

// FileStore implements Store on a plain directory: one subdirectory per run
// holding run.json and one checkpoint-<stage>.json per checkpoint. Writes go
// through a temp file and rename so a crash mid-write never leaves a partial
// checkpoint visible to resume.
type FileStore struct {
	root string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFile creates a file store rooted at dir.
func NewFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, eris.New("file store: empty root dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "file store: mkdir root")
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) Migrate(context.Context) error { return nil }
func (s *FileStore) Close() error                  { return nil }

func (s *FileStore) runDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *FileStore) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *FileStore) checkpointPath(runID string, stage model.StageIndex) string {
	return filepath.Join(s.runDir(runID), fmt.Sprintf("checkpoint-%d.json", stage))
}

// writeAtomic marshals v and renames a temp file into place.
func (s *FileStore) writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "file store: marshal")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "file store: create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "file store: write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "file store: sync temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "file store: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "file store: rename")
	}
	return nil
}

func (s *FileStore) readRun(runID string) (*model.Run, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "file store: read run")
	}
	var r model.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "file store: unmarshal run")
	}
	return &r, nil
}

func (s *FileStore) CreateRun(_ context.Context, paper model.Paper) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	r := &model.Run{
		ID:        uuid.New().String(),
		Paper:     paper,
		Status:    model.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := os.MkdirAll(s.runDir(r.ID), 0o755); err != nil {
		return nil, eris.Wrap(err, "file store: mkdir run")
	}
	if err := s.writeAtomic(s.runPath(r.ID), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *FileStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.readRun(runID)
	if err != nil {
		return err
	}
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return s.writeAtomic(s.runPath(runID), r)
}

func (s *FileStore) UpdateRunError(_ context.Context, runID string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.readRun(runID)
	if err != nil {
		return err
	}
	r.Error = msg
	r.Status = model.RunStatusFailed
	r.UpdatedAt = time.Now().UTC()
	return s.writeAtomic(s.runPath(runID), r)
}

func (s *FileStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRun(runID)
}

func (s *FileStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, eris.Wrap(err, "file store: read root")
	}

	var runs []model.Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r, err := s.readRun(e.Name())
		if err != nil {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.PaperPath != "" && r.Paper.Path != filter.PaperPath {
			continue
		}
		runs = append(runs, *r)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *FileStore) SaveCheckpoint(_ context.Context, cp *model.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.readRun(cp.RunID)
	if err != nil {
		return err
	}

	latest, err := s.latestStage(cp.RunID)
	if err != nil {
		return err
	}
	if latest >= 0 && cp.Stage <= latest {
		return eris.Wrapf(ErrStaleStage, "stage %d <= latest %d for run %s", cp.Stage, latest, cp.RunID)
	}

	out := *cp
	out.Version = model.CheckpointVersion
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if err := s.writeAtomic(s.checkpointPath(cp.RunID, cp.Stage), &out); err != nil {
		return err
	}

	r.Stage = cp.Stage
	r.UpdatedAt = time.Now().UTC()
	return s.writeAtomic(s.runPath(cp.RunID), r)
}

// latestStage returns the highest checkpointed stage for the run, or -1.
func (s *FileStore) latestStage(runID string) (model.StageIndex, error) {
	entries, err := os.ReadDir(s.runDir(runID))
	if os.IsNotExist(err) {
		return -1, nil
	}
	if err != nil {
		return -1, eris.Wrap(err, "file store: read run dir")
	}

	latest := model.StageIndex(-1)
	for _, e := range entries {
		var stage int
		if _, err := fmt.Sscanf(e.Name(), "checkpoint-%d.json", &stage); err != nil {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if model.StageIndex(stage) > latest {
			latest = model.StageIndex(stage)
		}
	}
	return latest, nil
}

func (s *FileStore) readCheckpoint(runID string, stage model.StageIndex) (*model.Checkpoint, error) {
	data, err := os.ReadFile(s.checkpointPath(runID, stage))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "file store: read checkpoint")
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrap(err, "file store: unmarshal checkpoint")
	}
	if err := checkVersion(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *FileStore) ListCheckpoints(_ context.Context, runID string) ([]model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cps []model.Checkpoint
	for stage := model.StageIndex(0); stage < model.StageCount; stage++ {
		cp, err := s.readCheckpoint(runID, stage)
		if eris.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		cps = append(cps, *cp)
	}
	return cps, nil
}

func (s *FileStore) LatestCheckpoint(_ context.Context, runID string) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestStage(runID)
	if err != nil {
		return nil, err
	}
	if latest < 0 {
		return nil, ErrNotFound
	}
	return s.readCheckpoint(runID, latest)
}
