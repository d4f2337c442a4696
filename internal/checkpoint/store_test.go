package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screening-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestFile(t *testing.T) Store {
	t.Helper()
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore(t *testing.T) { storeTestSuite(t, newTestSQLite) }
func TestFileStore(t *testing.T)  { storeTestSuite(t, newTestFile) }

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		paper := model.Paper{Path: "/papers/smith2020.pdf", Label: "smith2020"}
		run, err := s.CreateRun(ctx, paper)
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusPending, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, paper.Path, got.Paper.Path)
		assert.Equal(t, model.StageIndex(0), got.Stage)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
	})

	t.Run("UpdateRunError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		require.NoError(t, s.UpdateRunError(ctx, run.ID, "identification failed"))
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "identification failed", got.Error)
	})

	t.Run("ListRunsFiltered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateRun(ctx, model.Paper{Path: "/a.pdf"})
		require.NoError(t, err)
		run2, err := s.CreateRun(ctx, model.Paper{Path: "/b.pdf"})
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, run2.ID, model.RunStatusCompleted))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		completed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, run2.ID, completed[0].ID)

		byPath, err := s.ListRuns(ctx, RunFilter{PaperPath: "/a.pdf"})
		require.NoError(t, err)
		require.Len(t, byPath, 1)
	})

	t.Run("SaveAndLoadCheckpoint", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		cp := &model.Checkpoint{
			RunID: run.ID,
			Stage: model.StageIdentify,
			State: model.RunState{
				Identifier: &model.StudyIdentifier{
					Fields: map[model.IdentifierField]model.ResolvedField{
						model.FieldTitle: {Value: "A Study", Resolved: true, Confidence: 1.0},
					},
				},
				Usage: model.TokenUsage{InputTokens: 1200, OutputTokens: 300},
			},
			Reports: []model.ValidationReport{
				{Stage: "identify", Kind: model.ValidationSchema, Passed: true},
			},
		}
		require.NoError(t, s.SaveCheckpoint(ctx, cp))

		got, err := s.LatestCheckpoint(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageIdentify, got.Stage)
		assert.Equal(t, model.CheckpointVersion, got.Version)
		require.NotNil(t, got.State.Identifier)
		assert.Equal(t, "A Study", got.State.Identifier.Title())
		assert.Equal(t, 1200, got.State.Usage.InputTokens)
		require.Len(t, got.Reports, 1)
		assert.True(t, got.Reports[0].Passed)

		// Run's current stage advances with the checkpoint.
		r, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StageIdentify, r.Stage)
	})

	t.Run("CheckpointStageMonotonicity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		require.NoError(t, s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageGaps}))

		// Duplicate stage rejected.
		err = s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageGaps})
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrStaleStage))

		// Lower stage rejected.
		err = s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageIdentify})
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrStaleStage))

		// Higher stage accepted; skipping indices is allowed.
		require.NoError(t, s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageAssess}))
	})

	t.Run("ListCheckpointsOrdered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		for _, stage := range []model.StageIndex{model.StageIdentify, model.StageGaps, model.StageVariables} {
			require.NoError(t, s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: stage}))
		}

		cps, err := s.ListCheckpoints(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, cps, 3)
		for i := 1; i < len(cps); i++ {
			assert.Greater(t, cps[i].Stage, cps[i-1].Stage)
		}
	})

	t.Run("LatestCheckpointNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		_, err = s.LatestCheckpoint(ctx, run.ID)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("InvalidStageRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
		require.NoError(t, err)

		err = s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageCount})
		require.Error(t, err)
		err = s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: -1})
		require.Error(t, err)
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("redis", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestFileStore_NoPartialFilesVisible(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
	require.NoError(t, err)
	require.NoError(t, s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageIdentify}))

	// Only fully-renamed files remain: no temp artifacts in the run dir.
	entries, err := os.ReadDir(filepath.Join(dir, run.ID))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestFileStore_VersionTooNewRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, model.Paper{Path: "/p.pdf"})
	require.NoError(t, err)
	require.NoError(t, s.SaveCheckpoint(ctx, &model.Checkpoint{RunID: run.ID, Stage: model.StageIdentify}))

	// Rewrite the stored checkpoint claiming a future version.
	path := filepath.Join(dir, run.ID, "checkpoint-0.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	mutated := strings.Replace(string(data), `"version": 1`, `"version": 99`, 1)
	require.NoError(t, os.WriteFile(path, []byte(mutated), 0o644))

	_, err = s.LatestCheckpoint(ctx, run.ID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrVersionTooNew))
}
