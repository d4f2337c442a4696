package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/screening-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	paper      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	stage      INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	stage      INTEGER NOT NULL,
	version    INTEGER NOT NULL,
	state      TEXT NOT NULL,
	retries    TEXT,
	reports    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, paper model.Paper) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paperJSON, err := json.Marshal(paper)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal paper")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, paper, status, stage, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id, string(paperJSON), string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Paper:     paper,
		Status:    model.RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) UpdateRunError(ctx context.Context, runID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		msg, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run error %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, paper, status, stage, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, paper, status, stage, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PaperPath != "" {
		query += ` AND json_extract(paper, '$.path') = ?`
		args = append(args, filter.PaperPath)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal state")
	}
	retriesJSON, err := json.Marshal(cp.Retries)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal retries")
	}
	reportsJSON, err := json.Marshal(cp.Reports)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal reports")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(stage) FROM checkpoints WHERE run_id = ?`, cp.RunID,
	).Scan(&latest)
	if err != nil {
		return eris.Wrap(err, "sqlite: query latest stage")
	}
	if latest.Valid && int64(cp.Stage) <= latest.Int64 {
		return eris.Wrapf(ErrStaleStage, "stage %d <= latest %d for run %s", cp.Stage, latest.Int64, cp.RunID)
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, stage, version, state, retries, reports, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.RunID, int(cp.Stage), model.CheckpointVersion,
		string(stateJSON), string(retriesJSON), string(reportsJSON), createdAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert checkpoint run %s stage %d", cp.RunID, cp.Stage)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET stage = ?, updated_at = ? WHERE id = ?`,
		int(cp.Stage), time.Now().UTC(), cp.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance run stage %s", cp.RunID)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit checkpoint")
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, runID string) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, version, state, retries, reports, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY stage ASC`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close()

	var cps []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, *cp)
	}
	return cps, eris.Wrap(rows.Err(), "sqlite: list checkpoints iterate")
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, stage, version, state, retries, reports, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY stage DESC LIMIT 1`,
		runID,
	)
	return scanCheckpoint(row)
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var paperJSON string
	var errMsg sql.NullString
	var stage int

	err := row.Scan(&r.ID, &paperJSON, &r.Status, &stage, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Stage = model.StageIndex(stage)
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	if err := json.Unmarshal([]byte(paperJSON), &r.Paper); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal paper")
	}
	return &r, nil
}

func scanCheckpoint(row scannable) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var stage int
	var stateJSON string
	var retriesJSON, reportsJSON sql.NullString

	err := row.Scan(&cp.RunID, &stage, &cp.Version, &stateJSON, &retriesJSON, &reportsJSON, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan checkpoint")
	}

	cp.Stage = model.StageIndex(stage)
	if err := checkVersion(&cp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal state")
	}
	if retriesJSON.Valid && retriesJSON.String != "null" {
		if err := json.Unmarshal([]byte(retriesJSON.String), &cp.Retries); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal retries")
		}
	}
	if reportsJSON.Valid && reportsJSON.String != "null" {
		if err := json.Unmarshal([]byte(reportsJSON.String), &cp.Reports); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reports")
		}
	}
	return &cp, nil
}
