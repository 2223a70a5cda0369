package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sweeper/internal/sweep"

	_ "modernc.org/sqlite"
)

const (
	StatusRunning        = "running"
	StatusDone           = "done"
	StatusDoneWithErrors = "done_with_errors"
	StatusAborted        = "aborted"
	StatusReset          = "reset"

	JobLaunched  = "launched"
	JobHarvested = "harvested"
	JobFailed    = "failed"
)

// Sweep 是 sweeps 表的一行。
type Sweep struct {
	ID          string      `json:"id"`
	Identity    string      `json:"identity"`
	Status      string      `json:"status"`
	Dir         string      `json:"dir"`
	Total       int         `json:"total"`
	Launched    int         `json:"launched"`
	Harvested   int         `json:"harvested"`
	Failed      int         `json:"failed"`
	Space       sweep.Space `json:"space"`
	ReportPath  string      `json:"report_path,omitempty"`
	Message     string      `json:"message,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
}

// Job 是 sweep_jobs 表的一行，对应一次组合运行。
type Job struct {
	SweepID    string          `json:"sweep_id"`
	Index      int             `json:"index"`
	Status     string          `json:"status"`
	Parameters json.RawMessage `json:"parameters"`
	Artifact   string          `json:"artifact,omitempty"`
	Error      string          `json:"error,omitempty"`
	LaunchedAt time.Time       `json:"launched_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Store 管理 sweeps/sweep_jobs 表，实现 sweep.Ledger。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ sweep.Ledger = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sweeps (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			status TEXT NOT NULL,
			dir TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			launched INTEGER NOT NULL DEFAULT 0,
			harvested INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			space_json TEXT NOT NULL,
			report_path TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS sweep_jobs (
			sweep_id TEXT NOT NULL,
			combo_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			params_json TEXT NOT NULL,
			artifact TEXT,
			error TEXT,
			launched_at INTEGER NOT NULL,
			finished_at INTEGER,
			PRIMARY KEY(sweep_id, combo_index),
			FOREIGN KEY(sweep_id) REFERENCES sweeps(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sweeps_created ON sweeps(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SweepStarted 写入一条新的扫描记录。
func (s *Store) SweepStarted(ctx context.Context, st sweep.State) error {
	spaceJSON, err := json.Marshal(st.Space)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweeps
			(id, identity, status, dir, total, space_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Identity, StatusRunning, st.Dir, st.Total(), string(spaceJSON), now, now)
	return err
}

// JobLaunched 记录组合已下发；重复启动同一序号时覆盖旧记录。
func (s *Store) JobLaunched(ctx context.Context, sweepID string, index int, params sweep.Assignment) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sweep_jobs (sweep_id, combo_index, status, params_json, launched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(sweep_id, combo_index) DO UPDATE SET
			status=excluded.status, params_json=excluded.params_json,
			launched_at=excluded.launched_at, artifact=NULL, error=NULL, finished_at=NULL`,
		sweepID, index, JobLaunched, string(paramsJSON), now)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE sweeps SET launched=launched+1, updated_at=? WHERE id=?`, now, sweepID)
	return nil
}

func (s *Store) JobHarvested(ctx context.Context, sweepID string, index int, artifact string, harvestErr error) error {
	now := s.now().UnixMilli()
	status := JobHarvested
	counter := "harvested"
	var errText interface{}
	if harvestErr != nil {
		status = JobFailed
		counter = "failed"
		errText = harvestErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sweep_jobs SET status=?, artifact=?, error=?, finished_at=?
		WHERE sweep_id=? AND combo_index=?`,
		status, nullIfEmpty(artifact), errText, now, sweepID, index)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE sweeps SET %s=%s+1, updated_at=? WHERE id=?`, counter, counter), now, sweepID)
	return nil
}

func (s *Store) SweepFinished(ctx context.Context, sweepID, status, reportPath, message string) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sweeps
		SET status=?, report_path=?, message=?, updated_at=?, completed_at=?
		WHERE id=?`, status, nullIfEmpty(reportPath), nullIfEmpty(message), now, now, sweepID)
	return err
}

func (s *Store) ListSweeps(ctx context.Context, limit int) ([]Sweep, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, status, dir, total, launched, harvested, failed, space_json,
		       report_path, message, created_at, updated_at, completed_at
		FROM sweeps
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Sweep
	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sw)
	}
	return list, rows.Err()
}

func (s *Store) GetSweep(ctx context.Context, id string) (Sweep, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, status, dir, total, launched, harvested, failed, space_json,
		       report_path, message, created_at, updated_at, completed_at
		FROM sweeps WHERE id=?`, id)
	return scanSweep(row)
}

func (s *Store) ListJobs(ctx context.Context, sweepID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT combo_index, status, params_json, artifact, error, launched_at, finished_at
		FROM sweep_jobs
		WHERE sweep_id=?
		ORDER BY combo_index ASC`, sweepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		var (
			job               Job
			paramsJSON        string
			artifact, errText sql.NullString
			launched          int64
			finished          sql.NullInt64
		)
		if err := rows.Scan(&job.Index, &job.Status, &paramsJSON, &artifact, &errText, &launched, &finished); err != nil {
			return nil, err
		}
		job.SweepID = sweepID
		job.Artifact = artifact.String
		job.Error = errText.String
		job.LaunchedAt = timeFromMillis(launched)
		if finished.Valid {
			job.FinishedAt = timeFromMillis(finished.Int64)
		}
		job.Parameters = json.RawMessage(paramsJSON)
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSweep(row rowScanner) (Sweep, error) {
	var (
		sw               Sweep
		spaceJSON        string
		report, message  sql.NullString
		created, updated int64
		completed        sql.NullInt64
	)
	if err := row.Scan(&sw.ID, &sw.Identity, &sw.Status, &sw.Dir, &sw.Total, &sw.Launched,
		&sw.Harvested, &sw.Failed, &spaceJSON, &report, &message, &created, &updated, &completed); err != nil {
		return Sweep{}, err
	}
	sw.ReportPath = report.String
	sw.Message = message.String
	sw.CreatedAt = timeFromMillis(created)
	sw.UpdatedAt = timeFromMillis(updated)
	if completed.Valid {
		sw.CompletedAt = timeFromMillis(completed.Int64)
	}
	if err := json.Unmarshal([]byte(spaceJSON), &sw.Space); err != nil {
		return Sweep{}, err
	}
	return sw, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timeFromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
