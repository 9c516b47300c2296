package reindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// JobStore persists reindex jobs in SQLite so job history and progress
// survive restarts.
type JobStore struct {
	db *sql.DB
}

const jobSchema = `
CREATE TABLE IF NOT EXISTS reindex_jobs (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	scope         TEXT NOT NULL DEFAULT '',
	document_id   TEXT NOT NULL DEFAULT '',
	models        TEXT NOT NULL DEFAULT '[]',
	trig          TEXT NOT NULL,
	actor         TEXT NOT NULL,
	state         TEXT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	total_docs    INTEGER NOT NULL DEFAULT 0,
	processed_docs INTEGER NOT NULL DEFAULT 0,
	current_doc   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	started_at    INTEGER,
	finished_at   INTEGER,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reindex_jobs_tenant ON reindex_jobs(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reindex_jobs_state ON reindex_jobs(state);
`

// NewJobStore creates the jobs table if needed.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if _, err := db.Exec(jobSchema); err != nil {
		return nil, mverr.StorageError("initialize reindex job schema", err)
	}
	return &JobStore{db: db}, nil
}

// Insert stores a new job.
func (s *JobStore) Insert(ctx context.Context, job *Job) error {
	models, err := json.Marshal(job.Models)
	if err != nil {
		return mverr.StorageError("encode job models", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reindex_jobs
		 (id, tenant_id, scope, document_id, models, trig, actor, state, error,
		  total_docs, processed_docs, current_doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Target.TenantID, job.Target.Scope, job.Target.DocumentID,
		string(models), string(job.Trigger), job.Actor, string(job.State), job.Error,
		job.Progress.TotalDocs, job.Progress.ProcessedDocs, job.Progress.CurrentDoc,
		job.CreatedAt.Unix(), job.Progress.UpdatedAt.Unix())
	if err != nil {
		return mverr.StorageError("insert reindex job", err)
	}
	return nil
}

// Update rewrites a job's mutable fields.
func (s *JobStore) Update(ctx context.Context, job *Job) error {
	var started, finished any
	if job.StartedAt != nil {
		started = job.StartedAt.Unix()
	}
	if job.FinishedAt != nil {
		finished = job.FinishedAt.Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reindex_jobs SET state = ?, error = ?, total_docs = ?,
		 processed_docs = ?, current_doc = ?, started_at = ?, finished_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(job.State), job.Error, job.Progress.TotalDocs,
		job.Progress.ProcessedDocs, job.Progress.CurrentDoc,
		started, finished, time.Now().Unix(), job.ID)
	if err != nil {
		return mverr.StorageError("update reindex job", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return mverr.StorageError(fmt.Sprintf("reindex job %s not found", job.ID), nil)
	}
	return nil
}

// Get loads one job.
func (s *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, scope, document_id, models, trig, actor, state, error,
		 total_docs, processed_docs, current_doc, created_at, started_at, finished_at, updated_at
		 FROM reindex_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mverr.ValidationError(fmt.Sprintf("reindex job %s not found", id), nil)
	}
	if err != nil {
		return nil, mverr.StorageError("read reindex job", err)
	}
	return job, nil
}

// Active returns the jobs still holding their targets, newest first.
func (s *JobStore) Active(ctx context.Context) ([]*Job, error) {
	return s.query(ctx,
		`SELECT id, tenant_id, scope, document_id, models, trig, actor, state, error,
		 total_docs, processed_docs, current_doc, created_at, started_at, finished_at, updated_at
		 FROM reindex_jobs WHERE state IN (?, ?) ORDER BY created_at DESC`,
		string(StatePending), string(StateRunning))
}

// List returns a tenant's jobs, newest first.
func (s *JobStore) List(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx,
		`SELECT id, tenant_id, scope, document_id, models, trig, actor, state, error,
		 total_docs, processed_docs, current_doc, created_at, started_at, finished_at, updated_at
		 FROM reindex_jobs WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`,
		tenantID, limit)
}

func (s *JobStore) query(ctx context.Context, q string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mverr.StorageError("query reindex jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, mverr.StorageError("scan reindex job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mverr.StorageError("iterate reindex jobs", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                 Job
		models              string
		trig, state         string
		createdAt, updated  int64
		startedAt, finished sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.Target.TenantID, &job.Target.Scope, &job.Target.DocumentID,
		&models, &trig, &job.Actor, &state, &job.Error,
		&job.Progress.TotalDocs, &job.Progress.ProcessedDocs, &job.Progress.CurrentDoc,
		&createdAt, &startedAt, &finished, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(models), &job.Models); err != nil {
		return nil, fmt.Errorf("decode job models: %w", err)
	}
	job.Trigger = Trigger(trig)
	job.State = State(state)
	job.CreatedAt = time.Unix(createdAt, 0)
	job.Progress.UpdatedAt = time.Unix(updated, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}
	if finished.Valid {
		t := time.Unix(finished.Int64, 0)
		job.FinishedAt = &t
	}
	return &job, nil
}
