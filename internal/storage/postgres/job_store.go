// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore persists scrape jobs in Postgres.
type JobStore struct {
	pool  querier
	table string
	now   func() time.Time
}

// Schema returns the DDL for table.
func Schema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	options     JSONB NOT NULL,
	identity    TEXT NOT NULL DEFAULT '',
	plan        TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	result      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	error_code  TEXT NOT NULL DEFAULT '',
	parent_id   TEXT NOT NULL DEFAULT '',
	root_id     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
)`, table)
}

// New connects a pool from cfg and ensures the table exists.
func New(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Migrate creates the jobs table if missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema(s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a pending job. A terminal row with the same id is replaced;
// a pending or active one yields ErrJobExists.
func (s *JobStore) Create(ctx context.Context, job scrape.Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	if job.State == "" {
		job.State = scrape.JobStatePending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, url, options, identity, plan, state, attempts, parent_id, root_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	options = EXCLUDED.options,
	identity = EXCLUDED.identity,
	plan = EXCLUDED.plan,
	state = EXCLUDED.state,
	attempts = 0,
	result = NULL,
	error = '',
	error_code = '',
	parent_id = EXCLUDED.parent_id,
	root_id = EXCLUDED.root_id,
	created_at = EXCLUDED.created_at,
	started_at = NULL,
	finished_at = NULL
WHERE %[1]s.state IN ('completed','failed')`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		job.ID, job.URL, opts, job.Identity, job.Plan, string(job.State), job.ParentID, job.RootID, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create job %s: %w", job.ID, scrape.ErrJobExists)
	}
	return nil
}

// Get loads a job by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (scrape.Job, error) {
	query := fmt.Sprintf(`
SELECT id, url, options, identity, plan, state, attempts, result, error, error_code,
	parent_id, root_id, created_at, started_at, finished_at
FROM %s WHERE id = $1`, s.table)

	var (
		job       scrape.Job
		opts      []byte
		result    []byte
		state     string
		errorCode string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.URL, &opts, &job.Identity, &job.Plan, &state, &job.Attempts, &result, &job.Error, &errorCode,
		&job.ParentID, &job.RootID, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, fmt.Errorf("get job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job %s: %w", jobID, err)
	}
	job.State = scrape.JobState(state)
	job.ErrorCode = scrape.ErrorCode(errorCode)
	if err := json.Unmarshal(opts, &job.Options); err != nil {
		return scrape.Job{}, fmt.Errorf("decode options: %w", err)
	}
	if len(result) > 0 {
		var data scrape.PageData
		if err := json.Unmarshal(result, &data); err != nil {
			return scrape.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &data
	}
	return job, nil
}

// Update applies a partial mutation. Zero Attempts and nil Result keep stored values.
func (s *JobStore) Update(ctx context.Context, jobID string, update scrape.JobUpdate) error {
	var result []byte
	if update.Result != nil {
		var err error
		if result, err = json.Marshal(update.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	state = COALESCE(NULLIF($2, ''), state),
	attempts = CASE WHEN $3 > 0 THEN $3 ELSE attempts END,
	result = COALESCE($4, result),
	error = $5,
	error_code = $6,
	started_at = CASE WHEN $2 = 'active' AND started_at IS NULL THEN $7 ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed','failed') THEN $7 ELSE finished_at END
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		jobID, string(update.State), update.Attempts, result, update.Error, string(update.ErrorCode), s.now())
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, scrape.ErrJobNotFound)
	}
	return nil
}
