// Package runs persists training run metadata in SQL.
//
// Every training session registers a row holding the experiment identity
// (task, model type, sampler), a YAML snapshot of the resolved config, and
// live progress (status, iteration, loss). The table backs the status
// server's /api/runs endpoints and the `locodiff runs` listing, and works
// against SQLite, PostgreSQL, and MySQL through the shared connection pool.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/reeceomahoney/locodiff/pkg/config"
)

// Run lifecycle states.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// ErrNotFound is returned when a run ID does not exist in the registry.
var ErrNotFound = errors.New("run not found")

// Run is one registered training run.
type Run struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Model     string    `json:"model"`
	Sampler   string    `json:"sampler"`
	Project   string    `json:"project,omitempty"`
	LogDir    string    `json:"log_dir,omitempty"`
	Config    string    `json:"config,omitempty"`
	Status    string    `json:"status"`
	Iter      int       `json:"iter"`
	Loss      float64   `json:"loss"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	createRunsTableSQLite = `
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(36) PRIMARY KEY,
    task VARCHAR(255) NOT NULL,
    model VARCHAR(64) NOT NULL,
    sampler VARCHAR(64) NOT NULL,
    project VARCHAR(255),
    log_dir TEXT,
    config_yaml TEXT,
    status VARCHAR(32) NOT NULL,
    iter INTEGER NOT NULL,
    loss REAL NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

	createRunsTablePostgres = `
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(36) PRIMARY KEY,
    task VARCHAR(255) NOT NULL,
    model VARCHAR(64) NOT NULL,
    sampler VARCHAR(64) NOT NULL,
    project VARCHAR(255),
    log_dir TEXT,
    config_yaml TEXT,
    status VARCHAR(32) NOT NULL,
    iter INTEGER NOT NULL,
    loss DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

	createRunsTableMySQL = `
CREATE TABLE IF NOT EXISTS runs (
    id VARCHAR(36) PRIMARY KEY,
    task VARCHAR(255) NOT NULL,
    model VARCHAR(64) NOT NULL,
    sampler VARCHAR(64) NOT NULL,
    project VARCHAR(255),
    log_dir TEXT,
    config_yaml TEXT,
    status VARCHAR(32) NOT NULL,
    iter INTEGER NOT NULL,
    loss DOUBLE NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    INDEX idx_runs_task (task),
    INDEX idx_runs_status (status),
    INDEX idx_runs_created_at (created_at)
);
`
)

// Registry is a SQL-backed store for run metadata. The connection is owned
// by the shared pool, so the registry never closes it.
type Registry struct {
	db      *sql.DB
	dialect string
}

// NewRegistry wraps an open database connection and ensures the runs table
// exists.
func NewRegistry(db *sql.DB, dialect string) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	r := &Registry{db: db, dialect: dialect}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize runs schema: %w", err)
	}
	return r, nil
}

// NewRegistryFromConfig opens (or reuses) a pooled connection for the given
// database config and builds a registry on it.
func NewRegistryFromConfig(pool *config.DBPool, cfg *config.DatabaseConfig) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	db, err := pool.Get(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open run registry database: %w", err)
	}
	return NewRegistry(db, cfg.Dialect())
}

func (r *Registry) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createRunsTableSQLite
	switch r.dialect {
	case "postgres":
		schema = createRunsTablePostgres
	case "mysql":
		schema = createRunsTableMySQL
	}

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

// Create registers a new run for the given experiment and returns it with a
// fresh ID and StatusRunning. The resolved config is stored as a YAML
// snapshot so a run stays reproducible after the config file changes.
func (r *Registry) Create(ctx context.Context, exp *config.Config) (*Run, error) {
	if exp == nil {
		return nil, fmt.Errorf("experiment config is required")
	}

	snapshot, err := yaml.Marshal(exp)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot config: %w", err)
	}

	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.New().String(),
		Task:      exp.Task,
		Model:     exp.Model.Type,
		Sampler:   exp.Policy.Sampler,
		Project:   exp.WandbProject,
		LogDir:    exp.LogDir,
		Config:    string(snapshot),
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
INSERT INTO runs (id, task, model, sampler, project, log_dir, config_yaml, status, iter, loss, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	if r.dialect == "postgres" {
		query = `
INSERT INTO runs (id, task, model, sampler, project, log_dir, config_yaml, status, iter, loss, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	}

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Task, run.Model, run.Sampler,
		run.Project, run.LogDir, run.Config, run.Status,
		run.Iter, run.Loss, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// Get returns the run with the given ID, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Run, error) {
	query := `
SELECT id, task, model, sampler, project, log_dir, config_yaml, status, iter, loss, created_at, updated_at
FROM runs
WHERE id = ?
`
	if r.dialect == "postgres" {
		query = `
SELECT id, task, model, sampler, project, log_dir, config_yaml, status, iter, loss, created_at, updated_at
FROM runs
WHERE id = $1
`
	}

	var run Run
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Task, &run.Model, &run.Sampler,
		&run.Project, &run.LogDir, &run.Config, &run.Status,
		&run.Iter, &run.Loss, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	return &run, nil
}

// List returns runs newest first. A limit of zero or less returns all runs.
func (r *Registry) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `
SELECT id, task, model, sampler, project, log_dir, config_yaml, status, iter, loss, created_at, updated_at
FROM runs
ORDER BY created_at DESC
`
	args := []interface{}{}
	if limit > 0 {
		query += "LIMIT ?\n"
		if r.dialect == "postgres" {
			query = `
SELECT id, task, model, sampler, project, log_dir, config_yaml, status, iter, loss, created_at, updated_at
FROM runs
ORDER BY created_at DESC
LIMIT $1
`
		}
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		var run Run
		err := rows.Scan(
			&run.ID, &run.Task, &run.Model, &run.Sampler,
			&run.Project, &run.LogDir, &run.Config, &run.Status,
			&run.Iter, &run.Loss, &run.CreatedAt, &run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return result, nil
}

// UpdateProgress records the current training iteration and loss for a run.
func (r *Registry) UpdateProgress(ctx context.Context, id string, iter int, loss float64) error {
	query := `
UPDATE runs
SET iter = ?, loss = ?, updated_at = ?
WHERE id = ?
`
	if r.dialect == "postgres" {
		query = `
UPDATE runs
SET iter = $1, loss = $2, updated_at = $3
WHERE id = $4
`
	}

	res, err := r.db.ExecContext(ctx, query, iter, loss, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return r.checkAffected(res, id)
}

// Finish moves a run to a terminal status.
func (r *Registry) Finish(ctx context.Context, id string, status string) error {
	switch status {
	case StatusCompleted, StatusInterrupted, StatusFailed:
	default:
		return fmt.Errorf("invalid terminal status %q (valid: %s, %s, %s)",
			status, StatusCompleted, StatusInterrupted, StatusFailed)
	}

	query := `
UPDATE runs
SET status = ?, updated_at = ?
WHERE id = ?
`
	if r.dialect == "postgres" {
		query = `
UPDATE runs
SET status = $1, updated_at = $2
WHERE id = $3
`
	}

	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return r.checkAffected(res, id)
}

func (r *Registry) checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// Reporter forwards progress updates for a single run to the registry.
type Reporter struct {
	reg *Registry
	id  string
}

// ReporterFor returns a Reporter bound to the given run ID.
func (r *Registry) ReporterFor(id string) *Reporter {
	return &Reporter{reg: r, id: id}
}

// UpdateProgress records the current iteration and loss for the bound run.
func (p *Reporter) UpdateProgress(ctx context.Context, iter int, loss float64) error {
	return p.reg.UpdateProgress(ctx, p.id, iter, loss)
}
