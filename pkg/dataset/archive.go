package dataset

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reeceomahoney/locodiff/pkg/config"
)

// Episode is one expert rollout: per-step observation and action rows.
// Rewards are optional and only carried for bookkeeping.
type Episode struct {
	Task    string
	Obs     [][]float64
	Actions [][]float64
	Rewards []float64
}

// Len returns the number of steps in the episode.
func (e *Episode) Len() int { return len(e.Obs) }

// ObsDim returns the observation width, or 0 for an empty episode.
func (e *Episode) ObsDim() int {
	if len(e.Obs) == 0 {
		return 0
	}
	return len(e.Obs[0])
}

// ActDim returns the action width, or 0 for an empty episode.
func (e *Episode) ActDim() int {
	if len(e.Actions) == 0 {
		return 0
	}
	return len(e.Actions[0])
}

// Validate checks the episode for internal consistency.
func (e *Episode) Validate() error {
	if len(e.Obs) == 0 {
		return fmt.Errorf("episode has no steps")
	}
	if len(e.Actions) != len(e.Obs) {
		return fmt.Errorf("episode has %d observations but %d actions", len(e.Obs), len(e.Actions))
	}
	if e.Rewards != nil && len(e.Rewards) != len(e.Obs) {
		return fmt.Errorf("episode has %d observations but %d rewards", len(e.Obs), len(e.Rewards))
	}
	obsDim, actDim := e.ObsDim(), e.ActDim()
	for i := range e.Obs {
		if len(e.Obs[i]) != obsDim {
			return fmt.Errorf("observation %d has width %d, expected %d", i, len(e.Obs[i]), obsDim)
		}
		if len(e.Actions[i]) != actDim {
			return fmt.Errorf("action %d has width %d, expected %d", i, len(e.Actions[i]), actDim)
		}
	}
	return nil
}

// Archive is a store of expert episodes. The train command reads whole
// archives; the collect command appends to them.
type Archive interface {
	Episodes(ctx context.Context) ([]Episode, error)
	Append(ctx context.Context, episodes ...Episode) error
	Close() error
}

// OpenArchive opens the archive named by cfg.Source. The file extension
// selects the backend: .jsonl for line-delimited JSON, .db/.sqlite/.sqlite3
// for a SQLite database through the shared pool.
func OpenArchive(cfg *config.DatasetConfig, pool *config.DBPool) (Archive, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("dataset source is required")
	}
	switch filepath.Ext(cfg.Source) {
	case ".jsonl":
		return NewJSONLArchive(cfg.Source, cfg.TaskName), nil
	case ".db", ".sqlite", ".sqlite3":
		dbCfg := &config.DatabaseConfig{Driver: "sqlite", Database: cfg.Source}
		dbCfg.SetDefaults()
		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open episode database: %w", err)
		}
		return NewSQLArchive(db, dbCfg.Dialect(), cfg.TaskName)
	default:
		return nil, fmt.Errorf("unsupported archive format %q (want .jsonl, .db, .sqlite or .sqlite3)", cfg.Source)
	}
}

const (
	createEpisodesTableSQLite = `
CREATE TABLE IF NOT EXISTS episodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task VARCHAR(255) NOT NULL,
    steps INTEGER NOT NULL,
    obs_dim INTEGER NOT NULL,
    act_dim INTEGER NOT NULL,
    obs BLOB NOT NULL,
    actions BLOB NOT NULL,
    rewards BLOB,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_task ON episodes(task);
`

	createEpisodesTablePostgres = `
CREATE TABLE IF NOT EXISTS episodes (
    id SERIAL PRIMARY KEY,
    task VARCHAR(255) NOT NULL,
    steps INTEGER NOT NULL,
    obs_dim INTEGER NOT NULL,
    act_dim INTEGER NOT NULL,
    obs BYTEA NOT NULL,
    actions BYTEA NOT NULL,
    rewards BYTEA,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_task ON episodes(task);
`

	createEpisodesTableMySQL = `
CREATE TABLE IF NOT EXISTS episodes (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    task VARCHAR(255) NOT NULL,
    steps INTEGER NOT NULL,
    obs_dim INTEGER NOT NULL,
    act_dim INTEGER NOT NULL,
    obs LONGBLOB NOT NULL,
    actions LONGBLOB NOT NULL,
    rewards LONGBLOB,
    created_at TIMESTAMP NOT NULL,
    INDEX idx_episodes_task (task)
);
`
)

// SQLArchive stores episodes as rows with little-endian float64 blobs for
// the observation and action matrices. The connection is owned by the
// shared pool, so Close is a no-op.
type SQLArchive struct {
	db      *sql.DB
	dialect string
	task    string
}

// NewSQLArchive wraps an open database connection and ensures the episodes
// table exists. task, when non-empty, filters reads to that task name.
func NewSQLArchive(db *sql.DB, dialect string, task string) (*SQLArchive, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	a := &SQLArchive{db: db, dialect: dialect, task: task}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize episode schema: %w", err)
	}
	return a, nil
}

func (a *SQLArchive) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createEpisodesTableSQLite
	switch a.dialect {
	case "postgres":
		schema = createEpisodesTablePostgres
	case "mysql":
		schema = createEpisodesTableMySQL
	}

	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create episodes table: %w", err)
	}
	return nil
}

// Episodes loads every stored episode, oldest first.
func (a *SQLArchive) Episodes(ctx context.Context) ([]Episode, error) {
	query := `SELECT task, steps, obs_dim, act_dim, obs, actions, rewards FROM episodes ORDER BY id ASC`
	args := []interface{}{}
	if a.task != "" {
		query = `SELECT task, steps, obs_dim, act_dim, obs, actions, rewards FROM episodes WHERE task = ? ORDER BY id ASC`
		if a.dialect == "postgres" {
			query = `SELECT task, steps, obs_dim, act_dim, obs, actions, rewards FROM episodes WHERE task = $1 ORDER BY id ASC`
		}
		args = append(args, a.task)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		var (
			task           string
			steps          int
			obsDim, actDim int
			obsBlob        []byte
			actBlob        []byte
			rewardBlob     []byte
		)
		if err := rows.Scan(&task, &steps, &obsDim, &actDim, &obsBlob, &actBlob, &rewardBlob); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}

		ep := Episode{Task: task}
		if ep.Obs, err = blobToRows(obsBlob, steps, obsDim); err != nil {
			return nil, fmt.Errorf("corrupt observation blob: %w", err)
		}
		if ep.Actions, err = blobToRows(actBlob, steps, actDim); err != nil {
			return nil, fmt.Errorf("corrupt action blob: %w", err)
		}
		if len(rewardBlob) > 0 {
			if ep.Rewards, err = blobToVector(rewardBlob, steps); err != nil {
				return nil, fmt.Errorf("corrupt reward blob: %w", err)
			}
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating episodes: %w", err)
	}
	return episodes, nil
}

// Append stores the given episodes in a single transaction.
func (a *SQLArchive) Append(ctx context.Context, episodes ...Episode) error {
	if len(episodes) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
INSERT INTO episodes (task, steps, obs_dim, act_dim, obs, actions, rewards, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	if a.dialect == "postgres" {
		query = `
INSERT INTO episodes (task, steps, obs_dim, act_dim, obs, actions, rewards, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	}

	now := time.Now()
	for i := range episodes {
		ep := &episodes[i]
		if err = ep.Validate(); err != nil {
			return fmt.Errorf("invalid episode at index %d: %w", i, err)
		}

		task := ep.Task
		if task == "" {
			task = a.task
		}

		var rewardBlob []byte
		if ep.Rewards != nil {
			rewardBlob = vectorToBlob(ep.Rewards)
		}

		_, err = tx.ExecContext(ctx, query,
			task, ep.Len(), ep.ObsDim(), ep.ActDim(),
			rowsToBlob(ep.Obs), rowsToBlob(ep.Actions), rewardBlob, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert episode at index %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit episodes: %w", err)
	}
	return nil
}

// Close is a no-op: the underlying connection belongs to the shared pool.
func (a *SQLArchive) Close() error { return nil }

// Step is one step of a JSONL episode line.
type Step struct {
	Obs    []float64 `json:"obs"`
	Action []float64 `json:"action"`
	Reward float64   `json:"reward,omitempty"`
}

type episodeRecord struct {
	Task  string `json:"task,omitempty"`
	Steps []Step `json:"steps"`
}

// JSONLArchive stores one episode per line as a JSON record of steps.
type JSONLArchive struct {
	path string
	task string

	mu sync.Mutex
	w  *os.File
}

// NewJSONLArchive opens a line-delimited JSON archive at path. task, when
// non-empty, filters reads to that task name.
func NewJSONLArchive(path, task string) *JSONLArchive {
	return &JSONLArchive{path: path, task: task}
}

// Episodes loads every episode in file order.
func (a *JSONLArchive) Episodes(ctx context.Context) ([]Episode, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", a.path, err)
	}
	defer f.Close()

	var episodes []Episode
	dec := json.NewDecoder(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var rec episodeRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode episode %d: %w", len(episodes), err)
		}
		if a.task != "" && rec.Task != "" && rec.Task != a.task {
			continue
		}

		ep := Episode{
			Task:    rec.Task,
			Obs:     make([][]float64, len(rec.Steps)),
			Actions: make([][]float64, len(rec.Steps)),
			Rewards: make([]float64, len(rec.Steps)),
		}
		for i, s := range rec.Steps {
			ep.Obs[i] = s.Obs
			ep.Actions[i] = s.Action
			ep.Rewards[i] = s.Reward
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

// Append writes each episode as one line, creating the file if needed.
func (a *JSONLArchive) Append(ctx context.Context, episodes ...Episode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.w == nil {
		if dir := filepath.Dir(a.path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create archive directory: %w", err)
			}
		}
		f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open archive %s: %w", a.path, err)
		}
		a.w = f
	}

	enc := json.NewEncoder(a.w)
	for i := range episodes {
		ep := &episodes[i]
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("invalid episode at index %d: %w", i, err)
		}

		rec := episodeRecord{Task: ep.Task, Steps: make([]Step, ep.Len())}
		if rec.Task == "" {
			rec.Task = a.task
		}
		for j := range rec.Steps {
			rec.Steps[j] = Step{Obs: ep.Obs[j], Action: ep.Actions[j]}
			if ep.Rewards != nil {
				rec.Steps[j].Reward = ep.Rewards[j]
			}
		}
		if err := enc.Encode(&rec); err != nil {
			return fmt.Errorf("failed to encode episode at index %d: %w", i, err)
		}
	}
	return nil
}

// Close closes the append handle if one was opened.
func (a *JSONLArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.w == nil {
		return nil
	}
	err := a.w.Close()
	a.w = nil
	return err
}

func rowsToBlob(rows [][]float64) []byte {
	if len(rows) == 0 {
		return nil
	}
	dim := len(rows[0])
	b := make([]byte, 8*len(rows)*dim)
	off := 0
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
			off += 8
		}
	}
	return b
}

func vectorToBlob(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

func blobToRows(b []byte, steps, dim int) ([][]float64, error) {
	if len(b) != 8*steps*dim {
		return nil, fmt.Errorf("blob is %d bytes, expected %d (%d steps x %d)", len(b), 8*steps*dim, steps, dim)
	}
	rows := make([][]float64, steps)
	off := 0
	for i := range rows {
		row := make([]float64, dim)
		for j := range row {
			row[j] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
			off += 8
		}
		rows[i] = row
	}
	return rows, nil
}

func blobToVector(b []byte, n int) ([]float64, error) {
	if len(b) != 8*n {
		return nil, fmt.Errorf("blob is %d bytes, expected %d", len(b), 8*n)
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}
