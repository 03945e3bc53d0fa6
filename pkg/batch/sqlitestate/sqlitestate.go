// Package sqlitestate stores batch step executions in a SQLite database so
// a failed job can be restarted by a later process.
package sqlitestate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/batchio/pkg/batch"
	"github.com/eunmann/batchio/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration for the repository.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
	// Synchronous sets the SQLite synchronous pragma: OFF, NORMAL or FULL.
	// Default: FULL, so a committed chunk survives a crash.
	Synchronous string
}

// DefaultConfig returns the default configuration for dbPath.
func DefaultConfig(dbPath string) Config {
	return Config{DBPath: dbPath, Synchronous: "FULL"}
}

// Validate checks configuration values and fills defaults.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath is required")
	}
	switch c.Synchronous {
	case "":
		c.Synchronous = "FULL"
	case "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	return nil
}

// Repository is a batch.Repository backed by the step_execution table.
// It is safe for concurrent use.
type Repository struct {
	db *sql.DB
}

var _ batch.Repository = (*Repository)(nil)

// Open creates or opens the database and its schema.
func Open(cfg Config) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
		}
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log := logging.WithComponent("sqlitestate")
	log.Debug().Str("db_path", cfg.DBPath).Str("synchronous", cfg.Synchronous).Msg("opened state repository")
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS step_execution (
			job TEXT NOT NULL,
			step TEXT NOT NULL,
			id TEXT NOT NULL,
			status TEXT NOT NULL,
			context TEXT NOT NULL,
			read_count INTEGER NOT NULL DEFAULT 0,
			write_count INTEGER NOT NULL DEFAULT 0,
			filter_count INTEGER NOT NULL DEFAULT 0,
			commit_count INTEGER NOT NULL DEFAULT 0,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL DEFAULT '',
			exit_message TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job, step)
		)
	`)
	if err != nil {
		return fmt.Errorf("create step_execution table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Load returns the latest execution of job/step, or nil if there is none.
func (r *Repository) Load(ctx context.Context, job, step string) (*batch.StepExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, context, read_count, write_count, filter_count,
		       commit_count, start_time, end_time, exit_message
		FROM step_execution WHERE job = ? AND step = ?`, job, step)

	exec := &batch.StepExecution{Job: job, Step: step, Context: batch.NewExecutionContext()}
	var status, ctxJSON, start, end string
	err := row.Scan(&exec.ID, &status, &ctxJSON, &exec.ReadCount, &exec.WriteCount,
		&exec.FilterCount, &exec.CommitCount, &start, &end, &exec.ExitMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", job, step, err)
	}

	exec.Status = batch.Status(status)
	if err := json.Unmarshal([]byte(ctxJSON), exec.Context); err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", job, step, err)
	}
	if exec.StartTime, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("load %s/%s start time: %w", job, step, err)
	}
	if exec.EndTime, err = parseTime(end); err != nil {
		return nil, fmt.Errorf("load %s/%s end time: %w", job, step, err)
	}
	return exec, nil
}

// Save upserts exec as the latest execution of its step.
func (r *Repository) Save(ctx context.Context, exec *batch.StepExecution) error {
	ec := exec.Context
	if ec == nil {
		ec = batch.NewExecutionContext()
	}
	ctxJSON, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("encode execution context: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_execution (job, step, id, status, context, read_count,
			write_count, filter_count, commit_count, start_time, end_time, exit_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job, step) DO UPDATE SET
			id = excluded.id,
			status = excluded.status,
			context = excluded.context,
			read_count = excluded.read_count,
			write_count = excluded.write_count,
			filter_count = excluded.filter_count,
			commit_count = excluded.commit_count,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			exit_message = excluded.exit_message`,
		exec.Job, exec.Step, exec.ID, string(exec.Status), string(ctxJSON),
		exec.ReadCount, exec.WriteCount, exec.FilterCount, exec.CommitCount,
		formatTime(exec.StartTime), formatTime(exec.EndTime), exec.ExitMessage)
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", exec.Job, exec.Step, err)
	}
	return nil
}

// Delete removes the execution of job/step so the next run starts fresh.
func (r *Repository) Delete(ctx context.Context, job, step string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM step_execution WHERE job = ? AND step = ?", job, step); err != nil {
		return fmt.Errorf("delete %s/%s: %w", job, step, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
