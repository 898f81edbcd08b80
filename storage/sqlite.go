// Package storage provides SQLite persistence for research runs.
//
// Information Hiding:
// - SQLite connection management hidden behind ArtifactStorage
// - Schema details encapsulated
// - Sources and parameters stored as JSON columns

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/richinex/deepresearch/model"
)

// SqliteStorage implements ArtifactStorage using SQLite.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStorage struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStorage, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	return newSqliteStorage(db)
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every pooled connection would get its own empty database.
	db.SetMaxOpenConns(1)
	return newSqliteStorage(db)
}

func newSqliteStorage(db *sql.DB) (*SqliteStorage, error) {
	storage := &SqliteStorage{db: db}
	if err := storage.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return storage, nil
}

// Close closes the database connection.
func (s *SqliteStorage) Close() error {
	return s.db.Close()
}

func (s *SqliteStorage) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			started_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data_type TEXT,
			raw_data TEXT NOT NULL,
			processed_data TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			original_length INTEGER NOT NULL,
			processed_length INTEGER NOT NULL,
			sources TEXT,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, step_index)
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_hash
		ON artifacts(content_hash);

		CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			parameters TEXT,
			thought TEXT,
			observation TEXT NOT NULL,
			success INTEGER NOT NULL,
			key_finding TEXT,
			PRIMARY KEY (run_id, step_index)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun creates or updates a run record.
func (s *SqliteStorage) SaveRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (run_id, topic, started_at) VALUES (?, ?, ?)",
		run.ID, run.Topic, run.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun returns a run record.
func (s *SqliteStorage) LoadRun(ctx context.Context, runID string) (Run, bool, error) {
	var run Run
	var started int64
	err := s.db.QueryRowContext(ctx,
		"SELECT run_id, topic, started_at FROM runs WHERE run_id = ?", runID,
	).Scan(&run.ID, &run.Topic, &started)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("failed to load run: %w", err)
	}
	run.StartedAt = time.Unix(started, 0)
	return run, true, nil
}

// ListRuns returns all runs, newest first.
func (s *SqliteStorage) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, topic, started_at FROM runs ORDER BY started_at DESC, run_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		var started int64
		if err := rows.Scan(&run.ID, &run.Topic, &started); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// SaveArtifact stores the cache entry of one step.
func (s *SqliteStorage) SaveArtifact(ctx context.Context, runID string, entry CacheEntry) error {
	sources, err := json.Marshal(entry.Metadata.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO artifacts
		(run_id, step_index, tool_name, content_type, data_type, raw_data, processed_data,
		 content_hash, original_length, processed_length, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		entry.StepIndex,
		entry.Metadata.ToolName,
		string(entry.Metadata.ContentType),
		entry.Metadata.DataType,
		entry.RawData,
		entry.ProcessedData,
		entry.Metadata.ContentHash,
		entry.Metadata.OriginalLength,
		entry.Metadata.ProcessedLength,
		string(sources),
		entry.Metadata.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// LoadArtifacts returns a run's artifacts ordered by step index.
func (s *SqliteStorage) LoadArtifacts(ctx context.Context, runID string) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, tool_name, content_type, data_type, raw_data, processed_data,
		       content_hash, original_length, processed_length, sources, created_at
		FROM artifacts
		WHERE run_id = ?
		ORDER BY step_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var (
			e        CacheEntry
			ctype    string
			dataType sql.NullString
			sources  sql.NullString
			created  int64
		)
		err := rows.Scan(
			&e.StepIndex,
			&e.Metadata.ToolName,
			&ctype,
			&dataType,
			&e.RawData,
			&e.ProcessedData,
			&e.Metadata.ContentHash,
			&e.Metadata.OriginalLength,
			&e.Metadata.ProcessedLength,
			&sources,
			&created,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.Metadata.ContentType = model.ContentType(ctype)
		e.Metadata.DataType = dataType.String
		e.Metadata.Timestamp = time.Unix(created, 0)
		if sources.Valid && sources.String != "" && sources.String != "null" {
			if err := json.Unmarshal([]byte(sources.String), &e.Metadata.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode sources for step %d: %w", e.StepIndex, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iteration failed: %w", err)
	}
	return entries, nil
}

// SaveStep stores one step of the history at its 1-based index.
func (s *SqliteStorage) SaveStep(ctx context.Context, runID string, index int, step model.Step) error {
	params, err := json.Marshal(step.Action.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO steps
		(run_id, step_index, tool_name, parameters, thought, observation, success, key_finding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, index, step.Action.ToolName, string(params), step.Action.Thought,
		step.Observation, step.Success, step.KeyFinding)
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadSteps returns a run's step history in order.
func (s *SqliteStorage) LoadSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name, parameters, thought, observation, success, key_finding
		FROM steps
		WHERE run_id = ?
		ORDER BY step_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	steps := []model.Step{}
	for rows.Next() {
		var (
			st         model.Step
			params     sql.NullString
			thought    sql.NullString
			keyFinding sql.NullString
		)
		if err := rows.Scan(&st.Action.ToolName, &params, &thought, &st.Observation, &st.Success, &keyFinding); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Action.Thought = thought.String
		st.KeyFinding = keyFinding.String
		if params.Valid && params.String != "" && params.String != "null" {
			if err := json.Unmarshal([]byte(params.String), &st.Action.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode parameters: %w", err)
			}
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// DeleteRun removes a run and everything recorded for it.
func (s *SqliteStorage) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// defer tx.Rollback() is safe even after Commit() - it becomes a no-op
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"artifacts", "steps", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", runID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Verify SqliteStorage implements ArtifactStorage
var _ ArtifactStorage = (*SqliteStorage)(nil)
