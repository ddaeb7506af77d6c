// Package store persists finished pipeline runs to SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dan-solli/themefinder/pkg/theme"
)

// Run is a persisted pipeline run: the result plus run metadata.
type Run struct {
	ID        string
	Question  string
	CreatedAt time.Time
	Result    theme.PipelineResult
}

// ResultStore defines the interface for run persistence.
type ResultStore interface {
	// SaveRun stores a finished run and returns its generated run id.
	SaveRun(ctx context.Context, question string, result *theme.PipelineResult) (string, error)

	// GetRun loads a stored run by id.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRunIDs returns stored run ids, newest first.
	ListRunIDs(ctx context.Context, limit int) ([]string, error)

	// Close releases the underlying database handle.
	Close() error
}

// SQLiteResultStore implements ResultStore using SQLite as the backend.
type SQLiteResultStore struct {
	db *sql.DB
}

// NewSQLiteResultStore creates a new SQLite-backed result store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteResultStore(dbPath string) (*SQLiteResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteResultStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteResultStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS themes (
		run_id TEXT NOT NULL,
		theme_id TEXT NOT NULL,
		label TEXT NOT NULL,
		description TEXT,
		position INTEGER NOT NULL,
		PRIMARY KEY (run_id, theme_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS assignments (
		run_id TEXT NOT NULL,
		response_id TEXT NOT NULL,
		theme_id TEXT NOT NULL,
		PRIMARY KEY (run_id, response_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS failures (
		run_id TEXT NOT NULL,
		response_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		detail TEXT,
		PRIMARY KEY (run_id, response_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_theme ON assignments(run_id, theme_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun stores a finished run in a single transaction.
func (s *SQLiteResultStore) SaveRun(ctx context.Context, question string, result *theme.PipelineResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result cannot be nil")
	}

	runID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO runs (id, question, created_at) VALUES (?, ?, ?)",
		runID, question, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for i, t := range result.Themes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO themes (run_id, theme_id, label, description, position) VALUES (?, ?, ?, ?, ?)",
			runID, t.ID, t.Label, t.Description, i); err != nil {
			return "", fmt.Errorf("failed to insert theme %s: %w", t.ID, err)
		}
	}

	for responseID, themeID := range result.Mapping {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO assignments (run_id, response_id, theme_id) VALUES (?, ?, ?)",
			runID, responseID, themeID); err != nil {
			return "", fmt.Errorf("failed to insert assignment %s: %w", responseID, err)
		}
	}

	for _, f := range result.Failures {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO failures (run_id, response_id, reason, attempts, detail) VALUES (?, ?, ?, ?, ?)",
			runID, f.ID, f.Reason, f.Attempts, f.Detail); err != nil {
			return "", fmt.Errorf("failed to insert failure %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}

	return runID, nil
}

// GetRun loads a stored run with its themes, assignments and failures.
func (s *SQLiteResultStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{ID: runID}
	run.Result.Mapping = make(map[string]string)

	err := s.db.QueryRowContext(ctx,
		"SELECT question, created_at FROM runs WHERE id = ?", runID).
		Scan(&run.Question, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT theme_id, label, description FROM themes WHERE run_id = ? ORDER BY position", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load themes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t theme.Canonical
		if err := rows.Scan(&t.ID, &t.Label, &t.Description); err != nil {
			return nil, fmt.Errorf("failed to scan theme: %w", err)
		}
		run.Result.Themes = append(run.Result.Themes, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate themes: %w", err)
	}

	assignRows, err := s.db.QueryContext(ctx,
		"SELECT response_id, theme_id FROM assignments WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	defer assignRows.Close()

	for assignRows.Next() {
		var responseID, themeID string
		if err := assignRows.Scan(&responseID, &themeID); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		run.Result.Mapping[responseID] = themeID
		for i := range run.Result.Themes {
			if run.Result.Themes[i].ID == themeID {
				run.Result.Themes[i].MemberResponseIDs = append(run.Result.Themes[i].MemberResponseIDs, responseID)
			}
		}
	}
	if err := assignRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}

	failRows, err := s.db.QueryContext(ctx,
		"SELECT response_id, reason, attempts, detail FROM failures WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load failures: %w", err)
	}
	defer failRows.Close()

	for failRows.Next() {
		var f theme.Failure
		var detail sql.NullString
		if err := failRows.Scan(&f.ID, &f.Reason, &f.Attempts, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Detail = detail.String
		run.Result.Failures = append(run.Result.Failures, f)
	}
	if err := failRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failures: %w", err)
	}

	return run, nil
}

// ListRunIDs returns stored run ids, newest first.
func (s *SQLiteResultStore) ListRunIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM runs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}
