// Package runstore persists a local ledger of detached sandbox runs so
// stale containers can be found and cleaned up after crashes or restarts.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded detached sandbox run.
type Run struct {
	RunID         string `json:"run_id"`
	Backend       string `json:"backend"`
	ContainerName string `json:"container_name"`
	WorkspacePath string `json:"workspace_path"`
	Port          int    `json:"port"`

	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64 `json:"updated_at_unix_ms"`
}

// Store is a sqlite-backed run ledger.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing runstore path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	// modernc.org/sqlite uses a file path as DSN.
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Keep the connection open (single-process local DB).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun inserts or refreshes the record for a run id.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return errors.New("runstore not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.RunID = strings.TrimSpace(r.RunID)
	r.Backend = strings.TrimSpace(r.Backend)
	r.ContainerName = strings.TrimSpace(r.ContainerName)
	r.WorkspacePath = strings.TrimSpace(r.WorkspacePath)
	if r.RunID == "" {
		return errors.New("missing run_id")
	}

	now := time.Now().UnixMilli()
	if r.CreatedAtUnixMs <= 0 {
		r.CreatedAtUnixMs = now
	}
	if r.UpdatedAtUnixMs <= 0 {
		r.UpdatedAtUnixMs = r.CreatedAtUnixMs
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sandbox_runs(
  run_id, backend, container_name, workspace_path, port,
  created_at_unix_ms, updated_at_unix_ms
) VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  backend = excluded.backend,
  container_name = excluded.container_name,
  workspace_path = excluded.workspace_path,
  port = excluded.port,
  updated_at_unix_ms = excluded.updated_at_unix_ms
`,
		r.RunID,
		r.Backend,
		r.ContainerName,
		r.WorkspacePath,
		r.Port,
		r.CreatedAtUnixMs,
		r.UpdatedAtUnixMs,
	)
	return err
}

// ListRuns returns all recorded runs, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("runstore not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, backend, container_name, workspace_path, port, created_at_unix_ms, updated_at_unix_ms
FROM sandbox_runs
ORDER BY created_at_unix_ms ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.RunID,
			&r.Backend,
			&r.ContainerName,
			&r.WorkspacePath,
			&r.Port,
			&r.CreatedAtUnixMs,
			&r.UpdatedAtUnixMs,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run, nil when absent.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("runstore not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return nil, errors.New("missing runID")
	}

	var r Run
	err := s.db.QueryRowContext(ctx, `
SELECT run_id, backend, container_name, workspace_path, port, created_at_unix_ms, updated_at_unix_ms
FROM sandbox_runs
WHERE run_id = ?
`, id).Scan(
		&r.RunID,
		&r.Backend,
		&r.ContainerName,
		&r.WorkspacePath,
		&r.Port,
		&r.CreatedAtUnixMs,
		&r.UpdatedAtUnixMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// DeleteRun removes one run record.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if s == nil || s.db == nil {
		return errors.New("runstore not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return errors.New("missing run_id")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sandbox_runs WHERE run_id = ?`, id)
	return err
}

// DeleteRunsByContainer removes every record pointing at a container name,
// used when cleanup removes the container itself.
func (s *Store) DeleteRunsByContainer(ctx context.Context, containerName string) error {
	if s == nil || s.db == nil {
		return errors.New("runstore not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name := strings.TrimSpace(containerName)
	if name == "" {
		return errors.New("missing container_name")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sandbox_runs WHERE container_name = ?`, name)
	return err
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}

	// WAL is safer for local concurrent readers.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}

	// Schema versions:
	// - v1: initial sandbox_runs table
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sandbox_runs (
  run_id TEXT PRIMARY KEY,
  backend TEXT NOT NULL DEFAULT '',
  container_name TEXT NOT NULL DEFAULT '',
  workspace_path TEXT NOT NULL DEFAULT '',
  port INTEGER NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("create table v1: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d;", targetVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
