// Package statestore persists task and build statuses in SQLite so that a
// crash between dispatch and completion is visible on the next start.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// SQLiteStore implements status.Store.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" for a private
// in-memory database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "open sqlite database").
			WithContext("path", path).Fatal().Build()
	}
	if path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "initialize status schema").Fatal().Build()
	}
	return store, nil
}

func dsn(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_status (
		name TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		build TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS build_status (
		name TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		failed_task TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL DEFAULT 0,
		finished_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_task_status ON task_status(status);
	CREATE INDEX IF NOT EXISTS idx_build_status ON build_status(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the handle so the event store can share the database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) SetTaskStatus(ctx context.Context, st domain.TaskStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_status (name, status, error, build, run_id, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			build = excluded.build,
			run_id = excluded.run_id,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		st.Name, string(st.Status), st.Error, st.Build, st.RunID,
		toMillis(st.StartedAt), toMillis(st.FinishedAt), toMillis(st.CreatedAt), toMillis(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert task status %q: %w", st.Name, err)
	}
	return nil
}

func (s *SQLiteStore) SetBuildStatus(ctx context.Context, st domain.BuildStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_status (name, status, error, failed_task, run_id, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			failed_task = excluded.failed_task,
			run_id = excluded.run_id,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		st.Name, string(st.Status), st.Error, st.FailedTask, st.RunID,
		toMillis(st.StartedAt), toMillis(st.FinishedAt), toMillis(st.CreatedAt), toMillis(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert build status %q: %w", st.Name, err)
	}
	return nil
}

func (s *SQLiteStore) LoadTaskStatuses(ctx context.Context) ([]domain.TaskStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, status, error, build, run_id, started_at, finished_at, created_at, updated_at FROM task_status ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query task statuses: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskStatus
	for rows.Next() {
		var st domain.TaskStatus
		var status string
		var started, finished, created, updated int64
		if err := rows.Scan(&st.Name, &status, &st.Error, &st.Build, &st.RunID, &started, &finished, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan task status: %w", err)
		}
		st.Status = domain.ParseStatus(status)
		st.StartedAt, st.FinishedAt = fromMillis(started), fromMillis(finished)
		st.CreatedAt, st.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) LoadBuildStatuses(ctx context.Context) ([]domain.BuildStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, status, error, failed_task, run_id, started_at, finished_at, created_at, updated_at FROM build_status ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query build statuses: %w", err)
	}
	defer rows.Close()

	var out []domain.BuildStatus
	for rows.Next() {
		var st domain.BuildStatus
		var status string
		var started, finished, created, updated int64
		if err := rows.Scan(&st.Name, &status, &st.Error, &st.FailedTask, &st.RunID, &started, &finished, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan build status: %w", err)
		}
		st.Status = domain.ParseStatus(status)
		st.StartedAt, st.FinishedAt = fromMillis(started), fromMillis(finished)
		st.CreatedAt, st.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
