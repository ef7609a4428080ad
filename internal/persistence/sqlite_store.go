package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/internal/source"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

var _ jobs.Store = (*SQLiteStore)(nil)

// SQLiteStore keeps jobs in an embedded database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, browser, created_at FROM jobs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	ret := make([]*jobs.Job, 0)
	byID := make(map[string]*jobs.Job)
	for rows.Next() {
		var job jobs.Job
		var kind string
		if err := rows.Scan(&job.ID, &kind, &job.Browser, &job.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		job.Source = source.Kind(kind)
		ret = append(ret, &job)
		byID[job.ID] = &job
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := s.db.QueryContext(ctx,
		`SELECT job_id, idx, url, status, result_file, error, started_at, finished_at
		 FROM job_items
		 ORDER BY job_id ASC, idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("query job items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var jobID, status string
		var item jobs.Item
		var startedAt, finishedAt sql.NullTime
		if err := itemRows.Scan(&jobID, &item.Index, &item.URL, &status, &item.ResultFile, &item.Error, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		job, ok := byID[jobID]
		if !ok {
			continue
		}
		item.Status = jobs.ItemStatus(status)
		item.StartedAt = startedAt.Time
		item.FinishedAt = finishedAt.Time
		job.Items = append(job.Items, item)
	}
	return ret, itemRows.Err()
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, source, browser, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source=excluded.source,
			browser=excluded.browser`,
		job.ID, string(job.Source), job.Browser, job.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	for _, item := range job.Items {
		if err := upsertItem(ctx, tx, job.ID, item); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, jobID string, item jobs.Item) error {
	return upsertItem(ctx, s.db, jobID, item)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_items WHERE job_id = ?`, jobID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertItem(ctx context.Context, db execer, jobID string, item jobs.Item) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO job_items (job_id, idx, url, status, result_file, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id, idx) DO UPDATE SET
			status=excluded.status,
			result_file=excluded.result_file,
			error=excluded.error,
			started_at=excluded.started_at,
			finished_at=excluded.finished_at`,
		jobID,
		item.Index,
		item.URL,
		string(item.Status),
		item.ResultFile,
		item.Error,
		nullTime(item.StartedAt),
		nullTime(item.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert item %d of job %s: %w", item.Index, jobID, err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
