package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStorage serves sqlite:// connection strings.
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
	closed atomic.Bool
}

func NewSQLiteStorage(dbPath string, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Wait up to 5 seconds for locks held by concurrent writers
	connStr := "file:" + dbPath + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &SQLiteStorage{db: db, logger: logger.With(zap.String("store", "sqlite"))}, nil
}

// Migrate creates the schema. It is safe to run repeatedly.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			pattern TEXT,
			interval_seconds INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS check_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			pattern TEXT,
			started_at DATETIME NOT NULL,
			elapsed_seconds REAL NOT NULL,
			timeout_error BOOLEAN NOT NULL DEFAULT 0,
			host_error BOOLEAN NOT NULL DEFAULT 0,
			other_error BOOLEAN NOT NULL DEFAULT 0,
			status_code INTEGER,
			pattern_match BOOLEAN
		)`,
		`CREATE INDEX IF NOT EXISTS idx_check_results_started_at ON check_results(started_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) IsDatastoreReady(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('checks', 'check_results')`,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying schema: %w", err)
	}
	return n == 2, nil
}

func (s *SQLiteStorage) InitDatastore(ctx context.Context) (bool, error) {
	if err := s.Migrate(ctx); err != nil {
		return false, err
	}
	return s.IsDatastoreReady(ctx)
}

func (s *SQLiteStorage) IsClosed() bool {
	return s.closed.Load()
}

// Close is idempotent; both ports share the handle.
func (s *SQLiteStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Checks

func (s *SQLiteStorage) Upsert(ctx context.Context, check ScheduledCheck) (int64, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO checks (url, pattern, interval_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			pattern = excluded.pattern,
			interval_seconds = excluded.interval_seconds,
			updated_at = excluded.updated_at
	`, check.URL(), nullString(check.Pattern()), nullInterval(check), now, now)
	if err != nil {
		return 0, fmt.Errorf("upserting check: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) ReadN(ctx context.Context, limit int) ([]ScheduledCheck, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, pattern, interval_seconds FROM checks ORDER BY id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	defer rows.Close()

	return scanChecks(rows)
}

func (s *SQLiteStorage) ReadAll(ctx context.Context) ([]ScheduledCheck, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT url, pattern, interval_seconds FROM checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	defer rows.Close()

	return scanChecks(rows)
}

func (s *SQLiteStorage) Delete(ctx context.Context, url string) (int64, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM checks WHERE url = ?", url)
	if err != nil {
		return 0, fmt.Errorf("deleting check: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) DeleteAll(ctx context.Context, confirm bool) (int64, error) {
	if !confirm {
		logUnconfirmedDeleteAll(s.logger)
		return 0, nil
	}
	if s.IsClosed() {
		return 0, ErrClosed
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM checks")
	if err != nil {
		return 0, fmt.Errorf("deleting all checks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

func scanChecks(rows *sql.Rows) ([]ScheduledCheck, error) {
	var checks []ScheduledCheck
	for rows.Next() {
		var (
			url      string
			pattern  sql.NullString
			interval sql.NullInt64
		)
		if err := rows.Scan(&url, &pattern, &interval); err != nil {
			return nil, fmt.Errorf("scanning check: %w", err)
		}
		checks = append(checks, checkFromRow(url, pattern.String, interval.Int64))
	}
	return checks, rows.Err()
}

// Results

func (s *SQLiteStorage) Write(ctx context.Context, r CheckResult) (int64, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	cols := resultToColumns(r)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO check_results (url, pattern, started_at, elapsed_seconds,
			timeout_error, host_error, other_error, status_code, pattern_match)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cols.url, cols.pattern, cols.startedAt, cols.elapsed,
		cols.timeout, cols.host, cols.other, cols.status, cols.match)
	if err != nil {
		return 0, fmt.Errorf("inserting result: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) ReadLastN(ctx context.Context, limit int) ([]CheckResult, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, pattern, started_at, elapsed_seconds,
			timeout_error, host_error, other_error, status_code, pattern_match
		FROM check_results
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var results []CheckResult
	for rows.Next() {
		var (
			cols    resultColumns
			pattern sql.NullString
			status  sql.NullInt64
			match   sql.NullBool
		)
		if err := rows.Scan(&cols.url, &pattern, &cols.startedAt, &cols.elapsed,
			&cols.timeout, &cols.host, &cols.other, &status, &match); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if pattern.Valid {
			cols.pattern = &pattern.String
		}
		if status.Valid {
			v := int(status.Int64)
			cols.status = &v
		}
		if match.Valid {
			cols.match = &match.Bool
		}
		results = append(results, cols.result())
	}
	return results, rows.Err()
}
