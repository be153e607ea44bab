package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStorage serves postgres:// and postgresql:// connection strings
// from one connection pool shared by both ports.
type PostgresStorage struct {
	pool       *pgxpool.Pool
	connString string
	logger     *zap.Logger
	closed     atomic.Bool
}

func NewPostgresStorage(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatastoreUnavailable, err)
	}
	return &PostgresStorage{
		pool:       pool,
		connString: connString,
		logger:     logger.With(zap.String("store", "postgres")),
	}, nil
}

func (s *PostgresStorage) IsDatastoreReady(ctx context.Context) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM pg_tables
		WHERE schemaname = current_schema() AND tablename IN ('checks', 'check_results')
	`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying pg_tables: %w", err)
	}
	return n == 2, nil
}

// InitDatastore applies the embedded migrations. ctx cancellation stops the
// migration between steps.
func (s *PostgresStorage) InitDatastore(ctx context.Context) (bool, error) {
	db, err := sql.Open("pgx", s.connString)
	if err != nil {
		return false, fmt.Errorf("opening migration connection: %w", err)
	}

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return false, fmt.Errorf("creating migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return false, fmt.Errorf("reading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		db.Close()
		return false, fmt.Errorf("creating migration instance: %w", err)
	}
	defer m.Close()

	if deadline, ok := ctx.Deadline(); ok {
		m.LockTimeout = time.Until(deadline)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return false, fmt.Errorf("running migrations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.IsDatastoreReady(ctx)
}

func (s *PostgresStorage) IsClosed() bool {
	return s.closed.Load()
}

func (s *PostgresStorage) Close() error {
	if !s.closed.Swap(true) {
		s.pool.Close()
	}
	return nil
}

// Checks

func (s *PostgresStorage) Upsert(ctx context.Context, check ScheduledCheck) (int64, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO checks (url, pattern, interval_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO UPDATE SET
			pattern = EXCLUDED.pattern,
			interval_seconds = EXCLUDED.interval_seconds,
			updated_at = now()
	`, check.URL(), nullString(check.Pattern()), nullInterval(check))
	if err != nil {
		return 0, fmt.Errorf("upserting check: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStorage) ReadN(ctx context.Context, limit int) ([]ScheduledCheck, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT url, pattern, interval_seconds FROM checks ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	return collectChecks(rows)
}

func (s *PostgresStorage) ReadAll(ctx context.Context) ([]ScheduledCheck, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	rows, err := s.pool.Query(ctx, `SELECT url, pattern, interval_seconds FROM checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying checks: %w", err)
	}
	return collectChecks(rows)
}

func collectChecks(rows pgx.Rows) ([]ScheduledCheck, error) {
	checks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScheduledCheck, error) {
		var (
			url      string
			pattern  *string
			interval *int64
		)
		if err := row.Scan(&url, &pattern, &interval); err != nil {
			return ScheduledCheck{}, err
		}
		var p string
		if pattern != nil {
			p = *pattern
		}
		var secs int64
		if interval != nil {
			secs = *interval
		}
		return checkFromRow(url, p, secs), nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning checks: %w", err)
	}
	return checks, nil
}

func (s *PostgresStorage) Delete(ctx context.Context, url string) (int64, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM checks WHERE url = $1`, url)
	if err != nil {
		return 0, fmt.Errorf("deleting check: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll truncates the table, which reports no row count.
func (s *PostgresStorage) DeleteAll(ctx context.Context, confirm bool) (int64, error) {
	if !confirm {
		logUnconfirmedDeleteAll(s.logger)
		return 0, nil
	}
	if s.IsClosed() {
		return 0, ErrClosed
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE checks`); err != nil {
		return 0, fmt.Errorf("truncating checks: %w", err)
	}
	return -1, nil
}

// Results

func (s *PostgresStorage) Write(ctx context.Context, r CheckResult) (int64, error) {
	if s.IsClosed() {
		return 0, ErrClosed
	}
	cols := resultToColumns(r)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO check_results (url, pattern, started_at, elapsed_seconds,
			timeout_error, host_error, other_error, status_code, pattern_match)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, cols.url, cols.pattern, cols.startedAt, cols.elapsed,
		cols.timeout, cols.host, cols.other, cols.status, cols.match)
	if err != nil {
		return 0, fmt.Errorf("inserting result: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStorage) ReadLastN(ctx context.Context, limit int) ([]CheckResult, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT url, pattern, started_at, elapsed_seconds,
			timeout_error, host_error, other_error, status_code, pattern_match
		FROM check_results
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CheckResult, error) {
		var cols resultColumns
		if err := row.Scan(&cols.url, &cols.pattern, &cols.startedAt, &cols.elapsed,
			&cols.timeout, &cols.host, &cols.other, &cols.status, &cols.match); err != nil {
			return CheckResult{}, err
		}
		return cols.result(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning results: %w", err)
	}
	return results, nil
}
