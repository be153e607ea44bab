package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/validate"
)

var (
	// ErrDatastoreUnavailable means the datastore is not ready and could not
	// be initialised.
	ErrDatastoreUnavailable = errors.New("datastore unavailable")
	ErrClosed               = errors.New("store is closed")
	ErrUnsupportedScheme    = errors.New("unsupported connection scheme")
)

// CheckStore persists scheduled checks keyed by URL.
type CheckStore interface {
	// Upsert inserts or replaces the check with the same URL.
	Upsert(ctx context.Context, check ScheduledCheck) (int64, error)
	ReadN(ctx context.Context, limit int) ([]ScheduledCheck, error)
	ReadAll(ctx context.Context) ([]ScheduledCheck, error)
	Delete(ctx context.Context, url string) (int64, error)
	// DeleteAll removes every check when confirm is true. Without
	// confirmation it is a logged no-op returning 0. -1 means unknown.
	DeleteAll(ctx context.Context, confirm bool) (int64, error)
	IsClosed() bool
	Close() error
}

// ResultStore persists check results.
type ResultStore interface {
	Write(ctx context.Context, result CheckResult) (int64, error)
	// ReadLastN returns up to limit results, most recent first.
	ReadLastN(ctx context.Context, limit int) ([]CheckResult, error)
	IsClosed() bool
	Close() error
}

// Bootstrapper reports and creates the datastore schema.
type Bootstrapper interface {
	IsDatastoreReady(ctx context.Context) (bool, error)
	InitDatastore(ctx context.Context) (bool, error)
}

// Store is a datastore serving every port.
type Store interface {
	CheckStore
	ResultStore
	Bootstrapper
}

// Open selects an adapter by the connection string's scheme.
func Open(ctx context.Context, connString string, logger *zap.Logger) (Store, error) {
	if _, err := validate.ConnString(connString, validate.StoreSchemes); err != nil {
		return nil, err
	}
	scheme, rest, _ := strings.Cut(connString, "://")
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return NewPostgresStorage(ctx, connString, logger)
	case "sqlite":
		return NewSQLiteStorage(rest, logger)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
}

// Bootstrap makes sure the datastore is usable, creating the schema when
// autoInit is set. It runs under its own timeout.
func Bootstrap(ctx context.Context, b Bootstrapper, autoInit bool, timeout time.Duration, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready, err := b.IsDatastoreReady(ctx)
	if err != nil {
		return fmt.Errorf("%w: checking readiness: %w", ErrDatastoreUnavailable, err)
	}
	if ready {
		return nil
	}
	if !autoInit {
		return fmt.Errorf("%w: schema missing and auto-init disabled", ErrDatastoreUnavailable)
	}

	logger.Info("initialising datastore")
	ok, err := b.InitDatastore(ctx)
	if err != nil {
		return fmt.Errorf("%w: initialising: %w", ErrDatastoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: initialisation did not complete", ErrDatastoreUnavailable)
	}
	return nil
}

func logUnconfirmedDeleteAll(logger *zap.Logger) {
	logger.Warn("delete_all_checks_not_confirmed", zap.String("hint", "pass confirm to delete every check"))
}
