// Package postgres implements the persistence ports on PostgreSQL through
// sqlx. Records are stored in their canonical JSON encoding next to the
// columns queries filter on, so lookups stay relational while the domain
// types keep ownership of their shape.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	pkgerrors "acecore/pkg/errors"
)

const (
	// deadlockRetries bounds how often a deadlocked statement is replayed
	// before the failure surfaces to the caller.
	deadlockRetries = 2

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config carries the connection settings for a PostgreSQL store.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Retryable decides which statement failures are replayed.
	// Defaults to IsDeadlock.
	Retryable RetryPredicate
}

// RetryPredicate reports whether a statement failure is transient and worth
// replaying.
type RetryPredicate func(error) bool

// IsDeadlock matches PostgreSQL deadlock failures by SQLSTATE 40P01, falling
// back to a message check for connections that do not surface the code.
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01"
	}
	return strings.Contains(strings.ToLower(err.Error()), "deadlock")
}

// DB wraps the connection pool together with the retry policy shared by
// every store in this package.
type DB struct {
	*sqlx.DB
	logger    *zap.Logger
	retryable RetryPredicate
}

// Open connects a pooled database handle and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	pool, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = defaultConnMaxLifetime
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := NewDB(pool, logger)
	if cfg.Retryable != nil {
		db.retryable = cfg.Retryable
	}
	return db, nil
}

// NewDB wraps an existing pool with the default retry policy.
func NewDB(pool *sqlx.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: pool, logger: logger, retryable: IsDeadlock}
}

// retry replays op while it fails with a retryable error, waiting a short
// randomized delay between attempts so competing transactions interleave
// differently on the replay.
func (d *DB) retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(); err == nil || !d.retryable(err) {
			return err
		}
		if attempt == deadlockRetries {
			return pkgerrors.NewDeadlock(err)
		}

		delay := time.Duration(10+rand.Intn(40)) * time.Millisecond
		d.logger.Warn("statement deadlocked, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
