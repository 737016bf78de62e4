// Package store provides the durable SQLite-backed tables for episodes,
// patterns, and lessons.
//
// The store is the single owner of all three entity tables. It exposes typed
// read/write accessors rather than a generic table API; every logical
// operation that pairs an existence check with a write (refresh-or-insert of
// a pattern by description) runs inside one transaction so concurrent
// callers serialized by SQLite cannot lose updates.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// ErrRowNotFound is returned by Get* methods when no row matches the id.
var ErrRowNotFound = errors.New("row not found")

// Outcome is the result classification of an attempted operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Valid reports whether the outcome is one of the three known values.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomePartial
}

// Store is a handle to the episodic memory database.
//
// There is no ambient process-wide instance; the daemon constructs one store
// and passes it to each engine component, and tests construct an isolated
// store per test case.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Options configures the SQLite connection pool.
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  time.Duration
}

// DefaultOptions returns pool settings suitable for a single-daemon writer.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  30 * time.Second,
	}
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Pass ":memory:" for an in-memory database in tests.
func Open(path string, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=1",
		path, opts.BusyTimeout.Milliseconds())
	if path == ":memory:" {
		// WAL is meaningless in memory; a shared cache keeps the schema
		// visible across pooled connections.
		dsn = "file::memory:?mode=memory&cache=shared&_foreign_keys=1"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	logger.Debug("store opened", zap.String("path", path))

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats summarizes table sizes and score aggregates.
type Stats struct {
	TotalEpisodes      int64              `json:"total_episodes"`
	EpisodesByOutcome  map[Outcome]int64  `json:"episodes_by_outcome"`
	AverageUtility     float64            `json:"average_utility"`
	TotalPatterns      int64              `json:"total_patterns"`
	ActiveLessons      int64              `json:"active_lessons"`
	DeprecatedLessons  int64              `json:"deprecated_lessons"`
}

// ReadStats computes current table statistics.
func (s *Store) ReadStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{EpisodesByOutcome: make(map[Outcome]int64)}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(utility_score), 0) FROM episodes`)
	if err := row.Scan(&stats.TotalEpisodes, &stats.AverageUtility); err != nil {
		return nil, fmt.Errorf("counting episodes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM episodes GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("grouping episodes by outcome: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome Outcome
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scanning outcome count: %w", err)
		}
		stats.EpisodesByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcome counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patterns`).Scan(&stats.TotalPatterns); err != nil {
		return nil, fmt.Errorf("counting patterns: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lessons WHERE deprecated_at IS NULL`).Scan(&stats.ActiveLessons); err != nil {
		return nil, fmt.Errorf("counting active lessons: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lessons WHERE deprecated_at IS NOT NULL`).Scan(&stats.DeprecatedLessons); err != nil {
		return nil, fmt.Errorf("counting deprecated lessons: %w", err)
	}

	return stats, nil
}

// millis converts a time to the unix-millisecond representation used in the
// schema. Zero times map to 0.
func millis(t time.Time) int64 {
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
