// Package sqlite archives finished research runs in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Record is one archived run.
type Record struct {
	ID           string    `db:"id"`
	Goal         string    `db:"goal"`
	Title        string    `db:"title"`
	Body         string    `db:"body"`
	Completeness int       `db:"completeness"`
	Depth        int       `db:"depth"`
	Iterations   int       `db:"iterations"`
	Findings     int       `db:"findings"`
	SourceCount  int       `db:"source_count"`
	CreatedAt    time.Time `db:"created_at"`
}

// ErrNotFound is returned when no archived run matches the ID.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	goal         TEXT NOT NULL,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL,
	completeness INTEGER NOT NULL DEFAULT 0,
	depth        INTEGER NOT NULL DEFAULT 0,
	iterations   INTEGER NOT NULL DEFAULT 0,
	findings     INTEGER NOT NULL DEFAULT 0,
	source_count INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at DESC);
`

// Store wraps the archive database.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the archive at path. ":memory:" works
// for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite3"), logger: logger}
}

func (s *Store) Close() error { return s.db.Close() }

// Save inserts or replaces an archived run.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, goal, title, body, completeness, depth, iterations, findings, source_count, created_at)
		VALUES
			(:id, :goal, :title, :body, :completeness, :depth, :iterations, :findings, :source_count, :created_at)`,
		rec)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	s.logger.Debug("Run archived", zap.String("run_id", rec.ID))
	return nil
}

// Get returns one archived run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the most recent archived runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}
