package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one JSON document keyed by (kind, id) with an indexed status column.
type Record struct {
	Kind      string
	ID        string
	Status    string
	Body      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLiteRecords persists JSON records in a single SQLite table.
type SQLiteRecords struct {
	db *sql.DB
}

// NewSQLiteRecords opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteRecords(dbPath string) (*SQLiteRecords, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteRecords{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind_status ON records(kind, status);
	CREATE INDEX IF NOT EXISTS idx_records_kind_created ON records(kind, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces a record. CreatedAt is kept from the first insert.
func (s *SQLiteRecords) Put(ctx context.Context, r Record) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (kind, id, status, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kind, id) DO UPDATE SET
		   status = excluded.status, body = excluded.body, updated_at = excluded.updated_at`,
		r.Kind, r.ID, r.Status, string(r.Body), r.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", r.Kind, r.ID, err)
	}
	return nil
}

// Get returns one record.
func (s *SQLiteRecords) Get(ctx context.Context, kind, id string) (Record, error) {
	r := Record{Kind: kind, ID: id}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, body, created_at, updated_at FROM records WHERE kind = ? AND id = ?`,
		kind, id,
	).Scan(&r.Status, &body, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err != nil {
		return r, err
	}
	r.Body = []byte(body)
	return r, nil
}

// List returns every record of kind in insertion order. With statuses given, only
// records in one of them are returned.
func (s *SQLiteRecords) List(ctx context.Context, kind string, statuses ...string) ([]Record, error) {
	query := `SELECT id, status, body, created_at, updated_at FROM records WHERE kind = ?`
	args := []any{kind}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r := Record{Kind: kind}
		var body string
		if err := rows.Scan(&r.ID, &r.Status, &body, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Body = []byte(body)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *SQLiteRecords) Delete(ctx context.Context, kind, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id)
	return err
}

// Count returns the number of records of kind.
func (s *SQLiteRecords) Count(ctx context.Context, kind string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE kind = ?`, kind).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteRecords) Close() error {
	return s.db.Close()
}
