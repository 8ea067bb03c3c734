package lesson

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS lessons (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL,
	cluster    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lessons_status ON lessons(status);
CREATE INDEX IF NOT EXISTS idx_lessons_cluster ON lessons(cluster);
`

// SQLiteRepository stores lessons in an embedded SQLite database.
// Each row holds the full lesson as JSON; status and cluster are
// denormalized for ad-hoc queries. Row sequence preserves insertion order.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, l *Lesson) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling lesson: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO lessons (id, status, cluster, body, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		l.ID, string(l.Status), l.Metadata.WorkflowCluster, string(body), now())
	if err != nil {
		return fmt.Errorf("inserting lesson: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting lesson: %w", err)
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, l *Lesson) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling lesson: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE lessons SET status = ?, cluster = ?, body = ?, updated_at = ? WHERE id = ?`,
		string(l.Status), l.Metadata.WorkflowCluster, string(body), now(), l.ID)
	if err != nil {
		return fmt.Errorf("updating lesson: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating lesson: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Lesson, error) {
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM lessons WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting lesson: %w", err)
	}
	return decodeLesson(body)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*Lesson, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT body FROM lessons ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing lessons: %w", err)
	}
	defer rows.Close()

	var out []*Lesson
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning lesson: %w", err)
		}
		l, err := decodeLesson(body)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func decodeLesson(body string) (*Lesson, error) {
	var l Lesson
	if err := json.Unmarshal([]byte(body), &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return &l, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

var _ Repository = (*SQLiteRepository)(nil)
