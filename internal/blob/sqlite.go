package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	key          TEXT PRIMARY KEY,
	data         BLOB NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	updated_at   INTEGER NOT NULL
)`

// SQLiteStore keeps blobs in a single SQLite table, for single-node
// deployments without an object store.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, content_type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at`,
		key, data, contentType, time.Now().UnixMilli())
	if err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeReadFailed, true, err)
	}
	return data, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Object, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, length(data), content_type, updated_at
		FROM blobs
		WHERE substr(key, 1, ?) = ?
		ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, wrapError(CodeReadFailed, true, err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var (
			obj     Object
			updated int64
		)
		if err := rows.Scan(&obj.Key, &obj.Size, &obj.ContentType, &updated); err != nil {
			return nil, wrapError(CodeReadFailed, true, err)
		}
		obj.LastModified = time.UnixMilli(updated)
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(CodeReadFailed, true, err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
