package objectstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"postforge/internal/services"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS objects (
	key TEXT PRIMARY KEY,
	body BLOB NOT NULL,
	content_type TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLite stores objects in a single-file database so a whole pipeline can
// run on one host without an object store.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the object database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := retryOnBusy(ctx, func() error {
		keys = keys[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT key FROM objects WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storageError("list", prefix, err)
	}
	return keys, nil
}

func (s *SQLite) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT body FROM objects WHERE key = ?`, key).Scan(&body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, storageError("read", key, err)
	}
	return body, nil
}

func (s *SQLite) ReadJSON(ctx context.Context, key string) (Payload, error) {
	body, err := s.ReadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodePayload(key, body)
}

func (s *SQLite) WriteJSON(ctx context.Context, key string, payload Payload) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	return s.WriteBinary(ctx, key, data, ContentTypeJSON)
}

func (s *SQLite) WriteBinary(ctx context.Context, key string, data []byte, contentType string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO objects (key, body, content_type, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET body = excluded.body, content_type = excluded.content_type, updated_at = excluded.updated_at`,
			key, data, contentType, now)
		return err
	})
	if err != nil {
		return storageError("write", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return storageError("delete", key, err)
	}
	return nil
}

func storageError(op, key string, err error) error {
	return services.Wrap(services.ErrTransient, "objectstore", op, key, err)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
