package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remotedev/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite persists lists, keys and sets in a single SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// Open initializes or connects to the database configured for the daemon.
func Open(cfg *config.Config) (*SQLite, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.StorePath())
}

// OpenPath opens the database at path, creating the schema when needed.
func OpenPath(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset)",
			ErrSchemaMismatch, version, schemaVersion, filepath.Base(s.path))
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *SQLite) Push(ctx context.Context, list string, value []byte) error {
	return s.exec(ctx,
		"INSERT INTO list_entries (list, value, created_at) VALUES (?, ?, ?)",
		list, value, nowString())
}

func (s *SQLite) Pop(ctx context.Context, list string) ([]byte, bool, error) {
	return s.queryValue(ctx,
		`DELETE FROM list_entries
		 WHERE seq = (SELECT seq FROM list_entries WHERE list = ? ORDER BY seq LIMIT 1)
		 RETURNING value`, list)
}

func (s *SQLite) Len(ctx context.Context, list string) (int, error) {
	var count int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM list_entries WHERE list = ?", list).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count list %s: %w", list, err)
	}
	return count, nil
}

func (s *SQLite) Range(ctx context.Context, list string, limit int) ([][]byte, error) {
	query := "SELECT value FROM list_entries WHERE list = ? ORDER BY seq"
	args := []any{list}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var values [][]byte
	err := s.queryRows(ctx, query, args, func(rows *sql.Rows) error {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return err
		}
		values = append(values, value)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("range list %s: %w", list, err)
	}
	return values, nil
}

func (s *SQLite) Lists(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.queryStrings(ctx,
		"SELECT DISTINCT list FROM list_entries WHERE substr(list, 1, length(?)) = ? ORDER BY list",
		prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list names %s: %w", prefix, err)
	}
	return names, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.queryValue(ctx, "SELECT value FROM kv WHERE key = ?", key)
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return s.exec(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowString())
}

func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete key %s: %w", key, err)
	}
	return affected > 0, nil
}

func (s *SQLite) Take(ctx context.Context, key string) ([]byte, bool, error) {
	return s.queryValue(ctx, "DELETE FROM kv WHERE key = ? RETURNING value", key)
}

func (s *SQLite) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	ctx = ensureContext(ctx)
	var query string
	var args []any
	switch {
	case prev == nil && next == nil:
		return false, nil
	case prev == nil:
		query = "INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING"
		args = []any{key, next, nowString()}
	case next == nil:
		query = "DELETE FROM kv WHERE key = ? AND value = ?"
		args = []any{key, prev}
	default:
		query = "UPDATE kv SET value = ?, updated_at = ? WHERE key = ? AND value = ?"
		args = []any{next, nowString(), key, prev}
	}
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("compare and swap %s: %w", key, err)
	}
	return affected > 0, nil
}

func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.queryStrings(ctx,
		"SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key",
		prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan keys %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *SQLite) SetAdd(ctx context.Context, set, member string) error {
	return s.exec(ctx, "INSERT OR IGNORE INTO set_members (name, member) VALUES (?, ?)", set, member)
}

func (s *SQLite) SetRemove(ctx context.Context, set, member string) error {
	return s.exec(ctx, "DELETE FROM set_members WHERE name = ? AND member = ?", set, member)
}

func (s *SQLite) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := s.queryStrings(ctx, "SELECT member FROM set_members WHERE name = ? ORDER BY member", set)
	if err != nil {
		return nil, fmt.Errorf("set members %s: %w", set, err)
	}
	return members, nil
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func (s *SQLite) queryValue(ctx context.Context, query string, args ...any) ([]byte, bool, error) {
	ctx = ensureContext(ctx)
	var value []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLite) queryRows(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

func (s *SQLite) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	err := s.queryRows(ctx, query, args, func(rows *sql.Rows) error {
		var value string
		if err := rows.Scan(&value); err != nil {
			return err
		}
		out = append(out, value)
		return nil
	})
	return out, err
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
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

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
