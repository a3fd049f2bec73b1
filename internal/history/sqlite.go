package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteBackend stores history in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	// MaxPageCount caps the database size in pages. Writes beyond it fail
	// with ErrCapacity. Zero leaves SQLite's default.
	MaxPageCount int
}

// OpenSQLite opens (and creates/migrates) the database at path.
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	// Ensure file exists with strict perms
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create database file: %w", err)
		}
		f.Close()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps PRAGMAs such as max_page_count in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=5000;")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")
	if opts.MaxPageCount > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA max_page_count=%d;", opts.MaxPageCount)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set max_page_count: %w", err)
		}
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	var ver int
	_ = b.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver)

	// v1: conversations
	if ver == 0 {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
  thread_id  TEXT PRIMARY KEY,
  payload    BLOB NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_updated_at ON conversations(updated_at);
`)
		if err == nil {
			_, err = tx.ExecContext(ctx, "PRAGMA user_version=1;")
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate v1: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLiteBackend) Load(ctx context.Context, threadID string) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM conversations WHERE thread_id=?`, threadID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", threadID, err)
	}
	return payload, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, threadID string, data []byte, updatedAt time.Time) error {
	_, err := b.db.ExecContext(ctx, `INSERT INTO conversations(thread_id, payload, updated_at)
VALUES(?,?,?)
ON CONFLICT(thread_id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at;
`, threadID, data, updatedAt.UnixMilli())
	if isFull(err) {
		return fmt.Errorf("save %s: %w", threadID, ErrCapacity)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", threadID, err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, threadID string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM conversations WHERE thread_id=?`, threadID); err != nil {
		return fmt.Errorf("delete %s: %w", threadID, err)
	}
	return nil
}

func (b *SQLiteBackend) Prune(ctx context.Context, olderThan time.Time, keep int) (int, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune by age: %w", err)
	}
	n, _ := res.RowsAffected()
	removed := int(n)

	if keep > 0 {
		res, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE thread_id IN (
  SELECT thread_id FROM conversations ORDER BY updated_at DESC LIMIT -1 OFFSET ?
)`, keep)
		if err != nil {
			return 0, fmt.Errorf("prune by count: %w", err)
		}
		n, _ = res.RowsAffected()
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func isFull(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_FULL
	}
	return false
}
