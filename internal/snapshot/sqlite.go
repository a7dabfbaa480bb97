package snapshot

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

	"snapdiff/internal/artifact"
	"snapdiff/internal/refkey"
)

// SQLiteStore keeps references as rows in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (and creates/migrates) the reference database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, storageErr("open", "", errors.New("empty database path"))
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, storageErr("open", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Pragmas
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, storageErr("open", path, fmt.Errorf("set WAL: %w", err))
		}
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=5000;")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")

	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("open", path, err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var ver int
	_ = s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver)
	if ver == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS snapshots (
  location    TEXT PRIMARY KEY,
  fingerprint TEXT NOT NULL,
  kind        TEXT NOT NULL,
  width       INTEGER NOT NULL DEFAULT 0,
  height      INTEGER NOT NULL DEFAULT 0,
  data        BLOB NOT NULL,
  checksum    TEXT NOT NULL,
  updated_at  INTEGER NOT NULL
);
`)
		if err == nil {
			_, err = tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON snapshots(updated_at);")
		}
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

// Location returns the row key for a reference.
func (s *SQLiteStore) Location(key refkey.Key) string {
	return key.Location()
}

// Get loads the reference row for key.
func (s *SQLiteStore) Get(ctx context.Context, key refkey.Key) (artifact.Artifact, error) {
	loc := s.Location(key)
	var fingerprint, kind string
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, kind, data FROM snapshots WHERE location=?`, loc).Scan(&fingerprint, &kind, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return artifact.Artifact{}, ErrNotFound
		}
		return artifact.Artifact{}, storageErr("read", loc, err)
	}
	if err := checkOwner(loc, fingerprint, key); err != nil {
		return artifact.Artifact{}, err
	}
	return decode(loc, artifact.Kind(kind), data)
}

// Put upserts the reference row for key. A row owned by another key is
// left untouched.
func (s *SQLiteStore) Put(ctx context.Context, key refkey.Key, a artifact.Artifact) error {
	loc := s.Location(key)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots(location, fingerprint, kind, width, height, data, checksum, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(location) DO UPDATE SET
  fingerprint=excluded.fingerprint,
  kind=excluded.kind,
  width=excluded.width,
  height=excluded.height,
  data=excluded.data,
  checksum=excluded.checksum,
  updated_at=excluded.updated_at
WHERE snapshots.fingerprint IN ('', excluded.fingerprint)`,
		loc, key.Fingerprint(), string(a.Kind), a.Width, a.Height, a.Data, a.Checksum(), s.now().UnixNano())
	if err != nil {
		return storageErr("write", loc, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("write", loc, err)
	}
	if n == 0 {
		return s.ownerErr(ctx, loc, key, "write")
	}
	return nil
}

// Delete removes the reference row for key.
func (s *SQLiteStore) Delete(ctx context.Context, key refkey.Key) error {
	loc := s.Location(key)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE location=? AND fingerprint IN ('', ?)`, loc, key.Fingerprint())
	if err != nil {
		return storageErr("delete", loc, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete", loc, err)
	}
	if n == 0 {
		return s.ownerErr(ctx, loc, key, "delete")
	}
	return nil
}

// ownerErr explains why a statement scoped to key's fingerprint touched
// nothing: the row is missing or belongs to another key.
func (s *SQLiteStore) ownerErr(ctx context.Context, loc string, key refkey.Key, op string) error {
	var fingerprint string
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint FROM snapshots WHERE location=?`, loc).Scan(&fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return storageErr(op, loc, err)
	}
	if err := checkOwner(loc, fingerprint, key); err != nil {
		return err
	}
	return storageErr(op, loc, errors.New("no rows affected"))
}

// Exists reports whether a row is stored for key.
func (s *SQLiteStore) Exists(ctx context.Context, key refkey.Key) (bool, error) {
	loc := s.Location(key)
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE location=?`, loc).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storageErr("read", loc, err)
	}
	return true, nil
}

// List returns every stored row without its data.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT location, kind, length(data), width, height, checksum, updated_at
FROM snapshots ORDER BY location`)
	if err != nil {
		return nil, storageErr("list", s.path, err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			kind    string
			updated int64
		)
		if err := rows.Scan(&sum.Location, &kind, &sum.Size, &sum.Width, &sum.Height, &sum.Checksum, &updated); err != nil {
			return nil, storageErr("list", s.path, err)
		}
		sum.Kind = artifact.Kind(kind)
		sum.UpdatedAt = time.Unix(0, updated).UTC()
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", s.path, err)
	}
	return summaries, nil
}

// Prune deletes rows last written before now minus olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, storageErr("delete", s.path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete", s.path, err)
	}
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
