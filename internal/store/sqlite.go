package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite stores blobs in a single kv table.
type SQLite struct {
	db     *sql.DB
	logger log.Logger
}

// OpenSQLite opens (or creates) the database at dsn, e.g. "file:state.db".
func OpenSQLite(ctx context.Context, dsn string, logger log.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open sqlite %s", dsn)
	}
	// one writer keeps SQLITE_BUSY out of the best-effort path
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, xerrors.Wrap(err, "create kv table")
	}
	return &SQLite{db: db, logger: log.OrNop(logger)}, nil
}

func (s *SQLite) Get(key string) ([]byte, bool) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn(context.Background(), "store: sqlite get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return value, true
}

func (s *SQLite) Set(key string, value []byte) {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "store: sqlite set failed", "key", key, "error", err)
	}
}

func (s *SQLite) Delete(key string) {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		s.logger.Warn(context.Background(), "store: sqlite delete failed", "key", key, "error", err)
	}
}

func (s *SQLite) Close() error { return s.db.Close() }
