package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	scope       TEXT NOT NULL,
	tags        TEXT NOT NULL DEFAULT '[]',
	source_file TEXT,
	language    TEXT,
	importance  REAL NOT NULL DEFAULT 1.0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	custom      TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at DESC);
`

// sqliteStore is the persistent backend for one database file. Multiple
// processes may share the file; all cross-process exclusion is delegated
// to SQLite's WAL locking.
type sqliteStore struct {
	db   *sql.DB
	path string
}

// openSQLite opens (creating if needed) a single-file database in WAL
// mode. journal_mode returns a result row, so it must be read back
// rather than fired off as a plain statement.
func openSQLite(path string) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection per handle: the Store serializes access anyway and
	// a single writer avoids intra-process lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode = WAL").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &sqliteStore{db: db, path: path}, nil
}

func (s *sqliteStore) insert(ctx context.Context, m *Memory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	custom, err := encodeCustom(m.Custom)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, scope, tags, source_file, language,
			importance, created_at, updated_at, version, custom)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Scope), string(tags),
		nullable(m.SourceFile), nullable(m.Language), m.Importance,
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli(), m.Version, custom)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	return nil
}

func (s *sqliteStore) get(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, scope, tags, source_file, language,
			importance, created_at, updated_at, version, custom
		FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *sqliteStore) update(ctx context.Context, m *Memory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	custom, err := encodeCustom(m.Custom)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET content = ?, tags = ?, source_file = ?, language = ?,
			importance = ?, updated_at = ?, version = ?, custom = ?
		WHERE id = ?`,
		m.Content, string(tags), nullable(m.SourceFile), nullable(m.Language),
		m.Importance, m.UpdatedAt.UnixMilli(), m.Version, custom, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// list returns memories newest first. A non-positive limit means no limit.
func (s *sqliteStore) list(ctx context.Context, limit, offset int) ([]*Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, scope, tags, source_file, language,
			importance, created_at, updated_at, version, custom
		FROM memories ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	return out, nil
}

func (s *sqliteStore) count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		m                    Memory
		scope, tags          string
		sourceFile, language sql.NullString
		custom               sql.NullString
		created, updated     int64
	)
	err := row.Scan(&m.ID, &m.Content, &scope, &tags, &sourceFile, &language,
		&m.Importance, &created, &updated, &m.Version, &custom)
	if err != nil {
		return nil, err
	}

	m.Scope = Scope(scope)
	m.SourceFile = sourceFile.String
	m.Language = language.String
	m.CreatedAt = time.UnixMilli(created).UTC()
	m.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", m.ID, err)
	}
	if custom.Valid && custom.String != "" {
		if err := json.Unmarshal([]byte(custom.String), &m.Custom); err != nil {
			return nil, fmt.Errorf("failed to decode custom data for %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func encodeCustom(custom map[string]any) (any, error) {
	if custom == nil {
		return nil, nil
	}
	data, err := json.Marshal(custom)
	if err != nil {
		return nil, fmt.Errorf("failed to encode custom data: %w", err)
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
