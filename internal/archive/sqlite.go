package archive

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

// SQLiteStore keeps the archive in a local database file. Used when no
// PostgreSQL URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create archive db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS session_archive (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			config_json TEXT NOT NULL DEFAULT '{}',
			system_prompt TEXT NOT NULL DEFAULT '',
			length INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			duration_minutes REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, session_id)
		);`,
		`CREATE INDEX IF NOT EXISTS session_archive_user_created_idx ON session_archive(user_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_archive (user_id, session_id, config_json, system_prompt, length, created_at_ms, ended_at_ms, summary, duration_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO UPDATE SET
			config_json=excluded.config_json,
			system_prompt=excluded.system_prompt,
			length=excluded.length,
			created_at_ms=excluded.created_at_ms,
			ended_at_ms=excluded.ended_at_ms,
			summary=excluded.summary,
			duration_minutes=excluded.duration_minutes`,
		r.UserID, r.SessionID, string(cfg), r.SystemPrompt, r.Length,
		r.CreatedAt.UnixMilli(), r.EndedAt.UnixMilli(), r.Summary, r.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("save archived session: %w", err)
	}
	return nil
}

const sqliteColumns = `user_id, session_id, config_json, system_prompt, length, created_at_ms, ended_at_ms, summary, duration_minutes`

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	query := `SELECT ` + sqliteColumns + ` FROM session_archive WHERE user_id=? ORDER BY created_at_ms DESC, session_id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archived sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID, sessionID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM session_archive WHERE user_id=? AND session_id=?`,
		userID, sessionID)
	r, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *SQLiteStore) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_archive WHERE user_id=? AND session_id=?`, userID, sessionID); err != nil {
		return fmt.Errorf("delete archived session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Analytics(ctx context.Context, userID string, now time.Time) (Analytics, error) {
	records, err := s.ListByUser(ctx, userID, 0)
	if err != nil {
		return Analytics{}, err
	}
	return computeAnalytics(records, now), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (Record, error) {
	var (
		r                  Record
		cfg                string
		createdMS, endedMS int64
	)
	if err := row.Scan(&r.UserID, &r.SessionID, &cfg, &r.SystemPrompt, &r.Length, &createdMS, &endedMS, &r.Summary, &r.DurationMinutes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan archived session: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &r.Config); err != nil {
		return Record{}, fmt.Errorf("decode session config: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	r.EndedAt = time.UnixMilli(endedMS).UTC()
	return r, nil
}
