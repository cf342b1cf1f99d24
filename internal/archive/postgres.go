package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists terminal records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_archive (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			config JSONB NOT NULL DEFAULT '{}'::jsonb,
			system_prompt TEXT NOT NULL DEFAULT '',
			length INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			duration_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, session_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_archive_user_created ON session_archive (user_id, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_archive (user_id, session_id, config, system_prompt, length, created_at, ended_at, summary, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
			config = EXCLUDED.config,
			system_prompt = EXCLUDED.system_prompt,
			length = EXCLUDED.length,
			created_at = EXCLUDED.created_at,
			ended_at = EXCLUDED.ended_at,
			summary = EXCLUDED.summary,
			duration_minutes = EXCLUDED.duration_minutes`,
		r.UserID,
		r.SessionID,
		string(cfg),
		r.SystemPrompt,
		r.Length,
		r.CreatedAt.UTC(),
		r.EndedAt.UTC(),
		r.Summary,
		r.DurationMinutes,
	)
	if err != nil {
		return fmt.Errorf("save archived session: %w", err)
	}
	return nil
}

const selectColumns = `user_id, session_id, config, system_prompt, length, created_at, ended_at, summary, duration_minutes`

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM session_archive WHERE user_id=$1 ORDER BY created_at DESC, session_id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archived sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
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

func (s *PostgresStore) Get(ctx context.Context, userID, sessionID string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM session_archive WHERE user_id=$1 AND session_id=$2`,
		userID, sessionID)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) Delete(ctx context.Context, userID, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_archive WHERE user_id=$1 AND session_id=$2`, userID, sessionID); err != nil {
		return fmt.Errorf("delete archived session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Analytics(ctx context.Context, userID string, now time.Time) (Analytics, error) {
	records, err := s.ListByUser(ctx, userID, 0)
	if err != nil {
		return Analytics{}, err
	}
	return computeAnalytics(records, now), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r   Record
		cfg []byte
	)
	if err := row.Scan(&r.UserID, &r.SessionID, &cfg, &r.SystemPrompt, &r.Length, &r.CreatedAt, &r.EndedAt, &r.Summary, &r.DurationMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan archived session: %w", err)
	}
	if err := json.Unmarshal(cfg, &r.Config); err != nil {
		return Record{}, fmt.Errorf("decode session config: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.EndedAt = r.EndedAt.UTC()
	return r, nil
}
