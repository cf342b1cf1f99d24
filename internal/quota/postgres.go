package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initQuotaSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initQuotaSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quota_accounts (
			user_id TEXT PRIMARY KEY,
			session_count INTEGER NOT NULL DEFAULT 0,
			max_sessions INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init quota schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Get(ctx context.Context, userID string) (Account, error) {
	var a Account
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, session_count, max_sessions, updated_at FROM quota_accounts WHERE user_id=$1`,
		userID,
	).Scan(&a.UserID, &a.SessionCount, &a.MaxSessions, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get quota account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, a Account) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_accounts (user_id, session_count, max_sessions, updated_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id) DO UPDATE SET
			session_count=EXCLUDED.session_count,
			max_sessions=EXCLUDED.max_sessions,
			updated_at=EXCLUDED.updated_at`,
		a.UserID, a.SessionCount, a.MaxSessions, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert quota account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Provision(ctx context.Context, a Account) (Account, error) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_accounts (user_id, session_count, max_sessions, updated_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.SessionCount, a.MaxSessions, a.UpdatedAt,
	)
	if err != nil {
		return Account{}, fmt.Errorf("provision quota account: %w", err)
	}
	return s.Get(ctx, a.UserID)
}

func (s *PostgresStore) Increment(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quota_accounts SET session_count = session_count + 1, updated_at=$2 WHERE user_id=$1`,
		userID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetAll(ctx context.Context, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE quota_accounts SET session_count = 0, updated_at=$1`, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("reset quotas: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
