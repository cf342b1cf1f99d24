package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "tutor:session:"
	defaultOpTimeout = 2 * time.Second
)

// RedisStore keeps live sessions in Redis as JSON with a fixed expiry.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	prefix    string
	opTimeout time.Duration
	logger    *slog.Logger
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

func WithStoreLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		ttl:       DefaultTTL,
		prefix:    defaultKeyPrefix,
		opTimeout: defaultOpTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Mode() string { return "redis" }

func (s *RedisStore) Save(ctx context.Context, id string, sess *Session) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.ErrorContext(ctx, "session cache unreachable on save", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	payload, err := encodeSession(sess)
	if err != nil {
		s.logger.ErrorContext(ctx, "session encode failed", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	if err := s.client.Set(ctx, s.key(id), payload, s.ttl).Err(); err != nil {
		s.logger.ErrorContext(ctx, "session save failed", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	s.logger.DebugContext(ctx, "session saved", slog.String("session_id", id))
	return true
}

func (s *RedisStore) Get(ctx context.Context, id string) *Session {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.ErrorContext(ctx, "session cache unreachable on get", slog.String("session_id", id), slog.Any("error", err))
		return nil
	}
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.WarnContext(ctx, "session not found", slog.String("session_id", id))
		return nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "session get failed", slog.String("session_id", id), slog.Any("error", err))
		return nil
	}
	sess, err := decodeSession(raw)
	if err != nil {
		s.logger.ErrorContext(ctx, "session payload corrupt", slog.String("session_id", id), slog.Any("error", err))
		return nil
	}
	return sess
}

func (s *RedisStore) Delete(ctx context.Context, id string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.ErrorContext(ctx, "session cache unreachable on delete", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		s.logger.ErrorContext(ctx, "session delete failed", slog.String("session_id", id), slog.Any("error", err))
		return false
	}
	s.logger.InfoContext(ctx, "session deleted", slog.String("session_id", id))
	return true
}

// Ping measures a round trip to Redis. It is separate from the data path and
// used by health endpoints.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}
