package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreConfig selects and configures the live session backend.
type StoreConfig struct {
	Mode        string
	RedisAddr   string
	Password    string
	DB          int
	DialTimeout time.Duration
	OpTimeout   time.Duration
	TTL         time.Duration
	KeyPrefix   string
}

// NewStore creates a redis-backed store when configured, otherwise in-memory.
// In "auto" mode an unreachable Redis falls back to memory; in "redis" mode
// it is a startup error.
func NewStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "memory":
		return newMemoryStoreWithLogger(cfg.TTL, logger), nil
	case "redis", "auto":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.OpTimeout,
			WriteTimeout: cfg.OpTimeout,
		})
		store := NewRedisStore(client,
			WithTTL(cfg.TTL),
			WithKeyPrefix(cfg.KeyPrefix),
			WithOpTimeout(cfg.OpTimeout),
			WithStoreLogger(logger),
		)
		latency, err := store.Ping(ctx)
		if err == nil {
			logger.InfoContext(ctx, "connected to session cache",
				slog.String("addr", cfg.RedisAddr),
				slog.Int64("latency_ms", latency.Milliseconds()))
			return store, nil
		}
		_ = client.Close()
		if mode == "redis" {
			return nil, fmt.Errorf("connect session cache %s: %w", cfg.RedisAddr, err)
		}
		logger.WarnContext(ctx, "session cache unreachable, using in-memory store",
			slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
		return newMemoryStoreWithLogger(cfg.TTL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported session store mode %q", cfg.Mode)
	}
}

func newMemoryStoreWithLogger(ttl time.Duration, logger *slog.Logger) *MemoryStore {
	s := NewMemoryStore(ttl)
	s.logger = logger
	return s
}
