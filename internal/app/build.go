package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/tutord/internal/archive"
	"github.com/antoniostano/tutord/internal/config"
	"github.com/antoniostano/tutord/internal/httpapi"
	"github.com/antoniostano/tutord/internal/llm"
	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/prompt"
	"github.com/antoniostano/tutord/internal/quota"
	"github.com/antoniostano/tutord/internal/session"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Archive   archive.Store
	Quota     *quota.Gate
	Scheduler *quota.Scheduler
	Metrics   *observability.Metrics
	Provider  string
	Model     string

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

type buildOptions struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

type BuildOption func(*buildOptions)

func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) { o.registerer = reg }
}

func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (*BuildResult, error) {
	o := buildOptions{logger: slog.Default(), registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	metrics := observability.NewMetricsWith(cfg.MetricsNamespace, o.registerer)

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	store, err := session.NewStore(ctx, session.StoreConfig{
		Mode:        cfg.SessionStore,
		RedisAddr:   cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.RedisDialTimeout,
		OpTimeout:   cfg.RedisOpTimeout,
		TTL:         cfg.SessionTTL,
		KeyPrefix:   cfg.SessionKeyPrefix,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("session store init failed: %w", err))
	}
	closers = append(closers, store.Close)

	provider, err := llm.NewProvider(llm.Config{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		APIBase:  cfg.LLMAPIBase,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("llm provider init failed: %w", err))
	}
	if cfg.LLMAPIKey == "" && provider.Name() != "mock" {
		logger.WarnContext(ctx, "LLM_API_KEY is empty, completions will fail", slog.String("provider", provider.Name()))
	}
	completer := llm.NewCompleter(provider, llm.Options{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})
	summarizer := llm.NewSummarizer(provider, llm.Options{
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.SummaryMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
		Logger:      logger,
		Metrics:     metrics,
	})

	archives, err := archive.NewStore(ctx, cfg.DatabaseURL, cfg.ArchiveSQLitePath)
	if err != nil {
		return fail(fmt.Errorf("archive store init failed: %w", err))
	}
	closers = append(closers, archives.Close)

	quotaStore, err := quota.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("quota store init failed: %w", err))
	}
	closers = append(closers, quotaStore.Close)

	scheduler, err := quota.NewScheduler(quotaStore, cfg.QuotaResetCron, logger)
	if err != nil {
		return fail(err)
	}
	gate := quota.NewGate(quotaStore, quota.GateOptions{
		DefaultMaxSessions: cfg.QuotaDefaultMaxSessions,
		AutoProvision:      cfg.QuotaAutoProvision,
		Logger:             logger,
		Metrics:            metrics,
	})
	closers = append(closers, func() error {
		gate.Close()
		return nil
	})

	sessions, err := session.NewManager(store, session.Deps{
		Prompts:    prompt.NewBuilder(),
		Completer:  completer,
		Summarizer: summarizer,
		Quota:      gate,
		Archive:    archive.NewSink(archives, logger),
	},
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithLimits(cfg.SessionMaxLength, cfg.SessionWindow),
		session.WithPromptPreview(cfg.SessionPromptPreview),
		session.WithLocking(cfg.SessionLocking),
	)
	if err != nil {
		return fail(err)
	}

	api := httpapi.New(cfg, sessions, archives, metrics, logger)

	logger.InfoContext(ctx, "tutoring service assembled",
		slog.String("session_store", store.Mode()),
		slog.String("archive_store", archives.Mode()),
		slog.String("quota_store", quotaStore.Mode()),
		slog.String("provider", provider.Name()),
		slog.String("model", completer.Model()))

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Archive:   archives,
		Quota:     gate,
		Scheduler: scheduler,
		Metrics:   metrics,
		Provider:  provider.Name(),
		Model:     completer.Model(),
		Cleanup:   cleanup,
	}, nil
}
