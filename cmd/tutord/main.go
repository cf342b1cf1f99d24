package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/tutord/internal/app"
	"github.com/antoniostano/tutord/internal/config"
	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/session"
)

var (
	version   = "dev"
	gitCommit string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutord",
		Short: "AI tutoring session service",
		Long: strings.TrimSpace(`tutord runs tutoring sessions against a language model.

Sessions live in Redis (or memory), finished sessions are archived to
PostgreSQL or SQLite, and per-user quotas reset on a cron schedule.
Configuration is read from the environment.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newServeCommand())
	root.AddCommand(newPingCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  LLM_PROVIDER=mock SESSION_STORE=memory tutord serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the configured session cache and print its latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if cfg.SessionStore == "auto" {
				cfg.SessionStore = "redis"
			}
			store, err := session.NewStore(ctx, storeConfig(cfg), logger)
			if err != nil {
				return err
			}
			defer store.Close()
			latency, err := store.Ping(ctx)
			if err != nil {
				return fmt.Errorf("session cache unreachable: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok (%s) latency=%.2fms\n",
				store.Mode(), cfg.RedisAddr, float64(latency.Microseconds())/1000)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), formatVersion())
			return nil
		},
	}
}

func formatVersion() string {
	v := "tutord " + version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v + " " + runtime.Version()
}

func storeConfig(cfg config.Config) session.StoreConfig {
	return session.StoreConfig{
		Mode:        cfg.SessionStore,
		RedisAddr:   cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		DialTimeout: cfg.RedisDialTimeout,
		OpTimeout:   cfg.RedisOpTimeout,
		TTL:         cfg.SessionTTL,
		KeyPrefix:   cfg.SessionKeyPrefix,
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", slog.Any("error", err))
		}
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go built.Scheduler.Run(runCtx)
	if next, err := built.Scheduler.Next(time.Now()); err == nil {
		logger.Info("quota reset scheduled", slog.String("cron", cfg.QuotaResetCron), slog.Time("next", next))
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}
