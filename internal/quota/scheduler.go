package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// DefaultResetCron resets counts every Monday at 00:00 UTC.
const DefaultResetCron = "0 0 * * 1"

// ValidCron reports whether expr is a valid cron expression.
func ValidCron(expr string) bool {
	g := gronx.New()
	return g.IsValid(expr)
}

// Scheduler periodically zeroes session counts on a cron schedule.
type Scheduler struct {
	store  Store
	expr   string
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(store Store, expr string, logger *slog.Logger) (*Scheduler, error) {
	if expr == "" {
		expr = DefaultResetCron
	}
	if !ValidCron(expr) {
		return nil, fmt.Errorf("invalid quota reset cron %q", expr)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, expr: expr, logger: logger, now: time.Now}, nil
}

// Next returns the first reset strictly after from.
func (s *Scheduler) Next(from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, from.UTC(), false)
}

// Run blocks until ctx is done, resetting counts at each scheduled tick.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next, err := s.Next(s.now())
		if err != nil {
			s.logger.Error("quota reset schedule failed", slog.String("cron", s.expr), slog.Any("error", err))
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.Reset(ctx, next)
	}
}

// Reset zeroes all counts now. Failures are logged.
func (s *Scheduler) Reset(ctx context.Context, at time.Time) {
	n, err := s.store.ResetAll(ctx, at)
	if err != nil {
		s.logger.ErrorContext(ctx, "quota reset failed", slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, "quota counts reset", slog.Int64("accounts", n), slog.Time("at", at.UTC()))
}
