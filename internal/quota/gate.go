package quota

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/antoniostano/tutord/internal/keylock"
	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/reliability"
)

const (
	defaultQueueSize    = 256
	incrementAttempts   = 3
	incrementBackoff    = 50 * time.Millisecond
	incrementBackoffCap = time.Second
	incrementTimeout    = 5 * time.Second
)

// GateOptions configure a Gate.
type GateOptions struct {
	DefaultMaxSessions int
	// AutoProvision creates an account with DefaultMaxSessions for unknown
	// users instead of denying them.
	AutoProvision bool
	QueueSize     int
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

type incrementJob struct {
	userID string
	at     time.Time
}

// Gate approves session starts and records usage asynchronously. Approved
// starts hold a pending slot until their increment lands, so concurrent
// starts cannot overshoot the limit within this process.
type Gate struct {
	store   Store
	opts    GateOptions
	logger  *slog.Logger
	metrics *observability.Metrics

	users   *keylock.Locker
	mu      sync.Mutex
	pending map[string]int

	sendMu sync.RWMutex
	closed bool
	jobs   chan incrementJob
	done   chan struct{}
	now    func() time.Time
}

func NewGate(store Store, opts GateOptions) *Gate {
	if opts.DefaultMaxSessions <= 0 {
		opts.DefaultMaxSessions = DefaultMaxSessions
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		users:   keylock.New(),
		pending: make(map[string]int),
		jobs:    make(chan incrementJob, opts.QueueSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go g.run()
	return g
}

// CanStartSession reports whether userID may start a session. Lookup
// failures deny. The check and the pending reservation hold the user's lock,
// as does each increment attempt, so the count is never read while an
// increment is half applied. Other users are not blocked.
func (g *Gate) CanStartSession(ctx context.Context, userID string) bool {
	if !g.admit(ctx, userID) {
		return false
	}
	g.enqueue(incrementJob{userID: userID, at: g.now()})
	return true
}

func (g *Gate) admit(ctx context.Context, userID string) bool {
	logger := g.logger.With(slog.String("user_id", userID))
	unlock := g.users.Lock(userID)
	defer unlock()

	acct, err := g.store.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		if !g.opts.AutoProvision {
			logger.InfoContext(ctx, "quota denied for unknown user")
			return false
		}
		acct, err = g.store.Provision(ctx, Account{UserID: userID, MaxSessions: g.opts.DefaultMaxSessions, UpdatedAt: g.now().UTC()})
		if err != nil {
			logger.ErrorContext(ctx, "quota account provisioning failed", slog.Any("error", err))
			return false
		}
	case err != nil:
		logger.ErrorContext(ctx, "quota lookup failed", slog.Any("error", err))
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !acct.CanStart(g.pending[userID]) {
		logger.InfoContext(ctx, "quota exhausted",
			slog.Int("session_count", acct.SessionCount),
			slog.Int("max_sessions", acct.MaxSessions))
		return false
	}
	g.pending[userID]++
	return true
}

// Pending reports increments accepted but not yet applied for userID.
func (g *Gate) Pending(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[userID]
}

func (g *Gate) enqueue(job incrementJob) {
	g.sendMu.RLock()
	defer g.sendMu.RUnlock()
	if g.closed {
		g.apply(job)
		return
	}
	select {
	case g.jobs <- job:
	default:
		// Queue saturated: apply on a side goroutine rather than stall the start.
		g.metrics.QuotaJob("overflow")
		go g.apply(job)
	}
}

func (g *Gate) run() {
	defer close(g.done)
	for job := range g.jobs {
		g.apply(job)
	}
}

func (g *Gate) apply(job incrementJob) {
	ctx, cancel := context.WithTimeout(context.Background(), incrementTimeout)
	defer cancel()

	err := reliability.Retry(ctx, incrementAttempts, incrementBackoff, incrementBackoffCap, func(ctx context.Context) error {
		unlock := g.users.Lock(job.userID)
		defer unlock()
		if err := g.store.Increment(ctx, job.userID, job.at); err != nil {
			return err
		}
		g.release(job.userID)
		return nil
	})
	if err != nil {
		g.release(job.userID)
		g.metrics.QuotaJob("failed")
		g.logger.Error("quota increment failed",
			slog.String("user_id", job.userID),
			slog.Int("attempts", incrementAttempts),
			slog.Any("error", err))
		return
	}
	g.metrics.QuotaJob("applied")
}

func (g *Gate) release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[userID] <= 1 {
		delete(g.pending, userID)
		return
	}
	g.pending[userID]--
}

// Close stops accepting queued jobs and waits for the worker to drain.
func (g *Gate) Close() {
	g.sendMu.Lock()
	if g.closed {
		g.sendMu.Unlock()
		return
	}
	g.closed = true
	close(g.jobs)
	g.sendMu.Unlock()
	<-g.done
}
