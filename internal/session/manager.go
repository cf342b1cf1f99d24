package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/antoniostano/tutord/internal/keylock"
	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/policy"
)

const (
	DefaultPersonality   = "albert_einstein"
	DefaultLanguage      = "english"
	DefaultPromptPreview = 200

	// FallbackSummary is recorded when the summary generator fails, so an
	// ended session always carries a summary.
	FallbackSummary = "Summary unavailable."

	endedMemorySize = 4096
)

// Deps are the collaborators the lifecycle depends on. Quota and Archive are
// optional: a nil Quota admits everyone, a nil Archive discards records.
type Deps struct {
	Prompts    PromptBuilder
	Completer  Completer
	Summarizer Summarizer
	Quota      QuotaGate
	Archive    Archive
}

// Manager owns the session state machine: CREATED -> ACTIVE -> TERMINATED.
type Manager struct {
	store      Store
	prompts    PromptBuilder
	completer  Completer
	summarizer Summarizer
	quota      QuotaGate
	archive    Archive

	logger        *slog.Logger
	metrics       *observability.Metrics
	maxLength     int
	window        int
	promptPreview int
	locks         *keylock.Locker
	ended         *lru.Cache[string, time.Time]
	now           func() time.Time
	newID         func() string
}

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLimits sets the auto-termination length and the retained window.
func WithLimits(maxLength, window int) Option {
	return func(m *Manager) {
		if maxLength > 0 {
			m.maxLength = maxLength
		}
		if window > 0 {
			m.window = window
		}
	}
}

func WithPromptPreview(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.promptPreview = n
		}
	}
}

// WithLocking toggles per-session serialization of exchanges within this
// process. Enabled by default.
func WithLocking(enabled bool) Option {
	return func(m *Manager) {
		if enabled {
			m.locks = keylock.New()
		} else {
			m.locks = nil
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

func NewManager(store Store, deps Deps, opts ...Option) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("session store is required")
	case deps.Prompts == nil:
		return nil, errors.New("prompt builder is required")
	case deps.Completer == nil:
		return nil, errors.New("completer is required")
	case deps.Summarizer == nil:
		return nil, errors.New("summarizer is required")
	}
	ended, err := lru.New[string, time.Time](endedMemorySize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		store:         store,
		prompts:       deps.Prompts,
		completer:     deps.Completer,
		summarizer:    deps.Summarizer,
		quota:         deps.Quota,
		archive:       deps.Archive,
		logger:        slog.Default(),
		maxLength:     DefaultMaxLength,
		window:        DefaultWindow,
		promptPreview: DefaultPromptPreview,
		locks:         keylock.New(),
		ended:         ended,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start admits, builds and persists a new session.
func (m *Manager) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return StartResult{}, newError(KindInvalidRequest, "user_id is required", nil)
	}
	cfg := req.config()
	if cfg.Personality == "" {
		cfg.Personality = DefaultPersonality
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	logger := m.logger.With(slog.String("user_id", userID))

	if m.quota != nil && !m.quota.CanStartSession(ctx, userID) {
		m.metrics.SessionEvent("quota_denied")
		logger.InfoContext(ctx, "session start denied by quota")
		return StartResult{}, newError(KindQuotaDenied, "you have used up the quota of allotted sessions", nil)
	}

	prompt := m.prompts.Build(cfg)
	id := m.newID()
	sess, err := New(userID, id, cfg, prompt, m.now())
	if err != nil {
		return StartResult{}, newError(KindInvalidRequest, err.Error(), err)
	}

	began := time.Now()
	ok := m.store.Save(ctx, id, sess)
	m.metrics.ObserveStage(observability.StageStoreSave, time.Since(began))
	if !ok {
		m.metrics.SessionEvent("store_failed")
		logger.ErrorContext(ctx, "session not persisted at creation", slog.String("session_id", id))
		return StartResult{}, newError(KindStoreUnavailable, "can't create session", nil)
	}

	m.metrics.SessionEvent("created")
	m.metrics.SessionStarted()
	logger.InfoContext(ctx, "session started",
		slog.String("session_id", id),
		slog.String("personality", cfg.Personality),
		slog.String("language", cfg.Language))

	return StartResult{SessionID: id, PromptPreview: previewPrompt(prompt, m.promptPreview)}, nil
}

// SendMessage runs one exchange. A failed completion leaves the stored
// session untouched; reaching the length limit terminates the session.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string) (MessageResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	unlock := m.lock(sessionID)
	defer unlock()

	exchangeStart := time.Now()
	logger := m.logger.With(slog.String("session_id", sessionID))

	sess, err := m.load(ctx, sessionID)
	if err != nil {
		return MessageResult{}, err
	}
	if strings.TrimSpace(text) == "" {
		return MessageResult{}, newError(KindInvalidRequest, "message content is required", nil)
	}
	logger = logger.With(slog.String("user_id", sess.UserID))
	logger.DebugContext(ctx, "user message", slog.String("preview", policy.Preview(text, 80)))

	working := sess.Clone()
	working.AppendMessage(RoleUser, text, m.window)

	began := time.Now()
	reply, err := m.completer.Complete(ctx, working.ModelContext())
	elapsed := time.Since(began)
	m.metrics.ObserveStage(observability.StageModelComplete, elapsed)
	m.metrics.ObserveModelLatency(elapsed)
	if err != nil {
		m.metrics.SessionEvent("upstream_failed")
		logger.ErrorContext(ctx, "model completion failed", slog.Any("error", err))
		return MessageResult{}, newError(KindUpstreamFailed, "model completion failed", err)
	}

	working.AppendMessage(RoleAssistant, reply, m.window)
	working.Length += 2
	m.metrics.SessionEvent("message")

	if working.Length >= m.maxLength {
		logger.InfoContext(ctx, "session reached length limit", slog.Int("length", working.Length))
		m.metrics.ObserveIndicator("auto_ended")
		m.terminate(ctx, working, "auto_ended")
		m.metrics.ObserveStage(observability.StageExchangeTotal, time.Since(exchangeStart))
		return MessageResult{Reply: reply, Active: false, MessageCount: working.Length}, nil
	}

	began = time.Now()
	ok := m.store.Save(ctx, sessionID, working)
	m.metrics.ObserveStage(observability.StageStoreSave, time.Since(began))
	if !ok {
		m.metrics.SessionEvent("store_failed")
		logger.ErrorContext(ctx, "session not persisted after exchange")
		return MessageResult{}, newError(KindStoreUnavailable, "failed to persist session", nil)
	}
	m.metrics.ObserveStage(observability.StageExchangeTotal, time.Since(exchangeStart))
	return MessageResult{Reply: reply, Active: true, MessageCount: working.Length}, nil
}

// End terminates an active session on the caller's request.
func (m *Manager) End(ctx context.Context, sessionID string) (EndResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.load(ctx, sessionID)
	if err != nil {
		if KindOf(err) == KindNotFound && m.ended.Contains(sessionID) {
			return EndResult{}, newError(KindAlreadyEnded, "session already ended", nil)
		}
		if KindOf(err) == KindNotFound {
			return EndResult{}, newError(KindNotFound, "session not found", nil)
		}
		return EndResult{}, err
	}

	summary := m.terminate(ctx, sess, "ended")
	return EndResult{Success: true, Summary: summary, TotalMessages: sess.Length}, nil
}

// Lookup returns a copy of an active session without modifying it.
func (m *Manager) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.load(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Ping reports live store reachability for health checks.
func (m *Manager) Ping(ctx context.Context) (time.Duration, error) {
	return m.store.Ping(ctx)
}

func (m *Manager) StoreMode() string {
	return m.store.Mode()
}

// load fetches an active session. A miss is reported as not found unless the
// store is unreachable, which callers may retry.
func (m *Manager) load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, newError(KindNotFound, "session not found or ended", nil)
	}
	began := time.Now()
	sess := m.store.Get(ctx, sessionID)
	m.metrics.ObserveStage(observability.StageStoreLoad, time.Since(began))
	if sess != nil && sess.IsActive {
		return sess, nil
	}
	if sess == nil {
		if _, err := m.store.Ping(ctx); err != nil {
			return nil, newError(KindStoreUnavailable, "session store unreachable", err)
		}
		return nil, newError(KindNotFound, "session not found or ended", nil)
	}
	// A stored inactive session is treated as ended.
	m.ended.Add(sessionID, m.now())
	return nil, newError(KindNotFound, "session not found or ended", nil)
}

// terminate ends sess, archives its terminal record and removes it from the
// live store. Summary and archive failures are logged only; the live entry is
// always deleted.
func (m *Manager) terminate(ctx context.Context, sess *Session, event string) string {
	ctx = context.WithoutCancel(ctx)
	logger := m.logger.With(slog.String("session_id", sess.ID), slog.String("user_id", sess.UserID))

	began := time.Now()
	summary, err := m.summarizer.Summarize(ctx, sess.Messages)
	m.metrics.ObserveStage(observability.StageSummary, time.Since(began))
	if err != nil || strings.TrimSpace(summary) == "" {
		m.metrics.SessionEvent("summary_failed")
		logger.ErrorContext(ctx, "session summary failed", slog.Any("error", err))
		summary = FallbackSummary
	}
	sess.Terminate(m.now(), summary)

	if m.archive != nil {
		began = time.Now()
		ok := m.archive.Save(ctx, sess.UserID, sess.ID, sess.TerminalRecord())
		m.metrics.ObserveStage(observability.StageArchiveWrite, time.Since(began))
		if !ok {
			m.metrics.SessionEvent("archive_failed")
			logger.WarnContext(ctx, "error in storing user session summary")
		}
	} else {
		logger.WarnContext(ctx, "no archive configured, terminal record discarded")
	}

	if !m.store.Delete(ctx, sess.ID) {
		m.metrics.SessionEvent("delete_failed")
		logger.ErrorContext(ctx, "terminated session left in live store until expiry")
	}
	m.ended.Add(sess.ID, *sess.EndedAt)

	m.metrics.SessionEvent(event)
	m.metrics.SessionTerminated()
	logger.InfoContext(ctx, "session terminated", slog.String("reason", event), slog.Int("length", sess.Length))
	return summary
}

func (m *Manager) lock(sessionID string) func() {
	if m.locks == nil {
		return func() {}
	}
	return m.locks.Lock(sessionID)
}

func previewPrompt(prompt string, n int) string {
	runes := []rune(prompt)
	if len(runes) <= n {
		return prompt
	}
	return string(runes[:n]) + "..."
}
