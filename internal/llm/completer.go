package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/antoniostano/tutord/internal/observability"
	"github.com/antoniostano/tutord/internal/session"
)

const (
	SummaryPrompt           = "Summarize this tutoring session for the student in simple words."
	DefaultMaxTokens        = 1000
	DefaultSummaryMaxTokens = 350
	DefaultTemperature      = 0.7
)

// Options tune a Completer or Summarizer.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Completer adapts a Provider to session.Completer.
type Completer struct {
	provider Provider
	model    string
	opts     Options
	logger   *slog.Logger
}

func NewCompleter(p Provider, opts Options) *Completer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Completer{
		provider: p,
		model:    ResolveModel(p, opts.Model, logger),
		opts:     opts,
		logger:   logger,
	}
}

func (c *Completer) Model() string { return c.model }

func (c *Completer) Complete(ctx context.Context, messages []session.Message) (string, error) {
	return c.call(ctx, toProviderMessages(messages))
}

func (c *Completer) call(ctx context.Context, messages []Message) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	out, err := c.provider.Complete(ctx, Request{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		c.opts.Metrics.ProviderError(c.provider.Name(), ErrorCode(err))
		c.logger.WarnContext(ctx, "provider completion failed",
			slog.String("provider", c.provider.Name()),
			slog.String("model", c.model),
			slog.Any("error", err))
		return "", err
	}
	return out, nil
}

// Summarizer adapts a Provider to session.Summarizer. The retained messages
// are sent as one serialized user message under a fixed instruction.
type Summarizer struct {
	completer *Completer
}

func NewSummarizer(p Provider, opts Options) *Summarizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultSummaryMaxTokens
	}
	return &Summarizer{completer: NewCompleter(p, opts)}
}

func (s *Summarizer) Summarize(ctx context.Context, messages []session.Message) (string, error) {
	transcript, err := json.Marshal(toProviderMessages(messages))
	if err != nil {
		return "", err
	}
	return s.completer.call(ctx, []Message{
		{Role: "system", Content: SummaryPrompt},
		{Role: "user", Content: string(transcript)},
	})
}

func toProviderMessages(in []session.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
