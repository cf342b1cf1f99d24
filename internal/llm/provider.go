package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/antoniostano/tutord/internal/reliability"
)

// Message is one chat message in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single non-streaming completion call.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider is a model-completion backend selected by configuration.
type Provider interface {
	Name() string
	// SupportedModels lists the allowed models; the first is the default.
	SupportedModels() []string
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderError is a non-2xx reply from a provider API.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API request failed: status=%d error=%s", e.Provider, e.Status, e.Body)
}

func (e *ProviderError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Status)
}

// ResolveModel returns requested when the provider allows it, otherwise the
// provider's default model.
func ResolveModel(p Provider, requested string, logger *slog.Logger) string {
	allowed := p.SupportedModels()
	requested = strings.TrimSpace(requested)
	if len(allowed) == 0 || slices.Contains(allowed, requested) {
		return requested
	}
	if logger != nil && requested != "" {
		logger.Warn("model not in available list, using provider default",
			slog.String("provider", p.Name()),
			slog.String("requested", requested),
			slog.String("model", allowed[0]))
	}
	return allowed[0]
}

// ErrorCode is the metrics label for a completion error.
func ErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return strconv.Itoa(pe.Status)
	}
	if reliability.IsRetryableError(err) {
		return "transient"
	}
	return "error"
}
