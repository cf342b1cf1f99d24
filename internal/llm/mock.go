package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockProvider returns deterministic replies for local runs and tests.
type MockProvider struct {
	mu       sync.Mutex
	failures []error
	calls    int
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// FailNext queues errors returned by the next calls, in order.
func (p *MockProvider) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) SupportedModels() []string { return []string{"mock-tutor"} }

func (p *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.calls++
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		p.mu.Unlock()
		return "", err
	}
	p.mu.Unlock()

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return "Let's get started.", nil
	}
	return fmt.Sprintf("Good question! You asked: %s", last), nil
}
