package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBase = "https://api.anthropic.com/v1"
	anthropicVersion     = "2023-06-01"
)

var anthropicModels = []string{
	"claude-3-opus-20240229",
	"claude-3-haiku-20240307",
	"claude-3-5-sonnet-20241022",
	"claude-opus-4-1-20250805",
}

// AnthropicProvider calls the Messages API. System messages are hoisted into
// the top-level system field.
type AnthropicProvider struct {
	apiBase string
	apiKey  string
	client  *http.Client
}

func NewAnthropicProvider(apiKey, apiBase string, timeout time.Duration) *AnthropicProvider {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultAnthropicBase
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &AnthropicProvider{
		apiBase: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportedModels() []string { return anthropicModels }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	var system []string
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, m)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	body := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if p.apiKey != "" {
		httpReq.Header.Set("x-api-key", p.apiKey)
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send anthropic request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return "", &ProviderError{Provider: "anthropic", Status: res.StatusCode, Body: extractAPIError(raw)}
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse anthropic response: %w", err)
	}
	var out strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("parse anthropic response: no text content")
	}
	return out.String(), nil
}
