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
	defaultOpenAIBase   = "https://api.openai.com/v1"
	defaultDeepSeekBase = "https://api.deepseek.com"
	defaultHTTPTimeout  = 60 * time.Second
)

var (
	openAIModels   = []string{"gpt-4o-mini", "o4-mini", "gpt-4o", "gpt-5"}
	deepSeekModels = []string{"deepseek-chat", "deepseek-reasoner"}
)

// OpenAIProvider talks to any chat/completions compatible endpoint. DeepSeek
// uses it with its own base URL and model list.
type OpenAIProvider struct {
	name    string
	apiBase string
	apiKey  string
	models  []string
	client  *http.Client
}

func NewOpenAIProvider(apiKey, apiBase string, timeout time.Duration) *OpenAIProvider {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultOpenAIBase
	}
	return newChatCompletionsProvider("openai", apiKey, apiBase, openAIModels, timeout)
}

func NewDeepSeekProvider(apiKey, apiBase string, timeout time.Duration) *OpenAIProvider {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultDeepSeekBase
	}
	return newChatCompletionsProvider("deepseek", apiKey, apiBase, deepSeekModels, timeout)
}

func newChatCompletionsProvider(name, apiKey, apiBase string, models []string, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &OpenAIProvider{
		name:    name,
		apiBase: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		models:  models,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportedModels() []string { return p.models }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	body["temperature"] = req.Temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send %s request: %w", p.name, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", p.name, err)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return "", &ProviderError{Provider: p.name, Status: res.StatusCode, Body: extractAPIError(raw)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse %s response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("parse %s response: no choices", p.name)
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractAPIError pulls error.message out of a provider error body, falling
// back to the truncated raw body.
func extractAPIError(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}
