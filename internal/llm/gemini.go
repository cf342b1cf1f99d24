package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

var geminiModels = []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-2.5-pro-preview-06-05"}

// GeminiProvider calls generateContent through the genai SDK. The client is
// created on first use so a missing key only fails the call, not startup.
type GeminiProvider struct {
	apiKey  string
	apiBase string
	timeout time.Duration

	once      sync.Once
	client    *genai.Client
	clientErr error
}

func NewGeminiProvider(apiKey, apiBase string, timeout time.Duration) *GeminiProvider {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &GeminiProvider{
		apiKey:  strings.TrimSpace(apiKey),
		apiBase: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		timeout: timeout,
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportedModels() []string { return geminiModels }

func (p *GeminiProvider) init(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		if p.apiKey == "" {
			p.clientErr = &ProviderError{Provider: "gemini", Status: http.StatusUnauthorized, Body: "API key is required"}
			return
		}
		cfg := &genai.ClientConfig{
			APIKey:     p.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: p.timeout},
		}
		if p.apiBase != "" {
			cfg.HTTPOptions.BaseURL = p.apiBase + "/"
		}
		p.client, p.clientErr = genai.NewClient(ctx, cfg)
		if p.clientErr != nil {
			p.clientErr = fmt.Errorf("create gemini client: %w", p.clientErr)
		}
	})
	return p.client, p.clientErr
}

// Complete folds system messages into the system instruction and maps the
// assistant role onto Gemini's "model" role.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	client, err := p.init(ctx)
	if err != nil {
		return "", err
	}

	var system []string
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", geminiError(err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("parse gemini response: no text content")
	}
	return text, nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: "gemini", Status: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &ProviderError{Provider: "gemini", Status: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("send gemini request: %w", err)
}
