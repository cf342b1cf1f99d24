package llm

import (
	"fmt"
	"strings"
	"time"
)

// DefaultProvider is used when no provider is configured.
const DefaultProvider = "openai"

// Config selects and configures the completion provider.
type Config struct {
	Provider string
	APIKey   string
	APIBase  string
	Timeout  time.Duration
}

// NewDefaultRegistry registers every built-in provider configured from cfg.
// Providers only reach the network on Complete.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	for _, p := range []Provider{
		NewOpenAIProvider(cfg.APIKey, cfg.APIBase, cfg.Timeout),
		NewDeepSeekProvider(cfg.APIKey, cfg.APIBase, cfg.Timeout),
		NewAnthropicProvider(cfg.APIKey, cfg.APIBase, cfg.Timeout),
		NewGeminiProvider(cfg.APIKey, cfg.APIBase, cfg.Timeout),
		NewMockProvider(),
	} {
		_ = r.Register(p)
	}
	return r
}

// ProviderNames lists the names NewProvider accepts.
func ProviderNames() []string {
	return NewDefaultRegistry(Config{}).List()
}

func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = DefaultProvider
	}
	r := NewDefaultRegistry(cfg)
	p, err := r.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported llm provider %q (available: %s)", cfg.Provider, strings.Join(r.List(), ", "))
	}
	return p, nil
}
