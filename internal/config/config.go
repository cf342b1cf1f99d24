package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the tutoring service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"tutord"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"json"`

	SessionStore     string        `env:"SESSION_STORE" envDefault:"auto"`
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	RedisDialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	RedisOpTimeout   time.Duration `env:"REDIS_OP_TIMEOUT" envDefault:"2s"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionKeyPrefix string        `env:"SESSION_KEY_PREFIX" envDefault:"tutor:session:"`

	SessionMaxLength     int  `env:"SESSION_MAX_LENGTH" envDefault:"100"`
	SessionWindow        int  `env:"SESSION_WINDOW" envDefault:"20"`
	SessionPromptPreview int  `env:"SESSION_PROMPT_PREVIEW" envDefault:"200"`
	SessionLocking       bool `env:"SESSION_LOCKING" envDefault:"true"`

	LLMProvider      string        `env:"LLM_PROVIDER" envDefault:"openai"`
	LLMModel         string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMAPIKey        string        `env:"LLM_API_KEY"`
	LLMAPIBase       string        `env:"LLM_API_BASE"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMMaxTokens     int           `env:"LLM_MAX_TOKENS" envDefault:"1000"`
	LLMTemperature   float64       `env:"LLM_TEMPERATURE" envDefault:"0.7"`
	SummaryMaxTokens int           `env:"SUMMARY_MAX_TOKENS" envDefault:"350"`

	DatabaseURL             string `env:"DATABASE_URL"`
	ArchiveSQLitePath       string `env:"ARCHIVE_SQLITE_PATH"`
	QuotaDefaultMaxSessions int    `env:"QUOTA_DEFAULT_MAX_SESSIONS" envDefault:"20"`
	QuotaResetCron          string `env:"QUOTA_RESET_CRON" envDefault:"0 0 * * 1"`
	QuotaAutoProvision      bool   `env:"QUOTA_AUTO_PROVISION" envDefault:"true"`
}

// Load reads environment variables, applies defaults and validates.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.LLMAPIKey = strings.TrimSpace(c.LLMAPIKey)
}

func (c Config) Validate() error {
	switch c.SessionStore {
	case "auto", "redis", "memory":
	default:
		return fmt.Errorf("SESSION_STORE must be one of auto, redis, memory")
	}
	switch c.LLMProvider {
	case "openai", "anthropic", "deepseek", "gemini", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of openai, anthropic, deepseek, gemini, mock")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1m")
	}
	if c.SessionWindow < 2 || c.SessionWindow%2 != 0 {
		return fmt.Errorf("SESSION_WINDOW must be an even number >= 2")
	}
	if c.SessionMaxLength < 2 || c.SessionMaxLength%2 != 0 {
		return fmt.Errorf("SESSION_MAX_LENGTH must be an even number >= 2")
	}
	if c.SessionPromptPreview <= 0 {
		return fmt.Errorf("SESSION_PROMPT_PREVIEW must be positive")
	}
	if c.LLMMaxTokens <= 0 || c.SummaryMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS and SUMMARY_MAX_TOKENS must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.QuotaDefaultMaxSessions <= 0 {
		return fmt.Errorf("QUOTA_DEFAULT_MAX_SESSIONS must be positive")
	}
	g := gronx.New()
	if !g.IsValid(c.QuotaResetCron) {
		return fmt.Errorf("QUOTA_RESET_CRON %q is not a valid cron expression", c.QuotaResetCron)
	}
	return nil
}
