// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the key-value backend, rate limiting, the model provider,
// authentication and observability settings.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"go-chat-stream"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// KVConfig selects and configures the key-value backend.
type KVConfig struct {
	Backend   string `env:"KV_BACKEND" envDefault:"sql"` // redis|sql
	RedisURL  string `env:"REDIS_URL"`
	RedisTx   bool   `env:"REDIS_TX" envDefault:"false"`
	SQLDriver string `env:"SQL_DRIVER" envDefault:"sqlite"` // sqlite|postgres
	SQLDSN    string `env:"SQL_DSN" envDefault:"chat.db"`
}

// RateConfig configures the admission gate: Limit requests per Window.
type RateConfig struct {
	Limit   int           `env:"RATE_LIMIT" envDefault:"10"`
	Window  time.Duration `env:"RATE_WINDOW" envDefault:"1m"`
	Backend string        `env:"RATE_BACKEND" envDefault:"local"` // local|redis
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	Provider       string `env:"LLM_PROVIDER" envDefault:"echo"` // openai|echo
	OpenAIAPIKey   string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	OpenAIModel    string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	SystemPrompt   string `env:"SYSTEM_PROMPT"`
	MaxPromptRunes int    `env:"MAX_PROMPT_RUNES" envDefault:"4000"`
}

// AuthConfig configures bearer-token identity resolution.
type AuthConfig struct {
	JWTSecret      string `env:"AUTH_JWT_SECRET"`
	Issuer         string `env:"AUTH_ISSUER"`
	TrustUserIDHdr bool   `env:"AUTH_TRUST_USER_HEADER" envDefault:"false"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	// WriteTimeout must outlast the longest streamed reply.
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"120s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode        string        `env:"GIN_MODE" envDefault:"release"`

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`
	APIBasePath    string `env:"API_BASE_PATH" envDefault:"/api/v1"`

	// Shared chats
	SharedCacheSize int `env:"SHARED_CACHE_SIZE" envDefault:"256"`

	KV       KVConfig
	Rate     RateConfig
	LLM      LLMConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env config: %w", err)
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.CORS.AllowedOrigins = trimAll(cfg.CORS.AllowedOrigins)
	cfg.KV.Backend = strings.ToLower(strings.TrimSpace(cfg.KV.Backend))
	cfg.KV.SQLDriver = strings.ToLower(strings.TrimSpace(cfg.KV.SQLDriver))
	cfg.Rate.Backend = strings.ToLower(strings.TrimSpace(cfg.Rate.Backend))
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.KV.RedisURL = strings.TrimSpace(cfg.KV.RedisURL)
	cfg.LLM.OpenAIAPIKey = strings.TrimSpace(cfg.LLM.OpenAIAPIKey)

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.KV.Backend {
	case "redis":
		if cfg.KV.RedisURL == "" {
			return cfg, errors.New("REDIS_URL is required when KV_BACKEND=redis")
		}
	case "sql":
		if strings.TrimSpace(cfg.KV.SQLDSN) == "" {
			return cfg, errors.New("SQL_DSN must not be empty")
		}
		switch cfg.KV.SQLDriver {
		case "sqlite", "postgres":
		default:
			return cfg, errors.New("SQL_DRIVER must be one of: sqlite, postgres")
		}
	default:
		return cfg, errors.New("KV_BACKEND must be one of: redis, sql")
	}
	if cfg.Rate.Limit < 1 {
		return cfg, errors.New("RATE_LIMIT must be >= 1")
	}
	if cfg.Rate.Window < time.Millisecond {
		return cfg, errors.New("RATE_WINDOW must be at least 1ms")
	}
	switch cfg.Rate.Backend {
	case "local":
	case "redis":
		if cfg.KV.RedisURL == "" {
			return cfg, errors.New("REDIS_URL is required when RATE_BACKEND=redis")
		}
	default:
		return cfg, errors.New("RATE_BACKEND must be one of: local, redis")
	}
	switch cfg.LLM.Provider {
	case "echo", "openai":
	default:
		return cfg, errors.New("LLM_PROVIDER must be one of: openai, echo")
	}
	if cfg.LLM.MaxPromptRunes < 0 {
		return cfg, errors.New("MAX_PROMPT_RUNES must be >= 0")
	}
	if cfg.SharedCacheSize < 0 {
		return cfg, errors.New("SHARED_CACHE_SIZE must be >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// MissingKeys lists environment keys the selected features need but that
// are unset. The service still boots without them (the provider falls back
// to echo, persistence is disabled for lack of identities) so they are
// reported rather than rejected.
func (c Config) MissingKeys() []string {
	var missing []string
	if c.LLM.Provider == "openai" && c.LLM.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" && !c.Auth.TrustUserIDHdr {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	sort.Strings(missing)
	return missing
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
