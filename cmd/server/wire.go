package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-stream/internal/config"
	"github.com/tbourn/go-chat-stream/internal/kv"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/ratelimit"
)

// backends holds the opened storage connections.
type backends struct {
	store kv.Store
	// redis is set when any component is configured for Redis.
	redis redis.UniversalClient

	closers []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

// openBackends connects the key-value store and, when needed, Redis for the
// distributed rate gate.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	var rds *kv.Redis
	if cfg.KV.Backend == "redis" || cfg.Rate.Backend == "redis" {
		r, err := kv.OpenRedis(ctx, kv.RedisOptions{URL: cfg.KV.RedisURL, Tx: cfg.KV.RedisTx})
		if err != nil {
			return nil, err
		}
		rds = r
		b.redis = r.Client()
		b.closers = append(b.closers, r.Close)
	}

	switch cfg.KV.Backend {
	case "redis":
		b.store = rds
	case "sql":
		s, err := kv.OpenSQL(kv.SQLOptions{
			Driver:  cfg.KV.SQLDriver,
			DSN:     cfg.KV.SQLDSN,
			Tracing: cfg.OTEL.Enabled,
			Silent:  cfg.GinMode == "release",
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open sql store: %w", err)
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
	default:
		b.Close()
		return nil, errors.New("unknown kv backend " + cfg.KV.Backend)
	}
	return b, nil
}

// newGate builds the admission gate. A Redis gate needs client; without one
// the process-local gate is used.
func newGate(cfg config.RateConfig, client redis.UniversalClient) ratelimit.Gate {
	p := ratelimit.Policy{Limit: cfg.Limit, Window: cfg.Window}
	if cfg.Backend == "redis" && client != nil {
		return ratelimit.Instrumented(ratelimit.NewRedis(client, p))
	}
	return ratelimit.Instrumented(ratelimit.NewLocal(p))
}

// newProvider builds the model provider. An openai provider without a key
// falls back to echo.
func newProvider(cfg config.LLMConfig, log zerolog.Logger) llm.Provider {
	if cfg.Provider == "openai" {
		p, err := llm.NewOpenAI(llm.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		if err == nil {
			return p
		}
		log.Warn().Err(err).Msg("openai provider unavailable; falling back to echo")
	}
	return llm.Echo{}
}
