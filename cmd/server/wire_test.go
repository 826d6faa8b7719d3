package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-chat-stream/internal/config"
	"github.com/tbourn/go-chat-stream/internal/kv"
	"github.com/tbourn/go-chat-stream/internal/llm"
)

func TestNewProvider(t *testing.T) {
	p := newProvider(config.LLMConfig{Provider: "echo"}, zerolog.Nop())
	require.Equal(t, "echo", p.Name())

	// Missing key falls back to echo.
	p = newProvider(config.LLMConfig{Provider: "openai"}, zerolog.Nop())
	require.IsType(t, llm.Echo{}, p)

	p = newProvider(config.LLMConfig{Provider: "openai", OpenAIAPIKey: "sk-test", OpenAIModel: "gpt-4o-mini"}, zerolog.Nop())
	require.Equal(t, "openai:gpt-4o-mini", p.Name())
}

func TestOpenBackends_SQLite(t *testing.T) {
	cfg := config.Config{
		GinMode: "release",
		KV:      config.KVConfig{Backend: "sql", SQLDriver: "sqlite", SQLDSN: filepath.Join(t.TempDir(), "chat.db")},
		Rate:    config.RateConfig{Backend: "local", Limit: 1, Window: time.Minute},
	}
	b, err := openBackends(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.IsType(t, &kv.SQL{}, b.store)
	require.Nil(t, b.redis)

	gate := newGate(cfg.Rate, b.redis)
	require.True(t, gate.Check(context.Background(), "1.2.3.4").Allowed)
	require.False(t, gate.Check(context.Background(), "1.2.3.4").Allowed)
}

func TestOpenBackends_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{
		KV:   config.KVConfig{Backend: "redis", RedisURL: "redis://" + mr.Addr()},
		Rate: config.RateConfig{Backend: "redis", Limit: 2, Window: time.Minute},
	}
	b, err := openBackends(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	require.IsType(t, &kv.Redis{}, b.store)
	require.NotNil(t, b.redis)

	gate := newGate(cfg.Rate, b.redis)
	ctx := context.Background()
	require.True(t, gate.Check(ctx, "alice").Allowed)
	require.True(t, gate.Check(ctx, "alice").Allowed)
	d := gate.Check(ctx, "alice")
	require.False(t, d.Allowed)
	require.Positive(t, d.RetryAfter)
}

func TestOpenBackends_RedisUnavailable(t *testing.T) {
	cfg := config.Config{
		KV: config.KVConfig{Backend: "redis", RedisURL: "redis://127.0.0.1:1"},
	}
	_, err := openBackends(context.Background(), cfg)
	require.ErrorIs(t, err, kv.ErrUnavailable)
}
