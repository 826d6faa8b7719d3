// Command server runs the chat streaming API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-chat-stream/docs"
	"github.com/tbourn/go-chat-stream/internal/config"
	httpapi "github.com/tbourn/go-chat-stream/internal/http"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/services"
	"github.com/tbourn/go-chat-stream/internal/store"
	"github.com/tbourn/go-chat-stream/internal/sysutil"
)

// @title                      Go Chat Stream API
// @version                    1.0
// @description                Streaming chat service: persisted conversations, share links and server-sent reply streams.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, os.Stderr)
	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	backends, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	for _, k := range cfg.MissingKeys() {
		log.Warn().Str("key", k).Msg("configuration missing; running degraded")
	}

	provider := newProvider(cfg.LLM, log)
	gate := newGate(cfg.Rate, backends.redis)

	chats := services.NewChatService(store.NewChats(backends.store), cfg.SharedCacheSize)
	orch := &services.Orchestrator{
		Gate:           gate,
		Provider:       provider,
		SystemPrompt:   cfg.LLM.SystemPrompt,
		MaxPromptRunes: cfg.LLM.MaxPromptRunes,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Services{Chats: chats, Turns: orch})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("kv", cfg.KV.Backend).
			Str("rate", cfg.Rate.Backend).
			Str("provider", provider.Name()).
			Str("version", version).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited cleanly")
	return nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
