package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-chat-stream/internal/config"
	httpapi "github.com/tbourn/go-chat-stream/internal/http"
	"github.com/tbourn/go-chat-stream/internal/kv"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/ratelimit"
	"github.com/tbourn/go-chat-stream/internal/services"
	"github.com/tbourn/go-chat-stream/internal/store"
)

const secret = "chatctl-test-secret"

// newServer runs the real API over miniredis with the echo provider.
func newServer(t *testing.T, gate ratelimit.Gate) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	httpapi.RegisterRoutes(r, config.Config{
		APIBasePath: "/api/v1",
		Auth:        config.AuthConfig{JWTSecret: secret},
		OTEL:        config.OTELConfig{ServiceName: "chatctl-test"},
	}, httpapi.Services{
		Chats: services.NewChatService(store.NewChats(kv.NewRedis(client, false)), 4),
		Turns: &services.Orchestrator{Gate: gate, Provider: llm.Echo{}},
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL + "/api/v1"
}

// run executes chatctl with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestChatctl_EndToEnd(t *testing.T) {
	base := newServer(t, nil)

	tok, _, err := run(t, "token", "alice", "--secret", secret, "--ttl", "1h")
	require.NoError(t, err)
	tok = strings.TrimSpace(tok)
	require.NotEmpty(t, tok)

	common := []string{"--url", base, "--token", tok}

	out, errOut, err := run(t, append([]string{"ask", "crisp", "apples"}, common...)...)
	require.NoError(t, err)
	require.Equal(t, "You said: crisp apples\n", out)
	require.Contains(t, errOut, "chat: ")
	chatID := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(errOut), "chat:"))
	require.NotEmpty(t, chatID)

	// Continue the same chat.
	_, _, err = run(t, append([]string{"ask", "--chat", chatID, "and", "pears?"}, common...)...)
	require.NoError(t, err)

	out, _, err = run(t, append([]string{"chats", "list"}, common...)...)
	require.NoError(t, err)
	require.Contains(t, out, chatID)
	require.Contains(t, out, "(4 messages)")
	require.Contains(t, out, "page 1/1, 1 total")

	out, _, err = run(t, append([]string{"chats", "get", chatID}, common...)...)
	require.NoError(t, err)
	require.Contains(t, out, "user: crisp apples")
	require.Contains(t, out, "assistant: You said: and pears?")

	out, _, err = run(t, append([]string{"chats", "share", chatID}, common...)...)
	require.NoError(t, err)
	require.Equal(t, "/share/"+chatID+"\n", out)

	// Public read needs no token.
	out, _, err = run(t, "--url", base, "chats", "get", "--shared", chatID, "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"share_path": "/share/`+chatID+`"`)

	_, _, err = run(t, append([]string{"chats", "clear"}, common...)...)
	require.ErrorContains(t, err, "--yes")

	out, _, err = run(t, append([]string{"chats", "delete", chatID}, common...)...)
	require.NoError(t, err)
	require.Equal(t, "deleted "+chatID+"\n", out)

	_, _, err = run(t, append([]string{"chats", "get", chatID}, common...)...)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
	require.Equal(t, "not_found", apiErr.Code)

	out, _, err = run(t, append([]string{"chats", "clear", "--yes"}, common...)...)
	require.NoError(t, err)
	require.Equal(t, "deleted 0 chats\n", out)
}

func TestChatctl_Unauthenticated(t *testing.T) {
	base := newServer(t, nil)

	_, _, err := run(t, "--url", base, "chats", "list")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 401, apiErr.Status)

	t.Setenv("AUTH_JWT_SECRET", "")
	_, _, err = run(t, "token", "alice", "--secret", "")
	require.Error(t, err)
}

func TestChatctl_AskRateLimited(t *testing.T) {
	base := newServer(t, ratelimit.NewLocal(ratelimit.Policy{Limit: 1, Window: time.Minute}))

	_, _, err := run(t, "--url", base, "ask", "hi")
	require.NoError(t, err)

	_, _, err = run(t, "--url", base, "ask", "again")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 429, apiErr.Status)
	require.Equal(t, "too_many_requests", apiErr.Code)
	require.Positive(t, apiErr.RetryAfter)
}

func TestReadStream(t *testing.T) {
	body := strings.Join([]string{
		"event:meta",
		`data:{"session_id":"s1","chat_id":"c1","user_message":{"role":"user","content":"hi"}}`,
		"",
		"event:delta",
		`data:{"text":"par"}`,
		"",
		"event:delta",
		`data:{"text":"tial"}`,
		"",
		"event:error",
		`data:{"code":"upstream_failed","message":"connection reset"}`,
		"",
		"event:done",
		`data:{"outcome":"failed","chat_id":"c1","message":{"role":"assistant","content":"partial","incomplete":true},"saved":true}`,
		"",
		"",
	}, "\n")

	var got strings.Builder
	meta, done, err := readStream(strings.NewReader(body), func(d string) { got.WriteString(d) })
	require.Equal(t, "partial", got.String())
	require.Equal(t, "c1", meta.ChatID)
	require.Equal(t, "failed", done.Outcome)
	require.True(t, done.Message.Incomplete)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "upstream_failed", apiErr.Code)

	// A stream cut before done is an error.
	_, _, err = readStream(strings.NewReader("event:meta\ndata:{}\n\nevent:delta\ndata:{\"text\":\"x\"}\n\n"), nil)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
