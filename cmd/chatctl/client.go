package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/handlers"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
)

// apiClient talks to the chat API.
type apiClient struct {
	http *resty.Client
}

// APIError is a non-2xx reply carrying the service's error envelope.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error (status %d, %s): %s", e.Status, e.Code, e.Message)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

func newAPIClient(baseURL, token, userID string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", "chatctl/"+version).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	if token != "" {
		c.SetAuthToken(token)
	}
	if userID != "" {
		c.SetHeader(middleware.HeaderUserID, userID)
	}
	return &apiClient{http: c}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().
		SetContext(ctx).
		SetError(&handlers.ErrorResponse{})
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return apiError(resp.StatusCode(), resp.Header().Get("Retry-After"), resp.Error(), resp.Body())
	}
	return nil
}

func apiError(status int, retryAfter string, parsed any, raw []byte) *APIError {
	e := &APIError{Status: status}
	if er, ok := parsed.(*handlers.ErrorResponse); ok && er.Code != "" {
		e.Code, e.Message = er.Code, er.Message
	} else {
		e.Message = strings.TrimSpace(string(raw))
	}
	if secs, err := strconv.Atoi(retryAfter); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}

func (c *apiClient) ListChats(ctx context.Context, page, size int) (*handlers.ListChatsResponse, error) {
	var out handlers.ListChatsResponse
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))
	if err := c.do(ctx, resty.MethodGet, "/chats?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) GetChat(ctx context.Context, id string) (*domain.ChatRecord, error) {
	var out domain.ChatRecord
	if err := c.do(ctx, resty.MethodGet, "/chats/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) ShareChat(ctx context.Context, id string) (*domain.ChatRecord, error) {
	var out domain.ChatRecord
	if err := c.do(ctx, resty.MethodPost, "/chats/"+url.PathEscape(id)+"/share", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) GetShared(ctx context.Context, id string) (*domain.ChatRecord, error) {
	var out domain.ChatRecord
	if err := c.do(ctx, resty.MethodGet, "/share/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) DeleteChat(ctx context.Context, id string) error {
	return c.do(ctx, resty.MethodDelete, "/chats/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) ClearChats(ctx context.Context) (int, error) {
	var out handlers.ClearChatsResponse
	if err := c.do(ctx, resty.MethodDelete, "/chats", nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// Ask submits a message and calls onDelta for every streamed fragment. It
// returns the meta and terminal events.
func (c *apiClient) Ask(ctx context.Context, in handlers.PostChatRequest, onDelta func(string)) (*handlers.StreamMeta, *handlers.StreamDone, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetHeader("Accept-Encoding", "identity").
		SetBody(in).
		SetDoNotParseResponse(true).
		Post("/chat")
	if err != nil {
		return nil, nil, fmt.Errorf("POST /chat: %w", err)
	}
	body := resp.RawBody()
	if body == nil {
		return nil, nil, errors.New("POST /chat: empty response body")
	}
	defer body.Close()

	if resp.IsError() {
		raw, _ := io.ReadAll(body)
		var er handlers.ErrorResponse
		_ = json.Unmarshal(raw, &er)
		return nil, nil, apiError(resp.StatusCode(), resp.Header().Get("Retry-After"), &er, raw)
	}
	return readStream(body, onDelta)
}

// readStream consumes an event stream until the done event.
func readStream(r io.Reader, onDelta func(string)) (*handlers.StreamMeta, *handlers.StreamDone, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	var (
		meta    *handlers.StreamMeta
		event   string
		failure *handlers.ErrorResponse
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := []byte(strings.TrimPrefix(line, "data:"))
			switch event {
			case "meta":
				meta = &handlers.StreamMeta{}
				if err := json.Unmarshal(data, meta); err != nil {
					return nil, nil, fmt.Errorf("decode meta event: %w", err)
				}
			case "delta":
				var d handlers.StreamDelta
				if err := json.Unmarshal(data, &d); err != nil {
					return meta, nil, fmt.Errorf("decode delta event: %w", err)
				}
				if onDelta != nil {
					onDelta(d.Text)
				}
			case "error":
				failure = &handlers.ErrorResponse{}
				_ = json.Unmarshal(data, failure)
			case "done":
				var done handlers.StreamDone
				if err := json.Unmarshal(data, &done); err != nil {
					return meta, nil, fmt.Errorf("decode done event: %w", err)
				}
				if failure != nil {
					return meta, &done, &APIError{Status: 200, Code: failure.Code, Message: failure.Message}
				}
				return meta, &done, nil
			}
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return meta, nil, err
	}
	return meta, nil, io.ErrUnexpectedEOF
}
