// Message HTTP handler.
//
// POST /chat submits one user message and streams the assistant reply as
// server-sent events:
//
//	event: meta   {"session_id": "...", "chat_id": "...", "user_message": {...}}
//	event: delta  {"text": "..."}            (zero or more, in order)
//	event: error  {"code": "upstream_failed", "message": "..."}   (on failure)
//	event: done   {"outcome": "completed", "message": {...}}
//
// Errors detected before the stream starts (validation, admission, auth)
// are plain JSON error responses. Authenticated callers continue the stored
// chat named by chat_id and the finished turn is saved; anonymous callers
// send their history along and nothing is persisted.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/services"
)

const (
	ModeChat      = "chat"
	ModeRecommend = "recommend"
)

//
// DTOs
//

// RecommendationRequest fills the recommendation template.
type RecommendationRequest struct {
	GroceryType string `json:"grocery_type" example:"apples"`
	Categories  string `json:"categories" example:"sweet, crunchy"`
	Descriptors string `json:"descriptors" example:"good for baking"`
}

// PostChatRequest is the JSON payload of POST /chat.
type PostChatRequest struct {
	// ChatID continues a stored chat (authenticated callers). Empty starts
	// a new one.
	ChatID string `json:"chat_id,omitempty"`
	// Content is the user message. In recommend mode it may be empty.
	Content string `json:"content" example:"Which apples are best for baking pie?"`
	// Mode is "chat" (default) or "recommend".
	Mode           string                 `json:"mode,omitempty" enums:"chat,recommend"`
	Recommendation *RecommendationRequest `json:"recommendation,omitempty"`
	// Messages is the prior history of an anonymous conversation.
	Messages []domain.Message `json:"messages,omitempty"`
}

// StreamMeta is the payload of the first event.
type StreamMeta struct {
	SessionID   string         `json:"session_id"`
	ChatID      string         `json:"chat_id,omitempty"`
	UserMessage domain.Message `json:"user_message"`
}

// StreamDelta is the payload of a delta event.
type StreamDelta struct {
	Text string `json:"text"`
}

// StreamDone is the payload of the terminal event.
type StreamDone struct {
	Outcome string          `json:"outcome" enums:"completed,failed,cancelled"`
	ChatID  string          `json:"chat_id,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Saved   bool            `json:"saved"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses blank-line runs and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// promptText returns the text to submit for req.
func promptText(req PostChatRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", ModeChat:
		return sanitizeContent(req.Content), nil
	case ModeRecommend:
		if req.Recommendation == nil || strings.TrimSpace(req.Recommendation.GroceryType) == "" {
			return "", errors.New("recommendation.grocery_type is required in recommend mode")
		}
		return services.RecommendationPrompt(services.Recommendation{
			GroceryType: req.Recommendation.GroceryType,
			Categories:  req.Recommendation.Categories,
			Descriptors: req.Recommendation.Descriptors,
		}), nil
	default:
		return "", errors.New("mode must be chat or recommend")
	}
}

// turnLocks refuses a second turn on a chat while one is streaming. States
// are rebuilt per request, so the in-flight flag of ConversationState alone
// cannot see a concurrent request.
type turnLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newTurnLocks() *turnLocks {
	return &turnLocks{active: make(map[string]struct{})}
}

// acquire returns a release func, or false when key is busy.
func (l *turnLocks) acquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[key]; busy {
		return nil, false
	}
	l.active[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, key)
			l.mu.Unlock()
		})
	}, true
}

//
// Handlers
//

// PostChat godoc
// @ID          postChat
// @Summary     Send a message and stream the reply
// @Description Appends the user message, streams the assistant reply as server-sent events and, for authenticated callers, saves the chat once the reply is committed.
// @Tags        Messages
// @Accept      json
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       body  body  handlers.PostChatRequest  true  "Message"
// @Success     200  {object}  handlers.StreamDone     "event stream; terminal event payload shown"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse  "A reply is already streaming for this chat"
// @Failure     429  {object}  handlers.ErrorResponse
// @Header      429  {string}  Retry-After "Seconds until the window resets"
// @Failure     502  {object}  handlers.ErrorResponse
// @Router      /chat [post]
func (h *Handlers) PostChat(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	var req PostChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	text, err := promptText(req)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	ident := middleware.IdentityFrom(c)
	state, saveID, err := h.chatSvc.OpenSession(ctx, ident, req.ChatID, req.Messages)
	if err != nil {
		failErr(c, err)
		return
	}

	release, acquired := h.locks.acquire(ident.UserID + "/" + state.SessionID)
	if !acquired {
		failErr(c, services.ErrTurnInFlight)
		return
	}

	saved := make(chan bool, 1)
	turn, err := h.turns.Submit(ctx, services.SubmitInput{
		Identity: ident,
		State:    state,
		Text:     text,
		OnCommit: func(cctx context.Context, res services.TurnResult) {
			defer release()
			if saveID == "" {
				saved <- false
				return
			}
			if _, err := h.chatSvc.SaveTurn(cctx, ident.UserID, saveID, state); err != nil {
				lg.Error().Err(err).Str("chat_id", saveID).Msg("save turn failed")
				saved <- false
				return
			}
			saved <- true
		},
	})
	if err != nil {
		release()
		if errors.Is(err, services.ErrTooLong) && h.MaxPromptRunes > 0 {
			fail(c, http.StatusBadRequest, ErrCodePromptTooLong,
				fmt.Sprintf("message exceeds %d characters", h.MaxPromptRunes))
			return
		}
		failErr(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("meta", StreamMeta{SessionID: state.SessionID, ChatID: saveID, UserMessage: lastUser(state)})
	c.Writer.Flush()

	// Next reports !more once the channel is closed, failed or cancelled,
	// or when the client disconnects.
	ch := turn.Channel()
	for {
		d, more, _ := ch.Next(ctx)
		if !more {
			break
		}
		c.SSEvent("delta", StreamDelta{Text: d})
		c.Writer.Flush()
	}

	if ctx.Err() != nil {
		// Client went away; the turn still commits in the background.
		turn.Cancel()
		return
	}

	res, err := turn.Wait(ctx)
	if err != nil && !errors.Is(err, services.ErrUpstream) {
		turn.Cancel()
		return
	}
	if res.Outcome == services.OutcomeFailed {
		msg := services.ErrUpstream.Error()
		if res.Err != nil {
			msg = res.Err.Error()
		}
		c.SSEvent("error", errorBody(c, ErrCodeUpstreamFailed, msg))
	}
	c.SSEvent("done", StreamDone{
		Outcome: res.Outcome,
		ChatID:  saveID,
		Message: res.Assistant,
		Saved:   <-saved,
	})
	c.Writer.Flush()
}

// lastUser returns the user message just appended to state.
func lastUser(state *domain.ConversationState) domain.Message {
	msgs := state.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i]
		}
	}
	return domain.Message{}
}
