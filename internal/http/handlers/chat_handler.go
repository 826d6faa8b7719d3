// Chat HTTP handlers.
//
// This file exposes the persisted-chat endpoints:
//   - GET    /chats              (list, paginated, weak ETag)
//   - DELETE /chats              (clear all of the caller's chats)
//   - GET    /chats/{id}         (read one)
//   - PUT    /chats/{id}         (save a snapshot)
//   - DELETE /chats/{id}         (delete)
//   - POST   /chats/{id}/share   (publish)
//   - GET    /share/{id}         (public read of a published chat)
//
// Handlers are transport-thin: they validate input, call ChatService and
// translate the result or error into the response.
package handlers

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/services"
	"github.com/tbourn/go-chat-stream/internal/utils"
)

// ChatService defines the persistence operations consumed by the handlers.
// Implementations must be safe for concurrent use.
type ChatService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]*domain.ChatRecord, int64, []services.ConsistencyWarning, error)
	Version(ctx context.Context, userID string) (int64, float64, error)
	Get(ctx context.Context, userID, id string) (*domain.ChatRecord, error)
	Save(ctx context.Context, userID string, rec *domain.ChatRecord) (*domain.ChatRecord, error)
	Share(ctx context.Context, userID, id string) (*domain.ChatRecord, error)
	Delete(ctx context.Context, userID, id string) error
	Clear(ctx context.Context, userID string) (int, error)
	GetShared(ctx context.Context, id string) (*domain.ChatRecord, error)

	OpenSession(ctx context.Context, ident domain.Identity, chatID string, history []domain.Message) (*domain.ConversationState, string, error)
	SaveTurn(ctx context.Context, userID, chatID string, state *domain.ConversationState) (*domain.ChatRecord, error)
}

// TurnSubmitter starts a conversation turn.
type TurnSubmitter interface {
	Submit(ctx context.Context, in services.SubmitInput) (*services.Turn, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	chatSvc ChatService
	turns   TurnSubmitter
	locks   *turnLocks

	// MaxPromptRunes is echoed in the prompt_too_long message; the
	// orchestrator enforces it.
	MaxPromptRunes int
}

// New constructs Handlers bound to the given services.
func New(chatSvc ChatService, turns TurnSubmitter) *Handlers {
	return &Handlers{chatSvc: chatSvc, turns: turns, locks: newTurnLocks()}
}

//
// DTOs
//

// SaveChatRequest is the JSON payload of PUT /chats/{id}.
type SaveChatRequest struct {
	Title    string           `json:"title" example:"Apples For Baking"`
	Messages []domain.Message `json:"messages"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats and pagination information.
// Warnings lists index entries that were skipped.
type ListChatsResponse struct {
	Chats      []*domain.ChatRecord `json:"chats"`
	Pagination Pagination           `json:"pagination"`
	Warnings   []string             `json:"warnings,omitempty"`
}

// ClearChatsResponse reports how many chats were removed.
type ClearChatsResponse struct {
	Deleted int `json:"deleted"`
}

//
// Helpers
//

// userID returns the authenticated user id, or "" for anonymous callers.
func userID(c *gin.Context) string {
	return middleware.IdentityFrom(c).UserID
}

// listETag is a weak validator over the index version and the mutable
// fields of the listed records.
func listETag(uid string, page, pageSize int, count int64, maxScore float64, items []*domain.ChatRecord) string {
	h := fnv.New64a()
	for _, it := range items {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00", it.ID, it.Title, it.SharePath, len(it.Messages))
	}
	return fmt.Sprintf(`W/"chats:%s:%d:%d:%d:%d:%x"`, uid, count, int64(maxScore), page, pageSize, h.Sum64())
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	p := utils.ClampPage(c.Query("page"), c.Query("page_size"))
	return p.Page, p.Size
}

//
// Handlers
//

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of the caller's chats, most recent first. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	items, total, warnings, err := h.chatSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []*domain.ChatRecord{}
	}

	// Share does not move the index, so the page content is part of the tag.
	if count, maxScore, err := h.chatSvc.Version(ctx, uid); err == nil {
		etag := listETag(uid, page, pageSize, count, maxScore, items)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListChatsResponse{
		Chats: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, w.Reason+": "+w.Ref)
	}
	ok(c, http.StatusOK, resp)
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID"
// @Success     200  {object} domain.ChatRecord
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     403  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	rec, err := h.chatSvc.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// SaveChat godoc
// @ID          saveChat
// @Summary     Save a chat snapshot
// @Description Creates or replaces the chat with the given id. The owner and an existing share path are kept.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string                     true  "Chat ID"
// @Param       body  body  handlers.SaveChatRequest   true  "Snapshot"
// @Success     200  {object} domain.ChatRecord
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     403  {object} handlers.ErrorResponse
// @Router      /chats/{id} [put]
func (h *Handlers) SaveChat(c *gin.Context) {
	var req SaveChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	for _, m := range req.Messages {
		if _, err := domain.ParseRole(string(m.Role)); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
	}

	uid := userID(c)
	rec, err := h.chatSvc.Save(c.Request.Context(), uid, &domain.ChatRecord{
		ID:       strings.TrimSpace(c.Param("id")),
		UserID:   uid,
		Title:    req.Title,
		Messages: req.Messages,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// ShareChat godoc
// @ID          shareChat
// @Summary     Publish a chat
// @Description Sets the chat's public share path. Idempotent.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID"
// @Success     200  {object} domain.ChatRecord
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     403  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /chats/{id}/share [post]
func (h *Handlers) ShareChat(c *gin.Context) {
	rec, err := h.chatSvc.Share(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Tags        Chats
// @Security    BearerAuth
// @Param       id  path  string  true  "Chat ID"
// @Success     204  {string} string "No Content"
// @Failure     401  {object} handlers.ErrorResponse
// @Failure     403  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	if err := h.chatSvc.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ClearChats godoc
// @ID          clearChats
// @Summary     Delete all of the caller's chats
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.ClearChatsResponse
// @Failure     401  {object} handlers.ErrorResponse
// @Router      /chats [delete]
func (h *Handlers) ClearChats(c *gin.Context) {
	n, err := h.chatSvc.Clear(c.Request.Context(), userID(c))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ClearChatsResponse{Deleted: n})
}

// GetSharedChat godoc
// @ID          getSharedChat
// @Summary     Read a published chat
// @Description Public; no authentication required. Unpublished chats are reported as not found.
// @Tags        Share
// @Produce     json
// @Param       id  path  string  true  "Chat ID"
// @Success     200  {object} domain.ChatRecord
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /share/{id} [get]
func (h *Handlers) GetSharedChat(c *gin.Context) {
	rec, err := h.chatSvc.GetShared(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}
