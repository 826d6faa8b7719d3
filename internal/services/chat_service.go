// Package services – ChatService
//
// This file implements the ChatService, which manages persisted chats on
// top of store.Chats. Every operation requires an authenticated user and
// enforces ownership: a chat can be read, saved over, shared or deleted only
// by its owner. Save and Delete issue the record write and the index write
// as one batch. List tolerates index entries whose record is gone and
// reports them as ConsistencyWarnings instead of failing.
//
// Shared chats are public and served through a small LRU cache.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/store"
)

// ChatService provides the caller-facing chat persistence operations.
type ChatService struct {
	Chats *store.Chats

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale drives title casing; Und means English.
	TitleLocale language.Tag

	shared *lru.Cache
	now    func() time.Time
}

// NewChatService constructs a ChatService. sharedCacheSize <= 0 disables the
// shared-chat cache.
func NewChatService(chats *store.Chats, sharedCacheSize int) *ChatService {
	s := &ChatService{
		Chats:       chats,
		TitleMaxLen: 100,
		TitleLocale: language.Und,
		now:         time.Now,
	}
	if sharedCacheSize > 0 {
		if c, err := lru.New(sharedCacheSize); err == nil {
			s.shared = c
		}
	}
	return s
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthenticated
	}
	return nil
}

// mapStoreErr translates store errors into service errors.
func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// Get returns a chat owned by userID.
func (s *ChatService) Get(ctx context.Context, userID, id string) (*domain.ChatRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	rec, err := s.Chats.Records.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !rec.OwnedBy(userID) {
		return nil, ErrUnauthorized
	}
	return rec, nil
}

// ListPage returns one page of the user's chats, most recent first, plus the
// total number of index entries. Orphaned entries are skipped and returned
// as warnings.
func (s *ChatService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]*domain.ChatRecord, int64, []ConsistencyWarning, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if err := requireUser(userID); err != nil {
		return nil, 0, nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, _, err := s.Chats.Index.Stats(ctx, userID)
	if err != nil {
		return nil, 0, nil, err
	}
	if total == 0 {
		return []*domain.ChatRecord{}, 0, nil, nil
	}

	items, anomalies, err := s.Chats.List(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, 0, nil, err
	}
	var warnings []ConsistencyWarning
	if len(anomalies) > 0 {
		lg := loggerFrom(ctx)
		for _, a := range anomalies {
			w := ConsistencyWarning{UserID: userID, Ref: a.Ref, Reason: a.Reason}
			warnings = append(warnings, w)
			observability.IndexOrphans.Inc()
			lg.Warn().Str("user_id", userID).Str("ref", a.Ref).Str("reason", a.Reason).Msg("skipping inconsistent index entry")
		}
		span.SetAttributes(attribute.Int("consistency.warnings", len(warnings)))
	}
	return items, total, warnings, nil
}

// Version returns the index size and latest score of the user's chats,
// suitable for building a list ETag.
func (s *ChatService) Version(ctx context.Context, userID string) (int64, float64, error) {
	if err := requireUser(userID); err != nil {
		return 0, 0, err
	}
	return s.Chats.Index.Stats(ctx, userID)
}

// Save writes a full snapshot of rec for userID and moves it to the head of
// the user's index. An empty owner is filled with userID; a record owned by
// someone else, or overwriting someone else's chat, is refused. A SharePath
// already published is kept.
func (s *ChatService) Save(ctx context.Context, userID string, rec *domain.ChatRecord) (*domain.ChatRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return nil, ErrInvalidChat
	}
	if rec.UserID == "" {
		rec.UserID = userID
	}
	if rec.UserID != userID {
		return nil, ErrUnauthorized
	}

	existing, err := s.Chats.Records.Get(ctx, rec.ID)
	switch {
	case err == nil:
		if !existing.OwnedBy(userID) {
			return nil, ErrUnauthorized
		}
		if existing.Shared() {
			rec.SharePath = existing.SharePath
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
		if rec.Title == "" {
			rec.Title = existing.Title
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	s.fill(rec)
	if _, err := s.Chats.Save(ctx, rec); err != nil {
		return nil, err
	}
	if s.shared != nil && rec.Shared() {
		s.shared.Remove(rec.ID)
	}
	return rec, nil
}

// fill sets defaults for a record about to be written.
func (s *ChatService) fill(rec *domain.ChatRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Path == "" {
		rec.Path = domain.ChatPathFor(rec.ID)
	}
	if rec.Title == "" {
		rec.Title = s.titleFromMessages(rec.Messages)
	}
	rec.Title = s.clip(normalizeTitle(rec.Title))
	if rec.Title == "" {
		rec.Title = defaultTitleNew
	}
}

// Share publishes a chat owned by userID. It is idempotent: a chat already
// shared keeps its SharePath and nothing is written. The index is never
// touched.
func (s *ChatService) Share(ctx context.Context, userID, id string) (*domain.ChatRecord, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Shared() {
		return rec, nil
	}
	rec.SharePath = domain.SharePathFor(rec.ID)
	if err := s.Chats.Records.SetSharePath(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a chat owned by userID together with its index entry. The
// owner is read from the record first.
func (s *ChatService) Delete(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	owner, err := s.Chats.Records.Owner(ctx, id)
	if err != nil {
		return mapStoreErr(err)
	}
	if owner != userID {
		return ErrUnauthorized
	}
	if err := s.Chats.Delete(ctx, id, owner); err != nil {
		return err
	}
	if s.shared != nil {
		s.shared.Remove(id)
	}
	return nil
}

// Clear deletes every chat of userID and returns how many were removed.
func (s *ChatService) Clear(ctx context.Context, userID string) (int, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	n, err := s.Chats.Clear(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.shared != nil && n > 0 {
		s.shared.Purge()
	}
	return n, nil
}

// GetShared returns a published chat to anyone. Unshared chats are reported
// as not found.
func (s *ChatService) GetShared(ctx context.Context, id string) (*domain.ChatRecord, error) {
	if s.shared != nil {
		if v, ok := s.shared.Get(id); ok {
			return v.(*domain.ChatRecord), nil
		}
	}
	rec, err := s.Chats.Records.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !rec.Shared() {
		return nil, ErrChatNotFound
	}
	if s.shared != nil {
		s.shared.Add(id, rec)
	}
	return rec, nil
}

// OpenSession builds the ConversationState for a submit.
//
// Authenticated callers continue the stored chat chatID (a new chat when it
// does not exist yet, with a fresh id when chatID is empty); history is
// ignored. Anonymous callers get a transient state seeded from history.
// It returns the state and, for authenticated callers, the chat id the turn
// will be saved under.
func (s *ChatService) OpenSession(ctx context.Context, ident domain.Identity, chatID string, history []domain.Message) (*domain.ConversationState, string, error) {
	chatID = strings.TrimSpace(chatID)
	if !ident.Authenticated() {
		sid := chatID
		if sid == "" {
			sid = uuid.NewString()
		}
		return domain.NewConversationState(sid, history), "", nil
	}

	if chatID == "" {
		chatID = uuid.NewString()
		return domain.NewConversationState(chatID, nil), chatID, nil
	}
	rec, err := s.Get(ctx, ident.UserID, chatID)
	switch {
	case err == nil:
		return domain.NewConversationState(chatID, rec.Messages), chatID, nil
	case errors.Is(err, ErrChatNotFound):
		return domain.NewConversationState(chatID, nil), chatID, nil
	default:
		return nil, "", err
	}
}

// SaveTurn persists the state after a turn as chat chatID of userID.
func (s *ChatService) SaveTurn(ctx context.Context, userID, chatID string, state *domain.ConversationState) (*domain.ChatRecord, error) {
	return s.Save(ctx, userID, &domain.ChatRecord{
		ID:       chatID,
		UserID:   userID,
		Messages: state.Messages(),
	})
}
