// Package domain defines the core types of the chat engine: messages, the
// persisted chat record, per-user index entries, caller identity, and the
// in-memory conversation state. These types are shared by the storage,
// orchestration, and transport layers and carry no persistence concerns.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates and normalizes a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

// Message is a single utterance within a conversation. Messages are
// immutable once committed to a ConversationState or a ChatRecord.
//
// Fields:
//   - ID: ULID, lexicographically ordered by creation time.
//   - Role: "user", "assistant" or "system".
//   - Content: full text of the message.
//   - CreatedAt: creation timestamp (UTC).
//   - Incomplete: set on assistant messages whose generation was cut short
//     by an upstream failure or cancellation.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Incomplete bool      `json:"incomplete,omitempty"`
}

// NewMessage builds a message with a fresh ULID and a UTC timestamp.
func NewMessage(role Role, content string) Message {
	now := time.Now().UTC()
	return Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// ChatRecord is the persisted snapshot of a conversation owned by a user.
//
// SharePath is empty until the chat is published; once set it never
// changes (publishing is monotonic).
type ChatRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Messages  []Message `json:"messages"`
	SharePath string    `json:"share_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Shared reports whether the chat has been published.
func (c *ChatRecord) Shared() bool { return c != nil && c.SharePath != "" }

// OwnedBy reports whether userID owns the chat.
func (c *ChatRecord) OwnedBy(userID string) bool {
	return c != nil && userID != "" && c.UserID == userID
}

// SharePathFor returns the canonical public path of a chat.
func SharePathFor(id string) string { return "/share/" + id }

// ChatPathFor returns the canonical private path of a chat.
func ChatPathFor(id string) string { return "/chat/" + id }

// IndexEntry is a (score, reference) pair of a user's chat index.
// Score is a unix-millisecond timestamp; Ref is the chat record key.
type IndexEntry struct {
	Ref   string  `json:"ref"`
	Score float64 `json:"score"`
}

// Identity is the caller as resolved by the authentication collaborator.
//
// UserID is empty for unauthenticated callers. ClientKey is the
// network-derived key used for admission control and is always set (it may
// be the shared anonymous bucket).
type Identity struct {
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ClientKey string `json:"-"`
}

// Authenticated reports whether a user session was resolved.
func (i Identity) Authenticated() bool { return strings.TrimSpace(i.UserID) != "" }
