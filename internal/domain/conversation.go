package domain

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrTurnInFlight is returned when a turn is started on a session that
// already has an assistant reply streaming.
var ErrTurnInFlight = errors.New("a reply is already being generated for this session")

// ConversationState is the running history of one session.
//
// The history is append-only. A turn has two phases: BeginTurn appends the
// user message (draft phase) and marks an assistant reply as in flight;
// CommitTurn appends the assistant message (commit phase) and clears the
// flag. At most one reply may be in flight at a time.
//
// The state is owned by one caller; the internal lock only makes
// concurrent reads (Messages, Len) safe while a turn streams.
type ConversationState struct {
	SessionID string

	mu       sync.RWMutex
	messages []Message
	inFlight bool
}

// NewConversationState creates a state seeded with an existing history.
// The slice is copied.
func NewConversationState(sessionID string, history []Message) *ConversationState {
	msgs := make([]Message, len(history))
	copy(msgs, history)
	return &ConversationState{SessionID: sessionID, messages: msgs}
}

// Messages returns a snapshot of the committed history.
func (s *ConversationState) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of committed messages.
func (s *ConversationState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// InFlight reports whether an assistant reply is currently streaming.
func (s *ConversationState) InFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

// BeginTurn appends the user message and marks a reply as in flight.
func (s *ConversationState) BeginTurn(user Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTurnInFlight
	}
	s.messages = append(s.messages, user)
	s.inFlight = true
	return nil
}

// CommitTurn appends the assistant reply and ends the turn.
// It is a no-op when no turn is in flight.
func (s *ConversationState) CommitTurn(assistant Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return false
	}
	s.messages = append(s.messages, assistant)
	s.inFlight = false
	return true
}

// AbortTurn ends the turn without committing a reply. The user message
// stays in the history.
func (s *ConversationState) AbortTurn() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

type conversationStateJSON struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// MarshalJSON encodes the committed history.
func (s *ConversationState) MarshalJSON() ([]byte, error) {
	return json.Marshal(conversationStateJSON{SessionID: s.SessionID, Messages: s.Messages()})
}

// UnmarshalJSON decodes a session id and history.
func (s *ConversationState) UnmarshalJSON(b []byte) error {
	var v conversationStateJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SessionID = v.SessionID
	s.messages = v.Messages
	s.inFlight = false
	return nil
}
