package domain

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"user":       RoleUser,
		" Assistant": RoleAssistant,
		"SYSTEM":     RoleSystem,
	}
	for in, want := range cases {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseRole("tool"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestNewMessage_IDsAreUniqueAndOrdered(t *testing.T) {
	a := NewMessage(RoleUser, "a")
	b := NewMessage(RoleUser, "b")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() || a.CreatedAt.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp, got %v", a.CreatedAt)
	}
	if a.Role != RoleUser || a.Content != "a" {
		t.Fatalf("unexpected message %+v", a)
	}
}

func TestChatRecord_OwnershipAndShare(t *testing.T) {
	var nilRec *ChatRecord
	if nilRec.Shared() || nilRec.OwnedBy("u1") {
		t.Fatalf("nil record must be neither shared nor owned")
	}
	rec := &ChatRecord{ID: "c1", UserID: "u1"}
	if !rec.OwnedBy("u1") || rec.OwnedBy("u2") || rec.OwnedBy("") {
		t.Fatalf("OwnedBy mismatch")
	}
	if rec.Shared() {
		t.Fatalf("fresh record must not be shared")
	}
	rec.SharePath = SharePathFor(rec.ID)
	if !rec.Shared() || rec.SharePath != "/share/c1" {
		t.Fatalf("unexpected share path %q", rec.SharePath)
	}
	if ChatPathFor("c1") != "/chat/c1" {
		t.Fatalf("unexpected chat path")
	}
}

func TestIdentity_Authenticated(t *testing.T) {
	if (Identity{}).Authenticated() {
		t.Fatalf("empty identity must be unauthenticated")
	}
	if (Identity{UserID: "  "}).Authenticated() {
		t.Fatalf("blank identity must be unauthenticated")
	}
	if !(Identity{UserID: "u1"}).Authenticated() {
		t.Fatalf("identity with user id must be authenticated")
	}
}

func TestConversationState_TurnPhases(t *testing.T) {
	s := NewConversationState("s1", nil)
	u := NewMessage(RoleUser, "hi")
	if err := s.BeginTurn(u); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}
	if !s.InFlight() || s.Len() != 1 {
		t.Fatalf("user message must be committed before the reply")
	}
	if err := s.BeginTurn(NewMessage(RoleUser, "again")); err != ErrTurnInFlight {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}
	if !s.CommitTurn(NewMessage(RoleAssistant, "hello")) {
		t.Fatalf("CommitTurn should succeed")
	}
	if s.InFlight() {
		t.Fatalf("turn must be closed after commit")
	}
	if s.CommitTurn(NewMessage(RoleAssistant, "dup")) {
		t.Fatalf("CommitTurn without a turn must be a no-op")
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestConversationState_AppendOnlySnapshots(t *testing.T) {
	seed := []Message{NewMessage(RoleUser, "one")}
	s := NewConversationState("s1", seed)
	seed[0].Content = "mutated"

	snap := s.Messages()
	if snap[0].Content != "one" {
		t.Fatalf("state must copy its seed history")
	}
	snap[0].Content = "mutated"
	if s.Messages()[0].Content != "one" {
		t.Fatalf("snapshots must not alias the history")
	}

	_ = s.BeginTurn(NewMessage(RoleUser, "two"))
	s.AbortTurn()
	if s.InFlight() || s.Len() != 2 {
		t.Fatalf("abort must keep the user message and clear the flag")
	}
	if got := s.Messages(); got[0].Content != "one" || got[1].Content != "two" {
		t.Fatalf("committed positions changed: %+v", got)
	}
}

func TestConversationState_ConcurrentReadsDuringTurn(t *testing.T) {
	s := NewConversationState("s1", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Messages()
				_ = s.InFlight()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_ = s.BeginTurn(NewMessage(RoleUser, "q"))
		s.CommitTurn(NewMessage(RoleAssistant, "a"))
	}
	wg.Wait()
	if s.Len() != 100 {
		t.Fatalf("expected 100 messages, got %d", s.Len())
	}
}

func TestConversationState_JSONRoundTrip(t *testing.T) {
	s := NewConversationState("s1", []Message{NewMessage(RoleUser, "hi")})
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ConversationState
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SessionID != "s1" || got.Len() != 1 || got.Messages()[0].Content != "hi" {
		t.Fatalf("unexpected decoded state: %s", b)
	}
}
