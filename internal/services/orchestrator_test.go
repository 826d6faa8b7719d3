package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/ratelimit"
	"github.com/tbourn/go-chat-stream/internal/stream"
)

// probeProvider records the session history visible when the model is
// invoked, then delegates to a scripted provider.
type probeProvider struct {
	*llm.Scripted
	state *domain.ConversationState

	mu   sync.Mutex
	seen [][]domain.Message
}

func (p *probeProvider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	p.seen = append(p.seen, p.state.Messages())
	p.mu.Unlock()
	return p.Scripted.Stream(ctx, req)
}

func drainTurn(t *testing.T, turn *Turn) ([]string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var out []string
	for {
		d, ok, err := turn.Channel().Next(ctx)
		if !ok {
			return out, err
		}
		out = append(out, d)
	}
}

func waitTurn(t *testing.T, turn *Turn) (TurnResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := turn.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("turn did not finish")
	}
	return res, err
}

func TestOrchestrator_StreamedTextEqualsCommittedText(t *testing.T) {
	provider := &llm.Scripted{Deltas: []string{"Try ", "crisp ", "apples", "."}}
	o := &Orchestrator{Provider: provider, SystemPrompt: "sys"}
	state := domain.NewConversationState("s1", []domain.Message{
		domain.NewMessage(domain.RoleUser, "earlier"),
		domain.NewMessage(domain.RoleAssistant, "answer"),
	})

	turn, err := o.Submit(context.Background(), SubmitInput{State: state, Text: "  fruit?  "})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	deltas, err := drainTurn(t, turn)
	if err != nil {
		t.Fatalf("stream err: %v", err)
	}
	res, err := waitTurn(t, turn)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if res.Outcome != OutcomeCompleted || res.Assistant == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := strings.Join(deltas, ""); got != res.Assistant.Content || got != "Try crisp apples." {
		t.Fatalf("streamed %q, committed %q", got, res.Assistant.Content)
	}
	if turn.Channel().State() != stream.Closed {
		t.Fatalf("channel state = %s", turn.Channel().State())
	}

	msgs := state.Messages()
	if len(msgs) != 4 || msgs[2].Content != "fruit?" || msgs[3].Role != domain.RoleAssistant {
		t.Fatalf("history = %+v", msgs)
	}
	if state.InFlight() {
		t.Fatal("turn still in flight after commit")
	}

	req := provider.Requests()[0]
	if req.SystemPrompt != "sys" || len(req.Messages) != 3 || req.Messages[2].Content != "fruit?" {
		t.Fatalf("model request = %+v", req)
	}
}

func TestOrchestrator_UserMessageAppendedBeforeModelCall(t *testing.T) {
	state := domain.NewConversationState("s1", nil)
	p := &probeProvider{Scripted: &llm.Scripted{Deltas: []string{"ok"}}, state: state}
	o := &Orchestrator{Provider: p}

	turn, err := o.Submit(context.Background(), SubmitInput{State: state, Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := waitTurn(t, turn); err != nil {
		t.Fatal(err)
	}
	if len(p.seen) != 1 || len(p.seen[0]) != 1 || p.seen[0][0].Content != "hello" {
		t.Fatalf("history at model call = %+v", p.seen)
	}
}

func TestOrchestrator_AdmissionDeniedSkipsModel(t *testing.T) {
	provider := &llm.Scripted{Deltas: []string{"x"}}
	o := &Orchestrator{
		Provider: provider,
		Gate:     ratelimit.NewLocal(ratelimit.Policy{Limit: 2, Window: time.Hour}),
	}
	ident := domain.Identity{ClientKey: "203.0.113.7"}

	for i := 0; i < 2; i++ {
		st := domain.NewConversationState("s", nil)
		turn, err := o.Submit(context.Background(), SubmitInput{Identity: ident, State: st, Text: "hi"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if _, err := waitTurn(t, turn); err != nil {
			t.Fatal(err)
		}
	}

	st := domain.NewConversationState("s", nil)
	_, err := o.Submit(context.Background(), SubmitInput{Identity: ident, State: st, Text: "hi"})
	var denied *AdmissionDeniedError
	if !errors.As(err, &denied) || !errors.Is(err, ErrAdmissionDenied) {
		t.Fatalf("expected admission denial, got %v", err)
	}
	if denied.RetryAfter <= 0 {
		t.Fatalf("retry after = %s", denied.RetryAfter)
	}
	if errors.Is(err, ErrUpstream) {
		t.Fatal("denial must be distinct from upstream failure")
	}
	if provider.Calls() != 2 {
		t.Fatalf("model calls = %d; want 2", provider.Calls())
	}
	if st.Len() != 0 {
		t.Fatal("denied submit mutated state")
	}
}

func TestOrchestrator_ValidationErrors(t *testing.T) {
	provider := &llm.Scripted{}
	o := &Orchestrator{Provider: provider, MaxPromptRunes: 3}
	st := domain.NewConversationState("s", nil)

	if _, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "äöüß"}); !errors.Is(err, ErrTooLong) {
		t.Fatalf("too long: %v", err)
	}
	if _, err := o.Submit(context.Background(), SubmitInput{Text: "hi"}); err == nil {
		t.Fatal("nil state accepted")
	}
	if provider.Calls() != 0 || st.Len() != 0 {
		t.Fatal("invalid submit reached the model or mutated state")
	}
}

func TestOrchestrator_UpstreamFailureKeepsPartialOutput(t *testing.T) {
	boom := errors.New("connection reset")
	o := &Orchestrator{Provider: &llm.Scripted{Deltas: []string{"Half ", "an answer"}, FailAfter: boom}}
	st := domain.NewConversationState("s", nil)

	var committed TurnResult
	turn, err := o.Submit(context.Background(), SubmitInput{
		State:    st,
		Text:     "q",
		OnCommit: func(_ context.Context, res TurnResult) { committed = res },
	})
	if err != nil {
		t.Fatal(err)
	}
	deltas, serr := drainTurn(t, turn)
	if !errors.Is(serr, ErrUpstream) || !errors.Is(serr, boom) {
		t.Fatalf("stream terminal error = %v", serr)
	}
	if strings.Join(deltas, "") != "Half an answer" {
		t.Fatalf("delivered = %q", deltas)
	}

	res, err := waitTurn(t, turn)
	var up *UpstreamError
	if !errors.As(err, &up) || up.Partial != "Half an answer" {
		t.Fatalf("wait err = %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Assistant == nil || !res.Assistant.Incomplete {
		t.Fatalf("result = %+v", res)
	}
	msgs := st.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Half an answer" || !msgs[1].Incomplete {
		t.Fatalf("history = %+v", msgs)
	}
	if committed.Outcome != OutcomeFailed {
		t.Fatalf("OnCommit saw %+v", committed)
	}
}

func TestOrchestrator_ProviderOpenFailure(t *testing.T) {
	o := &Orchestrator{Provider: &llm.Scripted{OpenErr: errors.New("401 invalid key")}}
	st := domain.NewConversationState("s", nil)

	_, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "q"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if st.Len() != 1 || st.InFlight() {
		t.Fatalf("state after open failure: len=%d inFlight=%v", st.Len(), st.InFlight())
	}
	// The session accepts a new turn afterwards.
	o.Provider = &llm.Scripted{Deltas: []string{"fine"}}
	turn, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "again"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := waitTurn(t, turn); err != nil {
		t.Fatal(err)
	}
}

func TestOrchestrator_ConcurrentSubmitOnSessionRejected(t *testing.T) {
	o := &Orchestrator{Provider: &llm.Scripted{Deltas: []string{"a", "b", "c"}, Delay: 20 * time.Millisecond}}
	st := domain.NewConversationState("s", nil)

	turn, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "two"}); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("second submit: %v", err)
	}
	if _, err := waitTurn(t, turn); err != nil {
		t.Fatal(err)
	}
	if st.Len() != 2 {
		t.Fatalf("history len = %d", st.Len())
	}
}

func TestOrchestrator_ReaderCancelDoesNotLoseOutput(t *testing.T) {
	o := &Orchestrator{
		Provider: &llm.Scripted{Deltas: []string{"one ", "two ", "three ", "four"}, Delay: 30 * time.Millisecond},
		Buffer:   1,
	}
	st := domain.NewConversationState("s", nil)
	turn, err := o.Submit(context.Background(), SubmitInput{State: st, Text: "count"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if d, ok, err := turn.Channel().Next(ctx); !ok || err != nil || d != "one " {
		t.Fatalf("first delta = %q %v %v", d, ok, err)
	}
	turn.Cancel()

	res, err := waitTurn(t, turn)
	if err != nil {
		t.Fatalf("cancel is not an upstream failure: %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if turn.Channel().State() != stream.Cancelled {
		t.Fatalf("channel = %s", turn.Channel().State())
	}
	msgs := st.Messages()
	if len(msgs) != 2 || !msgs[1].Incomplete || !strings.HasPrefix(msgs[1].Content, "one ") {
		t.Fatalf("history after cancel = %+v", msgs)
	}
	if st.InFlight() {
		t.Fatal("turn left in flight")
	}
}

func TestOrchestrator_CallerContextCancelActsAsDisconnect(t *testing.T) {
	o := &Orchestrator{Provider: &llm.Scripted{Deltas: []string{"a", "b", "c", "d"}, Delay: 30 * time.Millisecond}}
	st := domain.NewConversationState("s", nil)

	ctx, cancel := context.WithCancel(context.Background())
	turn, err := o.Submit(ctx, SubmitInput{State: st, Text: "q"})
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	res, _ := waitTurn(t, turn)
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestOrchestrator_OnCommitPersistsChat(t *testing.T) {
	chats, _ := newChatService(t)
	o := &Orchestrator{Provider: &llm.Scripted{Deltas: []string{"Brie", " and Camembert"}}}
	me := domain.Identity{UserID: "A"}

	st, chatID, err := chats.OpenSession(context.Background(), me, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	turn, err := o.Submit(context.Background(), SubmitInput{
		Identity: me,
		State:    st,
		Text:     "soft cheese",
		OnCommit: func(ctx context.Context, _ TurnResult) {
			if _, err := chats.SaveTurn(ctx, me.UserID, chatID, st); err != nil {
				t.Errorf("save turn: %v", err)
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := waitTurn(t, turn); err != nil {
		t.Fatal(err)
	}

	rec, err := chats.Get(context.Background(), "A", chatID)
	if err != nil {
		t.Fatalf("saved chat: %v", err)
	}
	if len(rec.Messages) != 2 || rec.Messages[1].Content != "Brie and Camembert" || rec.Title != "Soft Cheese" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestOrchestrator_DefaultSystemPrompt(t *testing.T) {
	p := &llm.Scripted{}
	o := &Orchestrator{Provider: p}
	turn, err := o.Submit(context.Background(), SubmitInput{State: domain.NewConversationState("s", nil), Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := waitTurn(t, turn)
	if err != nil {
		t.Fatal(err)
	}
	if p.Requests()[0].SystemPrompt != DefaultSystemPrompt {
		t.Fatal("default system prompt not sent")
	}
	// A provider with no output still completes with an empty reply.
	if res.Outcome != OutcomeCompleted || res.Assistant == nil || res.Assistant.Content != "" {
		t.Fatalf("result = %+v", res)
	}
}
