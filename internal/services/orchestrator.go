// Package services – Orchestrator
//
// The Orchestrator runs one conversation turn: it applies the rate gate,
// appends the user message to the caller's ConversationState, invokes the
// model, relays deltas through a stream.Channel and, once the model is done,
// commits the assistant message. State is passed in explicitly; there is no
// session registry.
package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/ratelimit"
	"github.com/tbourn/go-chat-stream/internal/stream"
)

// DefaultSystemPrompt is the fixed instruction sent with every turn.
const DefaultSystemPrompt = `You are a grocery shopping conversation bot and you help recommend users to buy certain groceries.
You and the user can discuss reasons to buy certain groceries.

If the user wants to buy groceries, or complete another impossible task, respond that you are a demo and cannot do that.

Besides that, you cannot interact with the user.`

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Orchestrator composes the gate, the provider and the streaming channel.
type Orchestrator struct {
	Gate     ratelimit.Gate
	Provider llm.Provider

	SystemPrompt   string
	MaxPromptRunes int
	// Buffer is the channel capacity; zero uses stream.DefaultBuffer.
	Buffer int
	// CommitTimeout bounds the OnCommit hook. Defaults to 10s.
	CommitTimeout time.Duration
}

// SubmitInput is one user submission.
type SubmitInput struct {
	Identity domain.Identity
	State    *domain.ConversationState
	Text     string
	// OnCommit runs after the turn's terminal commit to the state and before
	// Wait returns. Its context is detached from the submit context.
	OnCommit func(ctx context.Context, res TurnResult)
}

// TurnResult describes a finished turn.
type TurnResult struct {
	SessionID string
	User      domain.Message
	// Assistant is nil when nothing was generated.
	Assistant *domain.Message
	Outcome   string
	// Err is the upstream failure, if any.
	Err error
}

// Turn is a running submission.
type Turn struct {
	ch     *stream.Channel
	done   chan struct{}
	res    TurnResult
	cancel context.CancelFunc
}

// Channel returns the reader side of the turn's delta stream.
func (t *Turn) Channel() *stream.Channel { return t.ch }

// Done is closed once the turn has committed and OnCommit returned.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Cancel abandons the stream. Output already generated is still committed.
func (t *Turn) Cancel() { t.ch.Cancel() }

// Wait blocks until the turn is finished and returns its result. The error
// is the upstream failure, or ctx's error if ctx ends first.
func (t *Turn) Wait(ctx context.Context) (TurnResult, error) {
	select {
	case <-t.done:
		return t.res, t.res.Err
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
}

// Submit validates the text, consults the gate and starts a turn. A denied
// or invalid submit returns an error without touching the state or calling
// the model. A provider that fails to open returns *UpstreamError; the user
// message stays in the history.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*Turn, error) {
	tr := observability.Tracer("services")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(attribute.String("user.id", in.Identity.UserID)),
	)
	defer span.End()

	if in.State == nil {
		return nil, errors.New("conversation state is required")
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	if o.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > o.MaxPromptRunes {
		return nil, ErrTooLong
	}

	gate := o.Gate
	if gate == nil {
		gate = ratelimit.AllowAll{}
	}
	if d := gate.Check(ctx, in.Identity.ClientKey); !d.Allowed {
		span.SetAttributes(attribute.Bool("admission.denied", true))
		return nil, &AdmissionDeniedError{RetryAfter: d.RetryAfter}
	}

	req := llm.Request{
		SystemPrompt: o.systemPrompt(),
		Messages:     llm.FromDomain(in.State.Messages()),
	}
	req.Messages = append(req.Messages, llm.Message{Role: domain.RoleUser, Content: text})

	user := domain.NewMessage(domain.RoleUser, text)
	if err := in.State.BeginTurn(user); err != nil {
		return nil, err
	}

	// The turn outlives the submit call: it ends on completion, failure or
	// reader cancellation, not when the caller's context returns.
	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := loggerFrom(ctx).With().Str("session_id", in.State.SessionID).Logger()
	turnCtx = logger.WithContext(turnCtx)

	s, err := o.Provider.Stream(turnCtx, req)
	if err != nil {
		cancel()
		in.State.AbortTurn()
		uerr := &UpstreamError{Provider: o.Provider.Name(), Err: err}
		span.RecordError(uerr)
		span.SetStatus(codes.Error, "provider open failed")
		observability.Turns.WithLabelValues(OutcomeFailed).Inc()
		logger.Warn().Err(err).Msg("provider stream open failed")
		if in.OnCommit != nil {
			cctx, ccancel := context.WithTimeout(context.WithoutCancel(turnCtx), o.commitTimeout())
			in.OnCommit(cctx, TurnResult{SessionID: in.State.SessionID, User: user, Outcome: OutcomeFailed, Err: uerr})
			ccancel()
		}
		return nil, uerr
	}

	t := &Turn{
		ch:     stream.New(o.Buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	t.res = TurnResult{SessionID: in.State.SessionID, User: user}

	// A caller whose context ends is treated as a disconnected reader.
	stop := context.AfterFunc(ctx, t.ch.Cancel)
	go func() {
		defer stop()
		o.pump(turnCtx, t, s, in)
	}()
	return t, nil
}

// pump relays deltas from the provider to the channel and commits the turn.
func (o *Orchestrator) pump(ctx context.Context, t *Turn, s llm.Stream, in SubmitInput) {
	start := time.Now()
	logger := loggerFrom(ctx)
	defer t.cancel()
	defer func() { _ = s.Close() }()

	// Reader cancellation stops the provider as well.
	go func() {
		select {
		case <-t.ch.Cancelled():
			t.cancel()
		case <-ctx.Done():
		}
	}()

	var (
		acc       strings.Builder
		finished  bool
		cancelled bool
		upErr     error
	)
	for {
		chunk, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				finished = true
			} else if t.ch.State() == stream.Cancelled {
				cancelled = true
			} else {
				upErr = err
			}
			break
		}
		if chunk.Done {
			// The final text is authoritative; relay any tail not yet streamed.
			if full := chunk.Text; strings.HasPrefix(full, acc.String()) && len(full) > acc.Len() {
				tail := full[acc.Len():]
				acc.WriteString(tail)
				if t.ch.Append(tail) == nil {
					observability.StreamDeltas.Inc()
				}
			}
			finished = true
			break
		}
		if chunk.Delta == "" {
			continue
		}
		acc.WriteString(chunk.Delta)
		if err := t.ch.Append(chunk.Delta); err != nil {
			cancelled = true
			break
		}
		observability.StreamDeltas.Inc()
	}

	res := t.res
	text := acc.String()
	switch {
	case finished:
		m := domain.NewMessage(domain.RoleAssistant, text)
		in.State.CommitTurn(m)
		res.Assistant = &m
		res.Outcome = OutcomeCompleted
	default:
		if text != "" {
			m := domain.NewMessage(domain.RoleAssistant, text)
			m.Incomplete = true
			in.State.CommitTurn(m)
			res.Assistant = &m
		} else {
			in.State.AbortTurn()
		}
		if cancelled {
			res.Outcome = OutcomeCancelled
		} else {
			res.Outcome = OutcomeFailed
			res.Err = &UpstreamError{Provider: o.Provider.Name(), Partial: text, Err: upErr}
		}
	}

	if in.OnCommit != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.commitTimeout())
		in.OnCommit(cctx, res)
		cancel()
	}

	switch res.Outcome {
	case OutcomeFailed:
		logger.Warn().Err(res.Err).Int("partial_len", len(text)).Msg("turn failed upstream")
		t.ch.Fail(res.Err)
	default:
		t.ch.Close()
	}
	observability.Turns.WithLabelValues(res.Outcome).Inc()
	observability.TurnDuration.Observe(time.Since(start).Seconds())
	logger.Debug().Str("outcome", res.Outcome).Dur("took", time.Since(start)).Msg("turn finished")

	t.res = res
	close(t.done)
}

// loggerFrom returns the context logger, or the global one when none is
// attached.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func (o *Orchestrator) systemPrompt() string {
	if strings.TrimSpace(o.SystemPrompt) != "" {
		return o.SystemPrompt
	}
	return DefaultSystemPrompt
}

func (o *Orchestrator) commitTimeout() time.Duration {
	if o.CommitTimeout > 0 {
		return o.CommitTimeout
	}
	return 10 * time.Second
}
