package llm

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// Echo answers with the last user message, word by word. It needs no
// credentials and is the default provider for local runs.
type Echo struct {
	// Delay is slept between deltas.
	Delay time.Duration
}

func (Echo) Name() string { return "echo" }

func (e Echo) Stream(ctx context.Context, req Request) (Stream, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	return newSliceStream(ctx, splitWords("You said: "+last), nil, e.Delay), nil
}

// splitWords keeps the separating spaces so the deltas concatenate back to s.
func splitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// Scripted replays fixed deltas and optionally fails after them. It records
// every request it receives.
type Scripted struct {
	Deltas []string
	// FailAfter, when set, is returned by Recv after all deltas instead of a
	// Done chunk.
	FailAfter error
	// OpenErr, when set, is returned by Stream.
	OpenErr error
	Delay   time.Duration

	mu       sync.Mutex
	requests []Request
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Stream(ctx context.Context, req Request) (Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return newSliceStream(ctx, s.Deltas, s.FailAfter, s.Delay), nil
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns the number of Stream invocations.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type sliceStream struct {
	ctx    context.Context
	deltas []string
	fail   error
	delay  time.Duration

	i    int
	text strings.Builder
	done bool
}

func newSliceStream(ctx context.Context, deltas []string, fail error, delay time.Duration) *sliceStream {
	return &sliceStream{ctx: ctx, deltas: deltas, fail: fail, delay: delay}
}

func (s *sliceStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.i < len(s.deltas) {
		if s.delay > 0 {
			select {
			case <-time.After(s.delay):
			case <-s.ctx.Done():
				return Chunk{}, s.ctx.Err()
			}
		}
		d := s.deltas[s.i]
		s.i++
		s.text.WriteString(d)
		return Chunk{Delta: d}, nil
	}
	s.done = true
	if s.fail != nil {
		return Chunk{}, s.fail
	}
	return Chunk{Done: true, Text: s.text.String()}, nil
}

func (s *sliceStream) Close() error { return nil }
