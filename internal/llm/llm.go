// Package llm defines the model provider boundary and its implementations.
//
// A provider receives a system prompt plus the ordered role/content history
// and answers with a Stream of deltas. The last chunk has Done=true and
// carries the full text; Recv then returns io.EOF.
package llm

import (
	"context"
	"errors"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// Message is the role/content pair sent to a model. No other metadata
// crosses the boundary.
type Message struct {
	Role    domain.Role
	Content string
}

// Request is one model invocation.
type Request struct {
	SystemPrompt string
	Messages     []Message
}

// Chunk is one element of a response stream.
type Chunk struct {
	Delta string
	Done  bool
	// Text is the full response; set only when Done.
	Text string
}

// Stream yields chunks until a Done chunk, then io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider opens response streams.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ErrProvider marks failures raised by a provider (transport, quota,
// malformed responses).
var ErrProvider = errors.New("model provider error")

// FromDomain converts history into provider messages.
func FromDomain(msgs []domain.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}
