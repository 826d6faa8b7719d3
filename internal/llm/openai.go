package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// OpenAIOptions configures the OpenAI-compatible provider.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	// Temperature is passed through unchanged; zero lets the server decide.
	Temperature float32
}

// OpenAI streams chat completions from any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	temp   float32
}

// NewOpenAI constructs the provider.
func NewOpenAI(o OpenAIOptions) (*OpenAI, error) {
	if strings.TrimSpace(o.APIKey) == "" {
		return nil, errors.New("openai api key must be provided")
	}
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	model := o.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, temp: o.Temperature}, nil
}

func (p *OpenAI) Name() string { return "openai:" + p.model }

// Stream opens a streaming chat completion.
func (p *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content})
	}

	s, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: p.temp,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return &openAIStream{s: s}, nil
}

func openAIRole(r domain.Role) string {
	switch r {
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

type openAIStream struct {
	s    *openai.ChatCompletionStream
	text strings.Builder
	done bool
}

func (o *openAIStream) Recv() (Chunk, error) {
	if o.done {
		return Chunk{}, io.EOF
	}
	for {
		resp, err := o.s.Recv()
		if errors.Is(err, io.EOF) {
			o.done = true
			return Chunk{Done: true, Text: o.text.String()}, nil
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		var delta string
		for _, c := range resp.Choices {
			delta += c.Delta.Content
		}
		if delta == "" {
			continue
		}
		o.text.WriteString(delta)
		return Chunk{Delta: delta}, nil
	}
}

func (o *openAIStream) Close() error {
	o.s.Close()
	return nil
}
