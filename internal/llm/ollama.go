package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ollama/ollama/api"
)

// OllamaBackend talks to an Ollama server.
type OllamaBackend struct {
	client *api.Client
	model  string
}

// NewOllamaBackend creates a backend for the Ollama server at baseURL.
func NewOllamaBackend(baseURL, model string, httpClient *http.Client) (*OllamaBackend, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaBackend{
		client: api.NewClient(parsed, httpClient),
		model:  model,
	}, nil
}

// Name implements Backend.
func (b *OllamaBackend) Name() string {
	return "ollama"
}

// Chat implements Backend.
func (b *OllamaBackend) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model:    b.model,
		Messages: toOllamaMessages(req.Messages),
		Tools:    ToolsToOllama(req.Tools),
		Stream:   &stream,
	}

	var content strings.Builder
	var calls []ToolCall
	err := b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		calls = append(calls, fromOllamaToolCalls(resp.Message.ToolCalls)...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ChatResponse{Message: Message{
		Role:      domain.RoleAssistant,
		Content:   content.String(),
		ToolCalls: calls,
	}}, nil
}

// ChatStream implements Backend.
func (b *OllamaBackend) ChatStream(ctx context.Context, req ChatRequest, fn func(Chunk) error) error {
	stream := true
	chatReq := &api.ChatRequest{
		Model:    b.model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
	}
	return b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		return fn(Chunk{Content: resp.Message.Content, Done: resp.Done})
	})
}

// Generate implements Backend.
func (b *OllamaBackend) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	genReq := &api.GenerateRequest{
		Model:  b.model,
		Prompt: prompt,
		Stream: &stream,
	}

	var out strings.Builder
	err := b.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// Ping implements Backend.
func (b *OllamaBackend) Ping(ctx context.Context) error {
	_, err := b.client.List(ctx)
	return err
}

func toOllamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, len(messages))
	for i, m := range messages {
		out[i] = api.Message{
			Role:      string(m.Role),
			Content:   m.Content,
			ToolCalls: toOllamaToolCalls(m.ToolCalls),
			ToolName:  m.ToolName,
		}
	}
	return out
}

func toOllamaToolCalls(calls []ToolCall) []api.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]api.ToolCall, len(calls))
	for i, call := range calls {
		out[i] = api.ToolCall{
			Function: api.ToolCallFunction{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		}
	}
	return out
}

func fromOllamaToolCalls(calls []api.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, call := range calls {
		args := map[string]any(call.Function.Arguments)
		if args == nil {
			args = make(map[string]any)
		}
		out[i] = ToolCall{
			Name:      call.Function.Name,
			Arguments: args,
		}
	}
	return out
}
