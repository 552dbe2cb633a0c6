package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/studia/internal/domain"
)

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicBackend creates an Anthropic backend.
func NewAnthropicBackend(baseURL, apiKey, model string, maxTokens int) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("Anthropic model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicBackend{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

// Name implements Backend.
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

func (b *AnthropicBackend) params(req ChatRequest) anthropic.MessageNewParams {
	messages, system := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     b.model,
		Messages:  messages,
		MaxTokens: b.maxTokens,
		Tools:     ToolsToAnthropic(req.Tools),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

// Chat implements Backend.
func (b *AnthropicBackend) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := b.client.Messages.New(ctx, b.params(req))
	if err != nil {
		return nil, err
	}

	msg := Message{Role: domain.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        v.ID,
				Name:      v.Name,
				Arguments: ParseToolArguments(string(v.Input)),
			})
		}
	}
	msg.Content = text.String()
	return &ChatResponse{Message: msg}, nil
}

// ChatStream implements Backend.
func (b *AnthropicBackend) ChatStream(ctx context.Context, req ChatRequest, fn func(Chunk) error) error {
	req.Tools = nil
	stream := b.client.Messages.NewStreaming(ctx, b.params(req))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				if err := fn(Chunk{Content: delta.Text}); err != nil {
					return err
				}
			}
		case anthropic.MessageStopEvent:
			if err := fn(Chunk{Done: true}); err != nil {
				return err
			}
		}
	}
	return stream.Err()
}

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := b.Chat(ctx, ChatRequest{Messages: []Message{{Role: domain.RoleUser, Content: prompt}}})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Ping implements Backend.
func (b *AnthropicBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("Anthropic ping failed: %w", err)
	}
	return nil
}

// toAnthropicMessages splits out system prompts and groups consecutive tool
// results into a single user turn.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range messages {
		if m.Role == domain.RoleTool && m.ToolCallID != "" {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isErrorResult(m.Content)))
			continue
		}
		flushResults()

		switch m.Role {
		case domain.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case domain.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flushResults()

	return out, system
}

func isErrorResult(content string) bool {
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return false
	}
	_, ok := payload["error"]
	return ok && len(payload) == 1
}
