// Package llm is the model gateway: it sends chat and completion requests to
// a language-model backend and decodes the results, removing reasoning
// blocks from anything shown to the user.
package llm

import (
	"context"
	"encoding/json"

	"github.com/ashureev/studia/internal/domain"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Message is one protocol unit sent to the model.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolName and ToolCallID are set on tool-role messages.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatRequest is a chat call against a backend. Tools may be empty.
type ChatRequest struct {
	Messages []Message
	Tools    []mcptypes.Tool
}

// ChatResponse carries the raw assistant message returned by a backend.
type ChatResponse struct {
	Message Message
}

// Chunk is one incremental delta of a streaming chat.
type Chunk struct {
	Content string
	Done    bool
}

// Backend is a language-model provider.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Chat performs a non-streaming chat call.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream performs a streaming chat call, invoking fn for each delta.
	// Returning an error from fn aborts the stream with that error.
	ChatStream(ctx context.Context, req ChatRequest, fn func(Chunk) error) error

	// Generate performs a single-shot completion without tools.
	Generate(ctx context.Context, prompt string) (string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// ParseToolArguments parses a JSON arguments string into a map.
// Malformed input yields an empty map.
func ParseToolArguments(argsJSON string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}
