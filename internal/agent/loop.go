package agent

import (
	"context"
	"iter"
	"log/slog"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/llm"
	"github.com/ashureev/studia/internal/stream"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ashureev/studia/internal/agent")

// ChatModel is the non-streaming, tool-aware half of the model gateway.
type ChatModel interface {
	Chat(ctx context.Context, messages []llm.Message, tools []mcptypes.Tool) (*llm.ChatResponse, error)
}

// ToolExecutor runs tools on behalf of the model. Execute never fails.
type ToolExecutor interface {
	Definitions() []mcptypes.Tool
	Execute(ctx context.Context, name string, args map[string]any, sessionKey string) string
}

// LoopConfig bounds one loop execution.
type LoopConfig struct {
	MaxTurns  int
	ChunkSize int
}

// Loop alternates model calls and tool execution until the model answers
// with text or the turn budget runs out.
type Loop struct {
	model  ChatModel
	tools  ToolExecutor
	cfg    LoopConfig
	logger *slog.Logger
}

// NewLoop creates a loop.
func NewLoop(model ChatModel, tools ToolExecutor, cfg LoopConfig, logger *slog.Logger) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{model: model, tools: tools, cfg: cfg, logger: logger}
}

// Run executes the loop over messages. The sequence yields ToolCall events
// before each tool runs, then either Token chunks of the final answer and a
// Done, or an empty Done once the turn budget is spent. A model failure is
// yielded as the final error and no Done follows it.
func (l *Loop) Run(ctx context.Context, sessionKey string, messages []llm.Message) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "agent.loop", trace.WithAttributes(
			attribute.String("session.id", sessionKey),
			attribute.Int("agent.max_turns", l.cfg.MaxTurns),
		))
		defer span.End()

		working := make([]llm.Message, len(messages), len(messages)+2*l.cfg.MaxTurns)
		copy(working, messages)
		defs := l.tools.Definitions()

		for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
			span.SetAttributes(attribute.Int("agent.turns", turn))

			resp, err := l.model.Chat(ctx, working, defs)
			if err != nil {
				span.RecordError(err)
				yield(stream.Event{}, err)
				return
			}

			msg := resp.Message
			if len(msg.ToolCalls) > 0 {
				working = append(working, llm.Message{
					Role:      domain.RoleAssistant,
					Content:   msg.Content,
					ToolCalls: msg.ToolCalls,
				})
				for _, call := range msg.ToolCalls {
					if !yield(stream.ToolCall(call.Name, call.Arguments), nil) {
						return
					}
					l.logger.Debug("agent tool call", "session_id", sessionKey, "turn", turn, "tool", call.Name)
					result := l.tools.Execute(ctx, call.Name, call.Arguments, sessionKey)
					working = append(working, llm.Message{
						Role:       domain.RoleTool,
						Content:    result,
						ToolName:   call.Name,
						ToolCallID: call.ID,
					})
				}
				continue
			}

			if msg.Content == "" {
				l.logger.Debug("agent empty response", "session_id", sessionKey, "turn", turn)
				continue
			}

			for _, chunk := range Chunks(msg.Content, l.cfg.ChunkSize) {
				if !yield(stream.Token(chunk), nil) {
					return
				}
			}
			yield(stream.Done(), nil)
			return
		}

		l.logger.Info("agent turn budget exhausted", "session_id", sessionKey, "max_turns", l.cfg.MaxTurns)
		span.SetAttributes(attribute.Bool("agent.exhausted", true))
		yield(stream.Done(), nil)
	}
}

// Chunks splits s into pieces of at most size runes, in order.
func Chunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		out = append(out, string(runes[start:min(start+size, len(runes))]))
	}
	return out
}
