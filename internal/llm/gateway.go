package llm

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ashureev/studia/internal/llm")

var errStopStream = errors.New("stream consumer stopped")

// GatewayConfig holds per-call limits.
type GatewayConfig struct {
	ChatTimeout   time.Duration
	StreamTimeout time.Duration
}

// Gateway wraps a Backend with timeouts, think-block removal, tracing and
// BackendError reporting.
type Gateway struct {
	backend Backend
	cfg     GatewayConfig
	logger  *slog.Logger
}

// NewGateway creates a gateway over backend.
func NewGateway(backend Backend, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{backend: backend, cfg: cfg, logger: logger}
}

// Backend returns the wrapped backend name.
func (g *Gateway) Backend() string {
	return g.backend.Name()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (g *Gateway) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.logger.Warn("model backend call failed", "backend", g.backend.Name(), "op", op, "error", err)
	return &BackendError{Backend: g.backend.Name(), Op: op, Err: err}
}

// Chat performs a non-streaming chat call with an optional tool schema. The
// returned content has think-blocks removed and every tool call carries an
// ID and a non-nil argument map.
func (g *Gateway) Chat(ctx context.Context, messages []Message, tools []mcptypes.Tool) (*ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("llm.backend", g.backend.Name()),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(tools)),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, g.cfg.ChatTimeout)
	defer cancel()

	resp, err := g.backend.Chat(ctx, ChatRequest{Messages: messages, Tools: tools})
	if err != nil {
		return nil, g.fail(span, "chat", err)
	}
	if resp == nil {
		return nil, g.fail(span, "chat", ErrEmptyResponse)
	}

	resp.Message.Content = Clean(resp.Message.Content)
	for i := range resp.Message.ToolCalls {
		call := &resp.Message.ToolCalls[i]
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		if call.Arguments == nil {
			call.Arguments = make(map[string]any)
		}
	}
	span.SetAttributes(attribute.Int("llm.tool_calls", len(resp.Message.ToolCalls)))
	return resp, nil
}

// CompleteStream streams cleaned text fragments for messages. The sequence
// ends exactly once, when the backend marks the final chunk or closes the
// stream. A backend failure is yielded as a BackendError after any text that
// was already released.
func (g *Gateway) CompleteStream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "llm.stream", trace.WithAttributes(
			attribute.String("llm.backend", g.backend.Name()),
			attribute.Int("llm.messages", len(messages)),
		))
		defer span.End()

		ctx, cancel := withTimeout(ctx, g.cfg.StreamTimeout)
		defer cancel()

		var filter ThinkFilter
		finished := false
		stopped := false

		err := g.backend.ChatStream(ctx, ChatRequest{Messages: messages}, func(chunk Chunk) error {
			if finished {
				return nil
			}
			if out := filter.Push(chunk.Content); out != "" {
				if !yield(out, nil) {
					stopped = true
					return errStopStream
				}
			}
			if chunk.Done {
				finished = true
				if out := filter.Flush(); out != "" {
					if !yield(out, nil) {
						stopped = true
						return errStopStream
					}
				}
			}
			return nil
		})
		if stopped {
			return
		}
		if err != nil && !finished {
			yield("", g.fail(span, "stream", err))
			return
		}
		if !finished {
			if out := filter.Flush(); out != "" {
				yield(out, nil)
			}
		}
	}
}

// CompleteOnce performs a single-shot completion with no tools and returns
// the cleaned text.
func (g *Gateway) CompleteOnce(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.backend", g.backend.Name()),
		attribute.Int("llm.prompt_bytes", len(prompt)),
	))
	defer span.End()

	ctx, cancel := withTimeout(ctx, g.cfg.ChatTimeout)
	defer cancel()

	raw, err := g.backend.Generate(ctx, prompt)
	if err != nil {
		return "", g.fail(span, "generate", err)
	}
	return Clean(raw), nil
}

// Ping checks backend reachability.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := g.backend.Ping(ctx); err != nil {
		return &BackendError{Backend: g.backend.Name(), Op: "ping", Err: err}
	}
	return nil
}
