package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/ashureev/studia/internal/tools")

// ErrUnknownTool is reported when the model names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Dispatcher executes registered tools. Execute never fails: every problem is
// encoded as an {"error": ...} result string for the model to read.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Definitions returns the tool schema offered to the model.
func (d *Dispatcher) Definitions() []mcptypes.Tool {
	return d.registry.Definitions()
}

// Execute runs the named tool for sessionKey and returns its textual result.
// Handlers run detached from ctx cancellation so a client disconnect cannot
// interrupt a side effect halfway; each handler bounds its own runtime.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any, sessionKey string) (result string) {
	ctx, span := tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("session.id", sessionKey),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		d.logger.Info("tool executed",
			"tool", name,
			"session_id", sessionKey,
			"duration_ms", time.Since(start).Milliseconds(),
			"result_bytes", len(result),
		)
	}()

	tool, ok := d.registry.Lookup(name)
	if !ok {
		span.SetStatus(codes.Error, ErrUnknownTool.Error())
		return ErrorResult("Unknown tool: " + name)
	}

	validated, err := Validate(tool.Definition.InputSchema, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	req := mcptypes.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = validated

	value, err := d.run(context.WithoutCancel(ctx), tool, sessionKey, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("tool failed", "tool", name, "session_id", sessionKey, "error", err)
		return ErrorResult(err.Error())
	}

	return encodeResult(value)
}

func (d *Dispatcher) run(ctx context.Context, tool Tool, sessionKey string, req mcptypes.CallToolRequest) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Definition.Name, r)
		}
	}()
	return tool.Handler(ctx, sessionKey, req)
}

// ErrorResult encodes msg as an {"error": msg} payload.
func ErrorResult(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error": "failed to encode error"}`
	}
	return string(data)
}

func encodeResult(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return `{"status": "ok"}`
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode tool result: %v", err))
	}
	return string(data)
}
