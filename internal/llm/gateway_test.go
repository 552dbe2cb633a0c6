package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/studia/internal/domain"
)

type fakeBackend struct {
	chatResp  *ChatResponse
	chatErr   error
	chunks    []Chunk
	streamErr error
	generated string
	lastReq   ChatRequest
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	f.lastReq = req
	return f.chatResp, f.chatErr
}

func (f *fakeBackend) ChatStream(_ context.Context, req ChatRequest, fn func(Chunk) error) error {
	f.lastReq = req
	for _, c := range f.chunks {
		if err := fn(c); err != nil {
			return err
		}
	}
	return f.streamErr
}

func (f *fakeBackend) Generate(context.Context, string) (string, error) {
	return f.generated, f.chatErr
}

func (f *fakeBackend) Ping(context.Context) error { return f.chatErr }

func collect(t *testing.T, g *Gateway) (string, error) {
	t.Helper()
	var b strings.Builder
	for tok, err := range g.CompleteStream(context.Background(), []Message{{Role: domain.RoleUser, Content: "hi"}}) {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

func TestGatewayChatCleansContentAndAssignsIDs(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{chatResp: &ChatResponse{Message: Message{
		Role:      domain.RoleAssistant,
		Content:   "<think>hmm</think> Sure.",
		ToolCalls: []ToolCall{{Name: "get_progress"}},
	}}}
	g := NewGateway(backend, GatewayConfig{ChatTimeout: time.Second}, nil)

	resp, err := g.Chat(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "Sure." {
		t.Fatalf("unexpected content %q", resp.Message.Content)
	}
	call := resp.Message.ToolCalls[0]
	if !strings.HasPrefix(call.ID, "call_") {
		t.Fatalf("expected generated tool call id, got %q", call.ID)
	}
	if call.Arguments == nil {
		t.Fatal("expected non-nil arguments")
	}
}

func TestGatewayChatWrapsBackendError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	g := NewGateway(&fakeBackend{chatErr: cause}, GatewayConfig{}, nil)

	_, err := g.Chat(context.Background(), nil, nil)
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if !errors.Is(err, cause) || be.Op != "chat" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestCompleteStreamStopsAtFinalChunk(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{chunks: []Chunk{
		{Content: "<think>draft"},
		{Content: "</think>Hello"},
		{Content: " world ", Done: true},
		{Content: "ignored"},
	}}
	got, err := collect(t, NewGateway(backend, GatewayConfig{}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello world" {
		t.Fatalf("unexpected stream %q", got)
	}
}

func TestCompleteStreamEndsWithoutFinalFlag(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{chunks: []Chunk{{Content: "partial <"}}}
	got, err := collect(t, NewGateway(backend, GatewayConfig{}, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "partial <" {
		t.Fatalf("expected held-back text released at end, got %q", got)
	}
}

func TestCompleteStreamSurfacesMidStreamError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		chunks:    []Chunk{{Content: "Hello there"}},
		streamErr: errors.New("reset by peer"),
	}
	got, err := collect(t, NewGateway(backend, GatewayConfig{}, nil))
	if !IsBackendError(err) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if got != "Hello there" {
		t.Fatalf("expected tokens before failure, got %q", got)
	}
}

func TestCompleteStreamConsumerBreak(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{chunks: []Chunk{{Content: "one "}, {Content: "two "}, {Content: "three", Done: true}}}
	g := NewGateway(backend, GatewayConfig{}, nil)

	count := 0
	for _, err := range g.CompleteStream(context.Background(), nil) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Fatalf("expected one token before break, got %d", count)
	}
}

func TestCompleteOnce(t *testing.T) {
	t.Parallel()

	g := NewGateway(&fakeBackend{generated: "<think>x</think>\nSummary text\n"}, GatewayConfig{}, nil)
	got, err := g.CompleteOnce(context.Background(), "summarize")
	if err != nil {
		t.Fatalf("CompleteOnce failed: %v", err)
	}
	if got != "Summary text" {
		t.Fatalf("unexpected completion %q", got)
	}
}

func TestParseToolArguments(t *testing.T) {
	t.Parallel()

	if got := ParseToolArguments(`{"company":"Acme"}`); got["company"] != "Acme" {
		t.Fatalf("unexpected args %v", got)
	}
	for _, raw := range []string{"", "{not json", "null", "[1,2]"} {
		got := ParseToolArguments(raw)
		if got == nil || len(got) != 0 {
			t.Fatalf("ParseToolArguments(%q) = %v, want empty map", raw, got)
		}
	}
}
