package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/identity"
	"github.com/ashureev/studia/internal/llm"
	"github.com/ashureev/studia/internal/profile"
	"github.com/ashureev/studia/internal/session"
	"github.com/ashureev/studia/internal/stream"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const snapshotTimeout = 5 * time.Second

// Model is the part of the model gateway a chat turn needs.
type Model interface {
	ChatModel
	CompleteStream(ctx context.Context, messages []llm.Message) iter.Seq2[string, error]
	CompleteOnce(ctx context.Context, prompt string) (string, error)
}

// ProfileLoader reads the learner profile.
type ProfileLoader interface {
	Load() (*domain.Profile, error)
}

// SnapshotStore persists session state between restarts.
type SnapshotStore interface {
	GetSessionSnapshot(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error)
	UpsertSessionSnapshot(ctx context.Context, snap *domain.SessionSnapshot) error
}

// ServiceConfig selects the chat mode.
type ServiceConfig struct {
	// AgentMode runs the tool-calling loop; otherwise replies are streamed
	// straight from the model without tools.
	AgentMode bool
	Loop      LoopConfig
	// PersistSessions upserts a snapshot after every completed turn.
	PersistSessions bool
}

// Dependencies are the collaborators of a Service. Snapshots may be nil.
type Dependencies struct {
	Sessions  *session.Store
	Window    *session.Window
	Model     Model
	Tools     ToolExecutor
	Profile   ProfileLoader
	Snapshots SnapshotStore
}

// Service runs chat turns against session state.
type Service struct {
	sessions  *session.Store
	window    *session.Window
	model     Model
	loop      *Loop
	profile   ProfileLoader
	snapshots SnapshotStore
	cfg       ServiceConfig
	logger    *slog.Logger
}

// NewService creates a chat service.
func NewService(deps Dependencies, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  deps.Sessions,
		window:    deps.Window,
		model:     deps.Model,
		loop:      NewLoop(deps.Model, deps.Tools, cfg.Loop, logger),
		profile:   deps.Profile,
		snapshots: deps.Snapshots,
		cfg:       cfg,
		logger:    logger,
	}
}

// Chat runs one user turn. Turns on the same session are serialized. The
// user message is recorded before the model is called; the assistant reply
// is recorded when the Done event is produced. An error ends the sequence
// and no Done follows it.
func (s *Service) Chat(ctx context.Context, req ChatRequest) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		message := strings.TrimSpace(req.Message)
		if message == "" {
			yield(stream.Event{}, ErrEmptyMessage)
			return
		}
		key, err := identity.ParseSessionID(req.SessionID)
		if err != nil {
			yield(stream.Event{}, err)
			return
		}

		ctx, span := tracer.Start(ctx, "agent.chat", trace.WithAttributes(
			attribute.String("session.id", key),
			attribute.Bool("agent.mode", s.cfg.AgentMode),
		))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(stream.Event{}, err)
		}

		prof, err := s.profile.Load()
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				err = ErrProfileMissing
			}
			fail(err)
			return
		}

		release, err := s.sessions.Acquire(ctx, key)
		if err != nil {
			fail(err)
			return
		}
		defer release()

		s.restore(ctx, key)
		s.sessions.Append(key, domain.RoleUser, message)

		system := profile.BuildSystemPrompt(prof, s.sessions.ResearchContext(key), profile.PromptOptions{Tools: s.cfg.AgentMode})
		messages := mergeSystem(system, s.window.Assemble(ctx, key, s.summarize))
		span.SetAttributes(attribute.Int("llm.context_messages", len(messages)))

		var events iter.Seq2[stream.Event, error]
		if s.cfg.AgentMode {
			events = s.loop.Run(ctx, key, messages)
		} else {
			events = s.streamReply(ctx, messages)
		}

		var answer strings.Builder
		for ev, err := range events {
			if err != nil {
				fail(err)
				return
			}
			switch ev.Kind {
			case stream.KindToken:
				answer.WriteString(ev.Text)
			case stream.KindDone:
				s.complete(ctx, key, answer.String())
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *Service) streamReply(ctx context.Context, messages []llm.Message) iter.Seq2[stream.Event, error] {
	return func(yield func(stream.Event, error) bool) {
		for text, err := range s.model.CompleteStream(ctx, messages) {
			if err != nil {
				yield(stream.Event{}, err)
				return
			}
			if !yield(stream.Token(text), nil) {
				return
			}
		}
		yield(stream.Done(), nil)
	}
}

func (s *Service) complete(ctx context.Context, key, answer string) {
	if answer != "" {
		s.sessions.Append(key, domain.RoleAssistant, answer)
	}
	if !s.cfg.PersistSessions || s.snapshots == nil {
		return
	}

	snap, err := s.sessions.Snapshot(key)
	if err != nil {
		s.logger.Warn("failed to snapshot session", "session_id", key, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	if err := s.snapshots.UpsertSessionSnapshot(ctx, snap); err != nil {
		s.logger.Warn("failed to persist session snapshot", "session_id", key, "error", err)
	}
}

// restore loads the persisted snapshot into a session that has no history
// in memory, typically after a restart or eviction.
func (s *Service) restore(ctx context.Context, key string) {
	if s.snapshots == nil || len(s.sessions.History(key)) > 0 {
		return
	}
	snap, err := s.snapshots.GetSessionSnapshot(ctx, key)
	if err != nil {
		s.logger.Warn("failed to load session snapshot", "session_id", key, "error", err)
		return
	}
	applied, err := s.sessions.Restore(snap)
	if err != nil {
		s.logger.Warn("failed to restore session snapshot", "session_id", key, "error", err)
		return
	}
	if applied {
		s.logger.Info("session restored from snapshot", "session_id", key, "exchanges", snap.Exchanges)
	}
}

// History returns the ordered exchanges of a session. A session that only
// exists as a persisted snapshot is read from the snapshot without being
// loaded into memory.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.Exchange, error) {
	key, err := identity.ParseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	history := s.sessions.History(key)
	if len(history) > 0 || s.snapshots == nil {
		return history, nil
	}

	snap, err := s.snapshots.GetSessionSnapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session snapshot: %w", err)
	}
	if snap == nil {
		return history, nil
	}
	if err := json.Unmarshal([]byte(snap.HistoryJSON), &history); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	return history, nil
}

func (s *Service) summarize(ctx context.Context, previous string, exchanges []domain.Exchange) (string, error) {
	return s.model.CompleteOnce(ctx, summaryPrompt(previous, exchanges))
}

func summaryPrompt(previous string, exchanges []domain.Exchange) string {
	var b strings.Builder
	b.WriteString("Summarise this interview preparation conversation in under 400 words. ")
	b.WriteString("Keep the topics covered, the questions the learner asked and how well they understood each topic. ")
	b.WriteString("Write plain prose with no headings or lists.\n\n")
	if previous != "" {
		b.WriteString("Summary of the earlier conversation:\n")
		b.WriteString(previous)
		b.WriteString("\n\nConversation since then:\n")
	}
	for _, e := range exchanges {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return b.String()
}

// mergeSystem folds the system prompt and every system-role message of the
// window into one leading system message, keeping the order of the rest.
func mergeSystem(system string, window []llm.Message) []llm.Message {
	parts := []string{system}
	rest := make([]llm.Message, 0, len(window))
	for _, m := range window {
		if m.Role == domain.RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}

	out := make([]llm.Message, 0, len(rest)+1)
	out = append(out, llm.Message{Role: domain.RoleSystem, Content: strings.Join(parts, "\n\n")})
	return append(out, rest...)
}
