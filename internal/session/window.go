package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/studia/internal/config"
	"github.com/ashureev/studia/internal/domain"
	"github.com/ashureev/studia/internal/llm"
)

const summaryPrefix = "[Previous conversation summary]: "

// SummarizeFunc condenses exchanges into a synopsis. previous is the summary
// of everything before exchanges, or empty. An empty result or an error
// leaves the stored summary unchanged.
type SummarizeFunc func(ctx context.Context, previous string, exchanges []domain.Exchange) (string, error)

// WindowConfig bounds the assembled context.
type WindowConfig struct {
	// Threshold is the exchange count at or below which history is sent verbatim.
	Threshold int
	// Tail is the number of most recent exchanges kept verbatim above Threshold.
	Tail int
	// Mode is config.SummaryModeChain or config.SummaryModeOnce.
	Mode string
}

// Window assembles the messages sent to the model for a session.
type Window struct {
	store  *Store
	cfg    WindowConfig
	logger *slog.Logger
}

// NewWindow creates a window over store.
func NewWindow(store *Store, cfg WindowConfig, logger *slog.Logger) *Window {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 30
	}
	if cfg.Tail <= 0 || cfg.Tail > cfg.Threshold {
		cfg.Tail = min(10, cfg.Threshold)
	}
	if cfg.Mode == "" {
		cfg.Mode = config.SummaryModeChain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{store: store, cfg: cfg, logger: logger}
}

// Assemble returns the bounded message list for key. At or below the
// threshold the whole history is returned; above it the result is a summary
// system message, when one exists, followed by the last Tail exchanges.
// Summarization failures degrade to no summary and are never returned.
func (w *Window) Assemble(ctx context.Context, key string, summarize SummarizeFunc) []llm.Message {
	history := w.store.History(key)
	if len(history) <= w.cfg.Threshold {
		return toMessages(history)
	}

	cut := len(history) - w.cfg.Tail
	summary, through := w.store.Summary(key)

	if summarize != nil {
		switch w.cfg.Mode {
		case config.SummaryModeOnce:
			if summary == "" {
				summary = w.fold(ctx, key, summarize, "", history, 0, cut)
			}
		default:
			// Folds are batched: the chain advances once Tail exchanges have
			// aged past the pointer, so most turns cost no extra model call.
			if aged := cut - through; (summary == "" && aged > 0) || aged >= w.cfg.Tail {
				if next := w.fold(ctx, key, summarize, summary, history, through, cut); next != "" {
					summary = next
				}
			}
		}
	}

	tail := toMessages(history[cut:])
	if summary == "" {
		return tail
	}
	out := make([]llm.Message, 0, len(tail)+1)
	out = append(out, llm.Message{Role: domain.RoleSystem, Content: summaryPrefix + summary})
	return append(out, tail...)
}

// fold summarizes history[from:to] on top of previous and stores the result.
func (w *Window) fold(ctx context.Context, key string, summarize SummarizeFunc, previous string, history []domain.Exchange, from, to int) string {
	next, err := summarize(ctx, previous, history[from:to])
	if err != nil {
		w.logger.Warn("Session summarization failed", "session_id", key, "error", err)
		return ""
	}
	next = strings.TrimSpace(next)
	if next == "" {
		w.logger.Warn("Session summarization returned empty summary", "session_id", key)
		return ""
	}
	if !w.store.advanceSummary(key, from, to, next) {
		w.logger.Debug("Session summary changed concurrently, discarding", "session_id", key)
		return next
	}
	w.logger.Info("Session summarized", "session_id", key, "through", to, "summary_chars", len(next))
	return next
}

func toMessages(history []domain.Exchange) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, h := range history {
		out = append(out, llm.Message{Role: h.Role, Content: h.Content})
	}
	return out
}
