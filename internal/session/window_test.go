package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ashureev/studia/internal/config"
	"github.com/ashureev/studia/internal/domain"
)

func fill(s *Store, key string, n int) {
	for i := range n {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		s.Append(key, role, fmt.Sprintf("msg %d", i))
	}
}

type recordingSummarizer struct {
	calls    int
	previous []string
	sizes    []int
	result   string
	err      error
}

func (r *recordingSummarizer) summarize(_ context.Context, previous string, exchanges []domain.Exchange) (string, error) {
	r.calls++
	r.previous = append(r.previous, previous)
	r.sizes = append(r.sizes, len(exchanges))
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("%s #%d", r.result, r.calls), nil
}

func TestAssembleBelowThresholdIsVerbatim(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fill(s, "s1", 30)
	w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10}, nil)
	sum := &recordingSummarizer{result: "unused"}

	msgs := w.Assemble(context.Background(), "s1", sum.summarize)
	if len(msgs) != 30 {
		t.Fatalf("expected 30 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			t.Fatal("no summary must be injected at the threshold")
		}
	}
	if sum.calls != 0 {
		t.Fatalf("summarizer called %d times", sum.calls)
	}
}

func TestAssembleBoundedSize(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{config.SummaryModeOnce, config.SummaryModeChain} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()

			s := NewStore()
			fill(s, "s1", 100)
			w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10, Mode: mode}, nil)
			sum := &recordingSummarizer{result: "recap"}

			msgs := w.Assemble(context.Background(), "s1", sum.summarize)
			if len(msgs) != 11 {
				t.Fatalf("expected 11 messages, got %d", len(msgs))
			}
			if msgs[0].Role != domain.RoleSystem || !strings.HasPrefix(msgs[0].Content, "[Previous conversation summary]: recap") {
				t.Fatalf("unexpected summary message %+v", msgs[0])
			}
			if msgs[1].Content != "msg 90" || msgs[10].Content != "msg 99" {
				t.Fatalf("unexpected tail %q..%q", msgs[1].Content, msgs[10].Content)
			}
			if sum.sizes[0] != 90 {
				t.Fatalf("expected 90 old exchanges summarized, got %d", sum.sizes[0])
			}
		})
	}
}

func TestAssembleOnceSummarizesAtMostOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fill(s, "s1", 31)
	w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10, Mode: config.SummaryModeOnce}, nil)
	sum := &recordingSummarizer{result: "recap"}

	w.Assemble(context.Background(), "s1", sum.summarize)
	fill(s, "s1", 40)
	msgs := w.Assemble(context.Background(), "s1", sum.summarize)

	if sum.calls != 1 {
		t.Fatalf("expected one summarization, got %d", sum.calls)
	}
	if len(msgs) != 11 || msgs[0].Content != summaryPrefix+"recap #1" {
		t.Fatalf("unexpected window %+v", msgs[0])
	}
}

func TestAssembleChainFoldsAgedExchanges(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fill(s, "s1", 31)
	w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10}, nil)
	sum := &recordingSummarizer{result: "recap"}

	w.Assemble(context.Background(), "s1", sum.summarize)
	if _, through := s.Summary("s1"); through != 21 {
		t.Fatalf("expected pointer at 21, got %d", through)
	}

	// Nothing new aged out: no call.
	w.Assemble(context.Background(), "s1", sum.summarize)
	if sum.calls != 1 {
		t.Fatalf("expected no resummarization, got %d calls", sum.calls)
	}

	// Fewer than Tail newly aged exchanges: still no call, window stays bounded.
	fill(s, "s1", 4)
	msgs := w.Assemble(context.Background(), "s1", sum.summarize)
	if sum.calls != 1 {
		t.Fatalf("expected folds to wait for a full batch, got %d calls", sum.calls)
	}
	if len(msgs) != 11 || msgs[0].Content != summaryPrefix+"recap #1" {
		t.Fatalf("unexpected window head %+v (len %d)", msgs[0], len(msgs))
	}

	fill(s, "s1", 6)
	msgs = w.Assemble(context.Background(), "s1", sum.summarize)
	if sum.calls != 2 {
		t.Fatalf("expected chained summarization, got %d calls", sum.calls)
	}
	if sum.previous[1] != "recap #1" || sum.sizes[1] != 10 {
		t.Fatalf("chain must fold previous summary with newly aged exchanges, got prev=%q size=%d", sum.previous[1], sum.sizes[1])
	}
	if summary, through := s.Summary("s1"); summary != "recap #2" || through != 31 {
		t.Fatalf("unexpected summary state %q/%d", summary, through)
	}
	if len(msgs) != 11 {
		t.Fatalf("expected 11 messages, got %d", len(msgs))
	}
}

func TestAssembleChainBatchesFoldsAcrossTurns(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fill(s, "s1", 31)
	w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10}, nil)
	sum := &recordingSummarizer{result: "recap"}
	w.Assemble(context.Background(), "s1", sum.summarize)

	// Twenty turns of one user and one assistant exchange each.
	for range 20 {
		fill(s, "s1", 2)
		if msgs := w.Assemble(context.Background(), "s1", sum.summarize); len(msgs) != 11 {
			t.Fatalf("expected 11 messages, got %d", len(msgs))
		}
	}
	if sum.calls != 5 {
		t.Fatalf("expected one fold every five turns (5 total), got %d", sum.calls)
	}
	if _, through := s.Summary("s1"); through != 61 {
		t.Fatalf("expected pointer at 61, got %d", through)
	}
}

func TestAssembleSummaryFailureDegrades(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fill(s, "s1", 40)
	w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10}, nil)
	sum := &recordingSummarizer{err: errors.New("backend down")}

	msgs := w.Assemble(context.Background(), "s1", sum.summarize)
	if len(msgs) != 10 {
		t.Fatalf("expected tail only, got %d messages", len(msgs))
	}
	if msgs[0].Role == domain.RoleSystem {
		t.Fatal("failed summarization must not inject a summary")
	}
	if summary, through := s.Summary("s1"); summary != "" || through != 0 {
		t.Fatalf("failure must keep previous state, got %q/%d", summary, through)
	}
}

func TestInvalidateSummary(t *testing.T) {
	t.Parallel()

	s := NewStore()
	fill(s, "s1", 40)
	w := NewWindow(s, WindowConfig{Threshold: 30, Tail: 10, Mode: config.SummaryModeOnce}, nil)
	sum := &recordingSummarizer{result: "recap"}

	w.Assemble(context.Background(), "s1", sum.summarize)
	s.InvalidateSummary("s1")
	msgs := w.Assemble(context.Background(), "s1", sum.summarize)
	if sum.calls != 2 || msgs[0].Content != summaryPrefix+"recap #2" {
		t.Fatalf("expected recomputed summary, calls=%d first=%q", sum.calls, msgs[0].Content)
	}
}
