package llm

import (
	"strings"
	"testing"
)

func TestCleanStripsCompleteBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "no block", raw: "  hello world  ", want: "hello world"},
		{name: "leading block", raw: "<think>plan the answer</think>\n\nHello", want: "Hello"},
		{name: "middle block", raw: "a <think>x\ny</think>b", want: "a b"},
		{name: "two blocks", raw: "<think>1</think>one <think>2</think>two", want: "one two"},
		{name: "unterminated", raw: "answer <think>still going", want: "answer"},
		{name: "marker lookalike", raw: "use <thing> here", want: "use <thing> here"},
		{name: "removal never forms a marker", raw: "<<think></think>think><tank>", want: "<think><tank>"},
		{name: "stray closer", raw: "a </think> b", want: "a </think> b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Clean(tt.raw); got != tt.want {
				t.Fatalf("Clean(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestThinkFilterMonotonicEmission(t *testing.T) {
	t.Parallel()

	deltas := []string{
		"<th", "ink>", "I should ", "greet them", "</thi", "nk>", "\n\n",
		"Hel", "lo ", "<", "think>second thought</think>", "there", " friend",
	}
	raw := strings.Join(deltas, "")
	want := Clean(raw)

	var f ThinkFilter
	var got strings.Builder
	for _, d := range deltas {
		out := f.Push(d)
		got.WriteString(out)
		if !strings.HasPrefix(want, got.String()) {
			t.Fatalf("emitted %q is not a prefix of final %q", got.String(), want)
		}
		for _, secret := range []string{"greet", "second", "<think", "think>"} {
			if strings.Contains(out, secret) {
				t.Fatalf("think-block content %q leaked in %q", secret, out)
			}
		}
	}
	got.WriteString(f.Flush())

	if got.String() != want {
		t.Fatalf("concatenated tokens = %q, want %q", got.String(), want)
	}
	if want != "Hello there friend" {
		t.Fatalf("unexpected cleaned text %q", want)
	}
}

func TestThinkFilterCharByChar(t *testing.T) {
	t.Parallel()

	raws := []string{
		"<<think></think>think><tank>",
		"<th<think>x</think>ink>tail",
		"<think>a</think><think>b</think>c",
		"x<think></think><think>open",
		"  lead <think>\n</think>  trail  ",
		"<thi<think>nk></think>>",
		"<think><think></think>after</think>end",
	}

	for _, raw := range raws {
		want := Clean(raw)
		var f ThinkFilter
		var got strings.Builder
		for _, r := range raw {
			got.WriteString(f.Push(string(r)))
			if !strings.HasPrefix(want, got.String()) {
				t.Fatalf("raw %q: emitted %q is not a prefix of final %q", raw, got.String(), want)
			}
		}
		got.WriteString(f.Flush())
		if got.String() != want {
			t.Fatalf("raw %q: concatenated tokens = %q, want %q", raw, got.String(), want)
		}
	}
}

func TestThinkFilterHoldsPartialMarker(t *testing.T) {
	t.Parallel()

	var f ThinkFilter
	if out := f.Push("hi <thi"); out != "hi" {
		t.Fatalf("expected held-back marker, got %q", out)
	}
	if out := f.Push("s is fine"); out != " <this is fine" {
		t.Fatalf("expected release once marker broken, got %q", out)
	}
	if out := f.Flush(); out != "" {
		t.Fatalf("expected nothing left, got %q", out)
	}
}

func TestThinkFilterFlushOnce(t *testing.T) {
	t.Parallel()

	var f ThinkFilter
	f.Push("done ")
	first := f.Flush()
	if first != "" {
		t.Fatalf("expected trailing space to be dropped, got %q", first)
	}
	if out := f.Push("more"); out != "" {
		t.Fatalf("expected no output after flush, got %q", out)
	}
	if f.Emitted() != "done" {
		t.Fatalf("unexpected emitted text %q", f.Emitted())
	}
}
