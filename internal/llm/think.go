package llm

import (
	"strings"
	"unicode"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkFilter incrementally removes <think>...</think> reasoning blocks from
// model output. Text is released only once it can no longer become part of
// a think-block, and released text is never retracted.
type ThinkFilter struct {
	raw     strings.Builder
	emitted strings.Builder
	flushed bool
}

// Push appends a raw delta and returns newly releasable cleaned text.
func (f *ThinkFilter) Push(delta string) string {
	if f.flushed {
		return ""
	}
	f.raw.WriteString(delta)
	return f.advance(stableText(f.raw.String()))
}

// Flush ends the stream and returns any text still held back. An unterminated
// think-block at the end of the stream is dropped.
func (f *ThinkFilter) Flush() string {
	if f.flushed {
		return ""
	}
	f.flushed = true
	return f.advance(finalText(f.raw.String()))
}

// Emitted returns all cleaned text released so far.
func (f *ThinkFilter) Emitted() string {
	return f.emitted.String()
}

func (f *ThinkFilter) advance(clean string) string {
	done := f.emitted.String()
	if len(clean) <= len(done) || !strings.HasPrefix(clean, done) {
		return ""
	}
	out := clean[len(done):]
	f.emitted.WriteString(out)
	return out
}

// Clean applies the filter to a complete response.
func Clean(raw string) string {
	var f ThinkFilter
	return f.Push(raw) + f.Flush()
}

// stripBlocks removes complete think-blocks from raw in a single left to
// right pass and cuts at the first opener that has no closer. Markers are
// only recognized in raw, so text joined across a removed block is never
// reinterpreted as a marker. open reports whether the text was cut.
func stripBlocks(raw string) (text string, open bool) {
	var b strings.Builder
	rest := raw
	for {
		i := strings.Index(rest, thinkOpen)
		if i < 0 {
			b.WriteString(rest)
			return b.String(), false
		}
		b.WriteString(rest[:i])
		j := strings.Index(rest[i+len(thinkOpen):], thinkClose)
		if j < 0 {
			return b.String(), true
		}
		rest = rest[i+len(thinkOpen)+j+len(thinkClose):]
	}
}

func stableText(raw string) string {
	s, open := stripBlocks(raw)
	if !open {
		// A partial opener can only sit at the end of raw, inside the last
		// uncut segment.
		s = s[:len(s)-min(len(s), partialMarkerLen(raw))]
	}
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func finalText(raw string) string {
	s, _ := stripBlocks(raw)
	return strings.TrimSpace(s)
}

// partialMarkerLen returns the length of the longest suffix of s that is a
// proper prefix of the opening marker.
func partialMarkerLen(s string) int {
	for n := len(thinkOpen) - 1; n > 0; n-- {
		if strings.HasSuffix(s, thinkOpen[:n]) {
			return n
		}
	}
	return 0
}
