// Package stream defines the events produced by a chat turn and the encoders
// that frame them for remote clients.
package stream

import (
	"encoding/json"
	"errors"
)

// ErrClosed is returned when writing to an encoder after Done was sent.
var ErrClosed = errors.New("stream closed")

// Kind discriminates Event.
type Kind int

const (
	KindToken Kind = iota
	KindToolCall
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindToolCall:
		return "tool_call"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one element of a chat turn's output. Exactly one Done event ends
// every stream.
type Event struct {
	Kind Kind
	// Text holds the token fragment for KindToken.
	Text string
	// Tool and Args describe the call for KindToolCall.
	Tool string
	Args map[string]any
}

// Token returns a text fragment event.
func Token(text string) Event {
	return Event{Kind: KindToken, Text: text}
}

// ToolCall returns a tool announcement event.
func ToolCall(name string, args map[string]any) Event {
	return Event{Kind: KindToolCall, Tool: name, Args: args}
}

// Done returns the end-of-stream event.
func Done() Event {
	return Event{Kind: KindDone}
}

// MarshalJSON encodes the wire frame: {"token":...}, {"tool_call":...,"args":...}
// or {"done":true}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindToken:
		return json.Marshal(struct {
			Token string `json:"token"`
		}{e.Text})
	case KindToolCall:
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		return json.Marshal(struct {
			ToolCall string         `json:"tool_call"`
			Args     map[string]any `json:"args"`
		}{e.Tool, args})
	default:
		return []byte(`{"done":true}`), nil
	}
}

// UnmarshalJSON decodes a wire frame.
func (e *Event) UnmarshalJSON(data []byte) error {
	var frame struct {
		Token    *string        `json:"token"`
		ToolCall *string        `json:"tool_call"`
		Args     map[string]any `json:"args"`
		Done     bool           `json:"done"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	switch {
	case frame.Token != nil:
		*e = Token(*frame.Token)
	case frame.ToolCall != nil:
		*e = ToolCall(*frame.ToolCall, frame.Args)
	case frame.Done:
		*e = Done()
	default:
		return errors.New("unrecognized stream frame")
	}
	return nil
}

// Encoder frames events for a client.
type Encoder interface {
	// Encode writes one event. After Done it returns ErrClosed.
	Encode(Event) error
	// Fail reports an error outside the event framing and closes the encoder.
	Fail(err error) error
}

// Text concatenates the token fragments in events.
func Text(events []Event) string {
	var n int
	for _, e := range events {
		n += len(e.Text)
	}
	buf := make([]byte, 0, n)
	for _, e := range events {
		if e.Kind == KindToken {
			buf = append(buf, e.Text...)
		}
	}
	return string(buf)
}
