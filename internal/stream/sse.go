package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEEncoder writes events as server-sent events. Response headers are sent
// lazily on the first write so callers can still choose an HTTP status when
// a turn fails before producing anything.
type SSEEncoder struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	closed  bool
}

// NewSSEEncoder wraps w. It fails if w cannot flush.
func NewSSEEncoder(w http.ResponseWriter) (*SSEEncoder, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &SSEEncoder{w: w, flusher: flusher}, nil
}

// Started reports whether any bytes reached the client.
func (e *SSEEncoder) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *SSEEncoder) start() {
	if e.started {
		return
	}
	e.started = true
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
}

// Encode implements Encoder.
func (e *SSEEncoder) Encode(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	e.start()
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	if ev.Kind == KindDone {
		e.closed = true
	}
	return nil
}

// Fail implements Encoder. The error is sent as a named "error" event so
// clients reading only data frames never mistake it for content.
func (e *SSEEncoder) Fail(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true

	data, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err != nil {
		return err
	}
	e.start()
	if _, err := fmt.Fprintf(e.w, "event: error\ndata: %s\n\n", data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
