package stream

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WSEncoder writes events as JSON text messages on a WebSocket connection.
// One encoder serves one chat turn; the connection outlives it.
type WSEncoder struct {
	mu     sync.Mutex
	ctx    context.Context
	conn   *websocket.Conn
	closed bool
}

// NewWSEncoder wraps conn. ctx bounds every write.
func NewWSEncoder(ctx context.Context, conn *websocket.Conn) *WSEncoder {
	return &WSEncoder{ctx: ctx, conn: conn}
}

// Encode implements Encoder.
func (e *WSEncoder) Encode(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := wsjson.Write(e.ctx, e.conn, ev); err != nil {
		return err
	}
	if ev.Kind == KindDone {
		e.closed = true
	}
	return nil
}

// Fail implements Encoder.
func (e *WSEncoder) Fail(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	return wsjson.Write(e.ctx, e.conn, map[string]string{"error": cause.Error()})
}
