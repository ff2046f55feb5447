// internal/hub/transport.go
package hub

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// writeWait bounds a single frame write.
const writeWait = 5 * time.Second

// Transport is the hub's handle onto one subscriber's bidirectional
// text channel. The websocket adapter below is the production
// implementation; tests substitute an in-memory fake.
type Transport interface {
	// Send writes one text frame.
	Send(ctx context.Context, payload []byte) error
	// Receive blocks until the next text frame arrives.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the transport down with the given close code. Safe to
	// call more than once.
	Close(code websocket.StatusCode, reason string) error
	// Open reports whether the transport is still usable.
	Open() bool
}

type wsTransport struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

// NewWSTransport wraps an accepted websocket connection.
func NewWSTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	if t.closed.Load() {
		return net.ErrClosed
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	if err := t.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		t.closed.Store(true)
		return err
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			t.closed.Store(true)
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close(code, reason)
}

func (t *wsTransport) Open() bool {
	return !t.closed.Load()
}
