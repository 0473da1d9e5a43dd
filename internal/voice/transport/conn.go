package transport

import (
	"context"

	"github.com/coder/websocket"
)

// Kind distinguishes text (control) from binary (audio) messages.
type Kind int

const (
	KindText Kind = iota
	KindBinary
)

// Conn is the minimal connection surface the voice transport needs. The
// production implementation wraps a WebSocket; tests substitute fakes.
type Conn interface {
	// Read blocks until the next inbound message arrives.
	Read(ctx context.Context) (Kind, []byte, error)

	// WriteText sends one serialized control message.
	WriteText(ctx context.Context, data []byte) error

	// WriteBinary sends one audio frame.
	WriteBinary(ctx context.Context, data []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// wsConn adapts a coder/websocket connection to Conn.
type wsConn struct {
	conn *websocket.Conn
}

// NewWebSocketConn wraps an accepted WebSocket connection.
func NewWebSocketConn(conn *websocket.Conn) Conn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(ctx context.Context) (Kind, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return KindText, nil, err
	}
	if typ == websocket.MessageBinary {
		return KindBinary, data, nil
	}
	return KindText, data, nil
}

func (c *wsConn) WriteText(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) WriteBinary(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session closed")
}
