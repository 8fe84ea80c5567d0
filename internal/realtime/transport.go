package realtime

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is one open bidirectional connection.
type Conn interface {
	// ReadMessage blocks until a frame arrives or the connection dies.
	ReadMessage(ctx context.Context) ([]byte, error)

	// WriteMessage sends one frame.
	WriteMessage(ctx context.Context, data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport dials connections. The production implementation speaks
// websocket; tests substitute a channel-backed fake.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketTransport is the production Transport.
type WebSocketTransport struct{}

// NewWebSocketTransport creates the production websocket transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// Dial opens a websocket connection to url.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
