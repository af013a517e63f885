package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport is the Transport this SDK ships: a gorilla/websocket
// dialer generalized from the teacher's WebSocketClientTransport to this
// spec's method/reply/push framing instead of MCP's JSON-RPC framing.
type WebSocketTransport struct {
	// Dialer is the WebSocket dialer to use. If nil, websocket.DefaultDialer
	// is used.
	Dialer *websocket.Dialer
}

// Connect dials url (already role-expanded by the Client facade and
// query-merged by the Socket) presenting headers during the handshake.
func (t *WebSocketTransport) Connect(ctx context.Context, url string, headers http.Header) (Connection, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connect failed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	return &websocketConn{conn: conn}, nil
}

// websocketConn implements Connection over a *websocket.Conn.
type websocketConn struct {
	conn *websocket.Conn

	mu        sync.Mutex // serializes writes; gorilla/websocket forbids concurrent writers
	closeOnce sync.Once
}

func (c *websocketConn) ReadFrame(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return nil, fmt.Errorf("websocket read error: %w", err)
	}
	if messageType != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected websocket message type: %d (expected text)", messageType)
	}
	return data, nil
}

func (c *websocketConn) WriteFrame(ctx context.Context, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("websocket write error: %w", err)
	}
	return nil
}

// Close sends a normal-closure control frame and closes the underlying
// connection. Idempotent.
func (c *websocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(2 * time.Second)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

// WebSocketServer upgrades incoming HTTP requests to WebSocket connections,
// generalizing the teacher's WebSocketServerTransport for use in tests and
// in-process fakes that exercise the Socket's reconnect behavior against a
// real wire transport.
type WebSocketServer struct {
	upgrader websocket.Upgrader
}

// NewWebSocketServer returns a server transport that accepts any origin.
// Intended for tests; production deployments should supply their own
// CheckOrigin policy.
func NewWebSocketServer() *WebSocketServer {
	return &WebSocketServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Upgrade upgrades r into a Connection, writing the HTTP response directly
// if the upgrade fails.
func (s *WebSocketServer) Upgrade(w http.ResponseWriter, r *http.Request) (Connection, error) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return &websocketConn{conn: conn}, nil
}
