package rpc

import (
	"context"
	"fmt"
	"net/http"
)

// Connection is one established bidirectional stream. ReadFrame and
// WriteFrame exchange whole text frames (the Socket owns JSON framing via
// EncodeMethod/DecodeFrame); Close releases the underlying resource. A
// Connection is used by exactly one Socket at a time and is discarded,
// never reused, across a reconnect.
type Connection interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// Transport dials a fresh Connection to url, presenting headers during the
// handshake. Kept distinct from Connection, exactly as the teacher splits
// WebSocketClientTransport (the dialer) from websocketConn (the stream),
// so a Socket's reconnect loop can hold one Transport across many
// short-lived Connections.
type Transport interface {
	Connect(ctx context.Context, url string, headers http.Header) (Connection, error)
}

// CloseError is returned from ReadFrame with the close code the peer sent,
// so the Socket can classify it as recoverable (1000, 1011) or not.
// WriteFrame does not convert its failures into a CloseError.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code %d: %s", e.Code, e.Text)
}
