// Package ws adapts a gorilla WebSocket connection to the client.Transport
// contract: serialized text-frame writes and an in-order inbound pump that
// treats binary frames like text and drops everything else.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/strayfield/gamewire/pkg/protocol"
)

// Conn is a WebSocket connection with mutex-guarded writes, so the client
// and any host goroutines can send concurrently.
type Conn struct {
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// Dial connects to a controller endpoint (e.g. "ws://127.0.0.1:8000").
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, protocol.NewErrorf(protocol.ErrCodeTransport, "dial %s", url).WithCause(err)
	}
	return Wrap(conn, opts...), nil
}

// Wrap adopts an already-established connection, e.g. one produced by a
// server-side websocket.Upgrader.
func Wrap(conn *websocket.Conn, opts ...Option) *Conn {
	c := &Conn{conn: conn, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes one text frame. It implements client.Transport.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A zero deadline clears any leftover from an earlier deadline-bearing
	// send.
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return protocol.NewError(protocol.ErrCodeTransport, "write message").WithCause(err)
	}
	return nil
}

// Listen pumps inbound messages to fn in arrival order until the connection
// closes or ctx is cancelled. Text and binary frames both reach fn as raw
// bytes; other frame kinds never surface. Errors returned by fn are logged
// and the pump keeps going, so one bad message cannot stall the conversation.
func (c *Conn) Listen(ctx context.Context, fn func(data []byte) error) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-stop:
		}
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return protocol.NewError(protocol.ErrCodeTransport, "read message").WithCause(err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := fn(data); err != nil {
			c.logger.WarnContext(ctx, "inbound message rejected", slog.String("error", err.Error()))
		}
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Upgrader returns a server-side upgrader that accepts any origin; the
// controller endpoint is expected to run on a trusted local interface.
func Upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}
