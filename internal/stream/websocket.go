package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens streamed searches over a WebSocket; every text frame is one message
type WebSocketDialer struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWebSocketDialer creates a WebSocket dialer for the given stream endpoint
func NewWebSocketDialer(streamURL, token string, logger *slog.Logger) (*WebSocketDialer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &WebSocketDialer{
		url:    streamURL,
		token:  token,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}, nil
}

// Dial performs the WebSocket handshake
func (d *WebSocketDialer) Dial(ctx context.Context, req Request) (Conn, error) {
	target, err := buildURL(d.url, req)
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.dialer.DialContext(ctx, target, buildHeader(d.token, req))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	d.logger.Debug("opened WebSocket stream", "url", d.url, "request_id", req.RequestID, "follow_up", req.Continuation != "")
	return &wsConn{conn: conn, logger: d.logger}, nil
}

type wsConn struct {
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

func (c *wsConn) Next() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text WebSocket frame", "type", msgType)
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
