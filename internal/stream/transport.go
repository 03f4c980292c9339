package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"BytesmeSearch/internal/config"
)

// Request describes one streamed search
type Request struct {
	Query        string
	Continuation string // server session id, set on follow-ups only
	RequestID    string
}

// Conn is one open push connection. Next blocks until the next raw message
// arrives and returns io.EOF when the server ends the stream.
// Close unblocks a pending Next and may be called more than once.
type Conn interface {
	Next() ([]byte, error)
	Close() error
}

// Dialer opens push connections. Dial returns only once the connection is open.
type Dialer interface {
	Dial(ctx context.Context, req Request) (Conn, error)
}

// TransportError reports a failure of the push connection itself
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var (
	// ErrConnectionAlreadyOpen guards the single-connection invariant inside Session
	ErrConnectionAlreadyOpen = errors.New("connection already open")
	// ErrNoSession is returned by a follow-up issued before the server sent a session id
	ErrNoSession = errors.New("no session id for follow-up")
	// ErrEmptyQuery is returned when the query text is blank
	ErrEmptyQuery = errors.New("query is empty")
	// ErrStreamEnded reports a connection that closed before the done marker
	ErrStreamEnded = errors.New("stream ended before done marker")
	// ErrIdleTimeout reports a connection that stopped sending messages
	ErrIdleTimeout = errors.New("no message received within idle timeout")
)

// ServerError is the cause of a turn the server itself reported as failed
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server reported error: %s", e.Message)
}

// NewDialer builds the push transport selected by the configuration
func NewDialer(cfg config.Config, logger *slog.Logger) (Dialer, error) {
	switch cfg.ResolveTransport() {
	case config.TransportWebSocket:
		return NewWebSocketDialer(cfg.StreamURL(), cfg.Token, logger)
	case config.TransportSSE:
		return NewSSEDialer(cfg.StreamURL(), cfg.Token, logger)
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

func buildURL(base string, req Request) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse stream URL: %w", err)
	}
	q := u.Query()
	q.Set("q", req.Query)
	if req.Continuation != "" {
		q.Set("session_id", req.Continuation)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func buildHeader(token string, req Request) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	h.Set("Cache-Control", "no-cache")
	if req.Continuation != "" {
		h.Set("X-Session-ID", req.Continuation)
	}
	if req.RequestID != "" {
		h.Set("X-Request-ID", req.RequestID)
	}
	return h
}
