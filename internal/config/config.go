package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

const (
	DefaultStreamPath    = "/api/search/stream"
	DefaultProductPath   = "/api/products"
	DefaultRevealDelay   = 5 * time.Second
	DefaultRevealStagger = 250 * time.Millisecond
)

// Config holds application configuration
type Config struct {
	BaseURL     string
	StreamPath  string
	ProductPath string
	Transport   string // sse or websocket; derived from BaseURL scheme when empty
	Token       string // Bearer credential supplied by the auth collaborator
	Debug       bool

	// Reveal pacing for product attachments of a completed turn
	RevealDelay   time.Duration
	RevealStagger time.Duration

	// IdleTimeout fails a turn when no message arrives for this long (0 disables)
	IdleTimeout time.Duration

	// Archive
	Persist bool
	DBPath  string
	LogDir  string
}

// Default returns a Config with every optional field filled in
func Default() Config {
	return Config{
		BaseURL:       "http://localhost:8080",
		StreamPath:    DefaultStreamPath,
		ProductPath:   DefaultProductPath,
		RevealDelay:   DefaultRevealDelay,
		RevealStagger: DefaultRevealStagger,
		Persist:       true,
		DBPath:        "bytesme-search.db",
		LogDir:        "logs",
	}
}

// ResolveTransport picks the push transport from the explicit setting or the URL scheme
func (c Config) ResolveTransport() string {
	if c.Transport != "" {
		return c.Transport
	}
	if strings.HasPrefix(c.BaseURL, "ws://") || strings.HasPrefix(c.BaseURL, "wss://") {
		return TransportWebSocket
	}
	return TransportSSE
}

// StreamURL joins the base URL and the stream path
func (c Config) StreamURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.StreamPath
}

// Validate checks the configuration for values the engine cannot run with
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	switch c.ResolveTransport() {
	case TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("unknown transport: %s", c.Transport)
	}
	if c.RevealDelay < 0 {
		return fmt.Errorf("reveal delay must not be negative: %s", c.RevealDelay)
	}
	if c.RevealStagger <= 0 {
		return fmt.Errorf("reveal stagger must be positive: %s", c.RevealStagger)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative: %s", c.IdleTimeout)
	}
	if c.Persist && c.DBPath == "" {
		return fmt.Errorf("database path is required when persistence is enabled")
	}
	return nil
}
