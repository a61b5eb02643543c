package bridge

import (
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trestle-dev/trestle/internal/wire"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultShortCallTimeout = 10 * time.Second
	defaultLongCallTimeout  = 60 * time.Second
	defaultKeepalive        = 30 * time.Second

	reconnectBase        = time.Second
	reconnectCap         = 10 * time.Second
	maxReconnectAttempts = 5

	writeTimeout = 5 * time.Second
)

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for connection and dispatch diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithHandshakeTimeout bounds the wait for the connected frame after dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithShortCallTimeout sets the budget for metadata calls.
func WithShortCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.shortTimeout = d
		}
	}
}

// WithLongCallTimeout sets the budget for calls that cold-start a subprocess.
func WithLongCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.longTimeout = d
		}
	}
}

// WithKeepaliveInterval sets the ping cadence on an open link.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.keepalive = d
		}
	}
}

// WithStateHandler registers a callback for connection state transitions.
func WithStateHandler(fn func(State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// WithProjectsHandler registers a callback for project list broadcasts.
func WithProjectsHandler(fn func([]wire.Project)) Option {
	return func(c *Client) {
		c.onProjects = fn
	}
}

// WithErrorHandler registers the global error callback. It receives
// application error frames and, wrapped in *TransportError, socket failures.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) {
		c.onError = fn
	}
}
