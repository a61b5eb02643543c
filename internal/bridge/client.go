// Package bridge implements the client core for the Trestle bridge protocol:
// one WebSocket link multiplexing request/response calls, long-lived terminal
// and voice sessions, and project-scoped preview subscriptions. The Client
// owns the physical connection lifecycle (keepalive, reconnect with backoff,
// teardown) and routes every inbound frame to exactly the right caller.
package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trestle-dev/trestle/internal/wire"
)

// State describes the connection lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

type connectResult struct {
	projects []wire.Project
	err      error
}

// Client multiplexes calls, sessions and subscriptions over one bridge link.
// All registries live on the Client; constructing a second Client gives a
// fully independent connection.
type Client struct {
	logger           *log.Logger
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	shortTimeout     time.Duration
	longTimeout      time.Duration
	keepalive        time.Duration

	onState    func(State)
	onProjects func([]wire.Project)
	onError    func(error)

	mu             sync.Mutex
	conn           *websocket.Conn
	connGen        int
	state          State
	addr           string
	attempts       int
	reconnectTimer *time.Timer
	keepaliveStop  chan struct{}
	connectWaiters []chan connectResult
	closed         bool

	calls *callRegistry

	terminals      map[string]*Terminal
	voices         map[string]*Voice
	voiceTerminals map[string]*VoiceTerminal
	previews       map[string]func(PreviewError)

	writeMu sync.Mutex
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	c := &Client{
		logger:           log.Default(),
		dialer:           websocket.DefaultDialer,
		handshakeTimeout: defaultHandshakeTimeout,
		shortTimeout:     defaultShortCallTimeout,
		longTimeout:      defaultLongCallTimeout,
		keepalive:        defaultKeepalive,
		state:            StateDisconnected,
		calls:            newCallRegistry(),
		terminals:        make(map[string]*Terminal),
		voices:           make(map[string]*Voice),
		voiceTerminals:   make(map[string]*VoiceTerminal),
		previews:         make(map[string]func(PreviewError)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the most recently requested bridge address.
func (c *Client) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// reconnectDelay returns the backoff before reconnect attempt n (0-based):
// 1s, 2s, 4s, 8s, then capped at 10s.
func reconnectDelay(attempt int) time.Duration {
	delay := reconnectBase << attempt
	if delay > reconnectCap || delay <= 0 {
		return reconnectCap
	}
	return delay
}

// Connect opens the link to addr and resolves with the initial project
// snapshot from the handshake. If the client is already connected to addr it
// returns immediately with no snapshot; callers query current state
// separately. If a connect to addr is already in flight, the caller attaches
// to that attempt instead of opening a second socket.
func (c *Client) Connect(ctx context.Context, addr string) ([]wire.Project, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}

	if c.addr == addr {
		switch c.state {
		case StateConnected:
			c.mu.Unlock()
			return nil, nil
		case StateConnecting, StateReconnecting:
			ch := make(chan connectResult, 1)
			c.connectWaiters = append(c.connectWaiters, ch)
			// A scheduled retry becomes an immediate one: the caller should
			// not sit out the remainder of a backoff window.
			if c.reconnectTimer != nil {
				c.reconnectTimer.Stop()
				c.reconnectTimer = nil
				go c.dial(addr, false)
			}
			c.mu.Unlock()
			return c.awaitConnect(ctx, ch)
		}
	}

	// Fresh target (or a retry after exhausted reconnects): tear down
	// whatever link exists before opening another.
	old := c.teardownLocked()
	c.addr = addr
	c.attempts = 0
	c.state = StateConnecting
	ch := make(chan connectResult, 1)
	c.connectWaiters = append(c.connectWaiters, ch)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.notifyState(StateConnecting)

	go c.dial(addr, true)
	return c.awaitConnect(ctx, ch)
}

func (c *Client) awaitConnect(ctx context.Context, ch chan connectResult) ([]wire.Project, error) {
	select {
	case res := <-ch:
		return res.projects, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dial opens the socket and hands it to a read loop. manual marks a
// caller-initiated connect; failures then surface to the caller instead of
// feeding the backoff schedule.
func (c *Client) dial(addr string, manual bool) {
	dialer := *c.dialer
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = c.handshakeTimeout
	}

	conn, _, err := dialer.Dial(addr, nil)

	c.mu.Lock()
	if c.closed || c.addr != addr || c.conn != nil {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		if manual {
			c.state = StateDisconnected
			waiters := c.takeWaitersLocked()
			c.mu.Unlock()
			c.failWaiters(waiters, err)
			c.notifyState(StateDisconnected)
			return
		}
		c.logger.Printf("[Bridge] Reconnect dial failed: %v", err)
		c.scheduleReconnectLocked()
		next := c.state
		c.mu.Unlock()
		c.notifyState(next)
		return
	}

	c.conn = conn
	c.connGen++
	gen := c.connGen
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	c.watchHandshake(conn, gen)
}

// watchHandshake tears the socket down if the connected frame never arrives.
func (c *Client) watchHandshake(conn *websocket.Conn, gen int) {
	time.AfterFunc(c.handshakeTimeout, func() {
		c.mu.Lock()
		stale := gen != c.connGen || c.conn == nil || c.state == StateConnected
		c.mu.Unlock()
		if !stale {
			c.logger.Printf("[Bridge] Handshake timed out after %s", c.handshakeTimeout)
			conn.Close()
		}
	})
}

// readLoop drains the socket and feeds the dispatcher until the link breaks.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}

		env, derr := wire.Decode(data)
		if derr != nil {
			c.logger.Printf("[Dispatch] Dropping malformed frame: %v", derr)
			continue
		}
		c.dispatch(env, gen)
	}
}

func (c *Client) handleReadError(gen int, err error) {
	c.mu.Lock()
	if gen != c.connGen || c.conn == nil {
		// A newer link replaced this one, or an explicit disconnect already
		// cleaned up. Nothing left to do.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopKeepaliveLocked()
	waiters := c.takeWaitersLocked()
	c.scheduleReconnectLocked()
	next := c.state
	c.mu.Unlock()

	if isNormalClose(err) {
		c.logger.Printf("[Bridge] Connection closed by bridge")
	} else {
		c.logger.Printf("[Bridge] Connection lost: %v", err)
		c.notifyError(&TransportError{Err: err})
	}

	c.calls.drain(ErrConnectionLost)
	c.failWaiters(waiters, ErrConnectionLost)
	c.notifyState(next)
}

// scheduleReconnectLocked applies the backoff policy after a link failure.
// Callers hold c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= maxReconnectAttempts {
		c.state = StateDisconnected
		c.logger.Printf("[Bridge] Giving up after %d reconnect attempts", maxReconnectAttempts)
		return
	}

	delay := reconnectDelay(c.attempts)
	c.attempts++
	c.state = StateReconnecting
	c.logger.Printf("[Bridge] Reconnecting in %s (attempt %d/%d)", delay, c.attempts, maxReconnectAttempts)

	addr := c.addr
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.reconnectTimer == nil || c.closed {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.dial(addr, false)
	})
}

// handleConnected finishes the handshake: the connected frame carries the
// initial project snapshot and flips the link to Connected.
func (c *Client) handleConnected(env *wire.Envelope, gen int) {
	c.mu.Lock()
	if gen != c.connGen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.attempts = 0
	c.startKeepaliveLocked()
	waiters := c.takeWaitersLocked()
	c.mu.Unlock()

	c.logger.Printf("[Bridge] Connected to %s (%d projects)", c.Address(), len(env.Projects))
	for _, ch := range waiters {
		ch <- connectResult{projects: env.Projects}
	}
	c.notifyState(StateConnected)
}

// Disconnect closes the link without scheduling a reconnect. The attempt
// counter is pinned at its maximum so a late close event from the dying
// socket cannot trigger a spurious reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.attempts = maxReconnectAttempts
	old := c.teardownLocked()
	c.state = StateDisconnected
	waiters := c.takeWaitersLocked()
	c.mu.Unlock()

	if old != nil {
		old.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		old.Close()
	}

	c.calls.drain(ErrConnectionLost)
	c.failWaiters(waiters, ErrConnectionLost)
	c.notifyState(StateDisconnected)
}

// Shutdown disconnects and clears every registry. The client cannot be
// reused afterwards.
func (c *Client) Shutdown() {
	c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.terminals = make(map[string]*Terminal)
	c.voices = make(map[string]*Voice)
	c.voiceTerminals = make(map[string]*VoiceTerminal)
	c.previews = make(map[string]func(PreviewError))
	c.mu.Unlock()
}

// teardownLocked cancels timers, stops keepalive and detaches the current
// socket. Callers hold c.mu and close the returned socket after unlocking.
func (c *Client) teardownLocked() *websocket.Conn {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopKeepaliveLocked()
	old := c.conn
	c.conn = nil
	c.connGen++
	return old
}

func (c *Client) startKeepaliveLocked() {
	c.stopKeepaliveLocked()
	stop := make(chan struct{})
	c.keepaliveStop = stop
	interval := c.keepalive

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.send(wire.Ping{Type: wire.TypePing}); err != nil {
					c.logger.Printf("[Bridge] Keepalive ping failed: %v", err)
					return
				}
			}
		}
	}()
}

func (c *Client) stopKeepaliveLocked() {
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
}

func (c *Client) takeWaitersLocked() []chan connectResult {
	waiters := c.connectWaiters
	c.connectWaiters = nil
	return waiters
}

func (c *Client) failWaiters(waiters []chan connectResult, err error) {
	for _, ch := range waiters {
		ch <- connectResult{err: err}
	}
}

func (c *Client) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) notifyError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// send serializes one fire-and-forget frame onto the link.
func (c *Client) send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeJSON(conn, payload)
}

func (c *Client) writeJSON(conn *websocket.Conn, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(payload)
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
