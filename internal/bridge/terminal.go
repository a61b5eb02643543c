package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/trestle-dev/trestle/internal/wire"
)

// terminalBufferCap bounds the accumulated output buffer; the oldest bytes
// are trimmed once the cap is reached.
const terminalBufferCap = 1 << 20

// TerminalCallbacks receive the stream frames scoped to one terminal
// session. Nil members are simply skipped.
type TerminalCallbacks struct {
	OnOutput func(content string)
	OnClosed func()
	OnError  func(err error)
}

// TerminalOptions shape the terminal_create call.
type TerminalOptions struct {
	Cols          int
	Rows          int
	Sandbox       bool
	InitialPrompt string
}

// Terminal is an owned handle for one terminal session. Closing it tears
// down local dispatch immediately; the bridge-side close is best effort.
type Terminal struct {
	client *Client

	mu     sync.Mutex
	id     string
	closed bool
	cb     TerminalCallbacks

	// Accumulated output. total counts every byte ever delivered so
	// consumers can compute incremental deltas even after trimming.
	buf   []byte
	total int64
}

// tempSessionID returns a local placeholder id used to register callbacks
// before the server-assigned id is known.
func tempSessionID() string {
	return "pending-" + uuid.New().String()[:8]
}

// CreateTerminal opens a terminal session inside a project. The callback set
// is registered before the request is sent and re-keyed to the server id on
// the reader goroutine, so no output frame can race ahead of registration.
func (c *Client) CreateTerminal(ctx context.Context, projectID string, opts TerminalOptions, cb TerminalCallbacks) (*Terminal, error) {
	t := &Terminal{client: c, cb: cb}
	tempID := tempSessionID()
	t.id = tempID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.terminals[tempID] = t
	c.mu.Unlock()

	rekey := func(env *wire.Envelope) {
		c.mu.Lock()
		delete(c.terminals, tempID)
		if env.TerminalID != "" {
			t.mu.Lock()
			t.id = env.TerminalID
			t.mu.Unlock()
			c.terminals[env.TerminalID] = t
		}
		c.mu.Unlock()
	}

	env, err := c.call(ctx, wire.TypeTerminalCreate, wire.TerminalCreate{
		Type:          wire.TypeTerminalCreate,
		ProjectID:     projectID,
		Cols:          opts.Cols,
		Rows:          opts.Rows,
		Sandbox:       opts.Sandbox,
		InitialPrompt: opts.InitialPrompt,
	}, c.longTimeout, rekey)
	if err != nil {
		c.mu.Lock()
		delete(c.terminals, tempID)
		c.mu.Unlock()
		return nil, err
	}
	if env.TerminalID == "" {
		return nil, fmt.Errorf("bridge: terminal_created without terminalId")
	}

	c.logger.Printf("[Bridge] Terminal %s created in project %s", env.TerminalID, projectID)
	return t, nil
}

// ID returns the session id (the server-assigned one once known).
func (t *Terminal) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// SendInput forwards keystrokes. Fire and forget: no response is awaited.
func (t *Terminal) SendInput(data string) error {
	id, err := t.liveID()
	if err != nil {
		return err
	}
	return t.client.send(wire.TerminalInput{
		Type:       wire.TypeTerminalInput,
		TerminalID: id,
		Data:       data,
	})
}

// Resize propagates a viewport change. Fire and forget.
func (t *Terminal) Resize(cols, rows int) error {
	id, err := t.liveID()
	if err != nil {
		return err
	}
	return t.client.send(wire.TerminalResize{
		Type:       wire.TypeTerminalResize,
		TerminalID: id,
		Cols:       cols,
		Rows:       rows,
	})
}

// Close removes the session from local dispatch immediately and tells the
// bridge to tear it down. Frames that were already in flight for this id
// become silent no-ops.
func (t *Terminal) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	id := t.id
	t.mu.Unlock()

	t.client.mu.Lock()
	delete(t.client.terminals, id)
	t.client.mu.Unlock()

	err := t.client.send(wire.TerminalClose{
		Type:       wire.TypeTerminalClose,
		TerminalID: id,
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Output returns a snapshot of the accumulated output buffer.
func (t *Terminal) Output() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// OutputSince returns the output delivered after offset and the new offset
// to resume from. If offset predates the retained window (the buffer trims
// its oldest bytes at capacity) the whole window is returned.
func (t *Terminal) OutputSince(offset int64) (string, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart := t.total - int64(len(t.buf))
	if offset < windowStart {
		offset = windowStart
	}
	if offset >= t.total {
		return "", t.total
	}
	return string(t.buf[offset-windowStart:]), t.total
}

func (t *Terminal) liveID() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", ErrSessionClosed
	}
	return t.id, nil
}

// deliver routes one session-scoped frame into the callback set. A handle
// closed locally swallows everything, matching optimistic-close semantics.
func (t *Terminal) deliver(env *wire.Envelope) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	switch env.Type {
	case wire.TypeTerminalOutput:
		t.appendLocked(env.Content)
		cb := t.cb.OnOutput
		t.mu.Unlock()
		if cb != nil {
			cb(env.Content)
		}

	case wire.TypeTerminalClosed:
		t.closed = true
		cb := t.cb.OnClosed
		t.mu.Unlock()
		if cb != nil {
			cb()
		}

	case wire.TypeTerminalError:
		cb := t.cb.OnError
		t.mu.Unlock()
		if cb != nil {
			cb(errors.New(env.Error))
		}

	default:
		t.mu.Unlock()
	}
}

func (t *Terminal) appendLocked(content string) {
	t.buf = append(t.buf, content...)
	t.total += int64(len(content))
	if over := len(t.buf) - terminalBufferCap; over > 0 {
		t.buf = t.buf[over:]
	}
}
