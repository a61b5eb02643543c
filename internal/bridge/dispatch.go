package bridge

import (
	"errors"

	"github.com/trestle-dev/trestle/internal/wire"
)

// dispatch routes one inbound envelope. Order matters and is fixed:
// a pending call for the tag wins first, then session-scoped frames, then
// global events; anything left is logged and dropped so server-only frame
// types stay forward compatible.
func (c *Client) dispatch(env *wire.Envelope, gen int) {
	if c.calls.resolve(env.Type, env) {
		return
	}

	switch {
	case wire.IsTerminalFrame(env.Type):
		c.dispatchTerminal(env)
	case wire.IsVoiceFrame(env.Type):
		c.dispatchVoice(env)
	case wire.IsVoiceTerminalFrame(env.Type):
		c.dispatchVoiceTerminal(env)
	default:
		c.dispatchGlobal(env, gen)
	}
}

func (c *Client) dispatchTerminal(env *wire.Envelope) {
	id := env.TerminalID
	if id == "" {
		c.logger.Printf("[Dispatch] Dropping %s without terminalId", env.Type)
		return
	}

	c.mu.Lock()
	t := c.terminals[id]
	if t != nil && env.Type == wire.TypeTerminalClosed {
		delete(c.terminals, id)
	}
	c.mu.Unlock()
	if t == nil {
		// The bridge may still be draining output for a session this client
		// already closed; that is not an error.
		return
	}
	t.deliver(env)
}

func (c *Client) dispatchVoice(env *wire.Envelope) {
	id := env.VoiceSessionID
	if id == "" {
		c.logger.Printf("[Dispatch] Dropping %s without voiceSessionId", env.Type)
		return
	}

	c.mu.Lock()
	v := c.voices[id]
	c.mu.Unlock()
	if v == nil {
		return
	}
	v.deliver(env)
}

func (c *Client) dispatchVoiceTerminal(env *wire.Envelope) {
	id := env.TerminalID
	if id == "" {
		c.logger.Printf("[Dispatch] Dropping %s without terminalId", env.Type)
		return
	}

	c.mu.Lock()
	vt := c.voiceTerminals[id]
	if vt != nil && env.Type == wire.TypeVoiceTerminalDisabled {
		delete(c.voiceTerminals, id)
	}
	c.mu.Unlock()
	if vt == nil {
		return
	}
	vt.deliver(env)
}

func (c *Client) dispatchGlobal(env *wire.Envelope, gen int) {
	switch env.Type {
	case wire.TypeConnected:
		c.handleConnected(env, gen)

	case wire.TypePong:
		// Keepalive answered; nothing to route.

	case wire.TypeProjectsUpdated:
		if c.onProjects != nil {
			c.onProjects(env.Projects)
		}

	case wire.TypePreviewError:
		c.mu.Lock()
		cb := c.previews[env.ProjectID]
		c.mu.Unlock()
		if cb != nil {
			cb(PreviewError{
				ProjectID: env.ProjectID,
				Message:   env.PreviewError,
				Kind:      env.PreviewErrorType,
			})
		}

	case wire.TypeError:
		c.logger.Printf("[Bridge] Application error: %s", env.Error)
		c.notifyError(errors.New(env.Error))

	default:
		c.logger.Printf("[Dispatch] Dropping unknown frame type %q", env.Type)
	}
}
