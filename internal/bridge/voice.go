package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/trestle-dev/trestle/internal/wire"
)

// VoiceCallbacks receive the stream frames scoped to one standalone voice
// session.
type VoiceCallbacks struct {
	OnTranscription func(text string, isFinal bool)
	OnProgress      func(stage string)
	OnResponse      func(responseText, audioData string, isComplete bool)
	OnError         func(err error)
}

// Voice is an owned handle for one standalone voice session.
type Voice struct {
	client *Client

	mu     sync.Mutex
	id     string
	closed bool
	cb     VoiceCallbacks
}

// CreateVoice opens a voice session inside a project. Callbacks register
// under a temporary id before the request goes out and re-key to the server
// id on the reader goroutine.
func (c *Client) CreateVoice(ctx context.Context, projectID string, cb VoiceCallbacks) (*Voice, error) {
	v := &Voice{client: c, cb: cb}
	tempID := tempSessionID()
	v.id = tempID

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	c.voices[tempID] = v
	c.mu.Unlock()

	rekey := func(env *wire.Envelope) {
		c.mu.Lock()
		delete(c.voices, tempID)
		if env.VoiceSessionID != "" {
			v.mu.Lock()
			v.id = env.VoiceSessionID
			v.mu.Unlock()
			c.voices[env.VoiceSessionID] = v
		}
		c.mu.Unlock()
	}

	env, err := c.call(ctx, wire.TypeVoiceCreate, wire.VoiceCreate{
		Type:      wire.TypeVoiceCreate,
		ProjectID: projectID,
	}, c.longTimeout, rekey)
	if err != nil {
		c.mu.Lock()
		delete(c.voices, tempID)
		c.mu.Unlock()
		return nil, err
	}
	if env.VoiceSessionID == "" {
		return nil, fmt.Errorf("bridge: voice_created without voiceSessionId")
	}

	c.logger.Printf("[Bridge] Voice session %s created in project %s", env.VoiceSessionID, projectID)
	return v, nil
}

// ID returns the session id (the server-assigned one once known).
func (v *Voice) ID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id
}

// SendAudio ships one captured utterance as an opaque encoded blob.
func (v *Voice) SendAudio(audioData string) error {
	id, err := v.liveID()
	if err != nil {
		return err
	}
	return v.client.send(wire.VoiceAudio{
		Type:           wire.TypeVoiceAudio,
		VoiceSessionID: id,
		AudioData:      audioData,
	})
}

// SendText ships a typed turn instead of speech.
func (v *Voice) SendText(text string) error {
	id, err := v.liveID()
	if err != nil {
		return err
	}
	return v.client.send(wire.VoiceText{
		Type:           wire.TypeVoiceText,
		VoiceSessionID: id,
		Text:           text,
	})
}

// Close removes the session from local dispatch immediately; the bridge-side
// teardown is best effort.
func (v *Voice) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	id := v.id
	v.mu.Unlock()

	v.client.mu.Lock()
	delete(v.client.voices, id)
	v.client.mu.Unlock()

	err := v.client.send(wire.VoiceClose{
		Type:           wire.TypeVoiceClose,
		VoiceSessionID: id,
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (v *Voice) liveID() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return "", ErrSessionClosed
	}
	return v.id, nil
}

func (v *Voice) deliver(env *wire.Envelope) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	cb := v.cb
	v.mu.Unlock()

	switch env.Type {
	case wire.TypeVoiceTranscription:
		if cb.OnTranscription != nil {
			cb.OnTranscription(env.Text, env.IsFinal)
		}
	case wire.TypeVoiceProgress:
		if cb.OnProgress != nil {
			cb.OnProgress(env.Stage)
		}
	case wire.TypeVoiceResponse:
		if cb.OnResponse != nil {
			cb.OnResponse(env.ResponseText, env.AudioData, env.IsComplete)
		}
	case wire.TypeVoiceError:
		if cb.OnError != nil {
			cb.OnError(errors.New(env.Error))
		}
	}
}

// VoiceTerminalCallbacks receive the stream frames for a voice overlay on an
// existing terminal session.
type VoiceTerminalCallbacks struct {
	OnSpeaking       func(responseText, audioData string, isComplete bool)
	OnWorking        func(working bool)
	OnAppControl     func(action string, payload json.RawMessage)
	OnBackgroundTask func(taskID, status, description string)
	OnEnabled        func()
	OnDisabled       func()
	OnError          func(err error)
}

// VoiceTerminal is an owned handle for a voice overlay. It shares the
// terminal's id: the overlay has no separate session id on the wire.
type VoiceTerminal struct {
	client *Client

	mu     sync.Mutex
	id     string
	closed bool
	cb     VoiceTerminalCallbacks
}

// EnableVoiceTerminal overlays the voice agent onto an existing terminal.
// The terminal id is already known, so callbacks register under it directly
// before the enable call goes out; no re-keying is needed.
func (c *Client) EnableVoiceTerminal(ctx context.Context, terminalID string, cb VoiceTerminalCallbacks) (*VoiceTerminal, error) {
	vt := &VoiceTerminal{client: c, id: terminalID, cb: cb}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if _, exists := c.voiceTerminals[terminalID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge: voice overlay already enabled for terminal %s", terminalID)
	}
	c.voiceTerminals[terminalID] = vt
	c.mu.Unlock()

	_, err := c.call(ctx, wire.TypeVoiceTerminalEnable, wire.VoiceTerminalEnable{
		Type:       wire.TypeVoiceTerminalEnable,
		TerminalID: terminalID,
	}, c.longTimeout, nil)
	if err != nil {
		c.mu.Lock()
		delete(c.voiceTerminals, terminalID)
		c.mu.Unlock()
		return nil, err
	}

	c.logger.Printf("[Bridge] Voice overlay enabled for terminal %s", terminalID)
	return vt, nil
}

// ID returns the underlying terminal id.
func (vt *VoiceTerminal) ID() string {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	return vt.id
}

// SendAudio ships one captured utterance to the overlay agent.
func (vt *VoiceTerminal) SendAudio(audioData string) error {
	id, err := vt.liveID()
	if err != nil {
		return err
	}
	return vt.client.send(wire.VoiceTerminalAudio{
		Type:       wire.TypeVoiceTerminalAudio,
		TerminalID: id,
		AudioData:  audioData,
	})
}

// SendText ships a typed turn to the overlay agent.
func (vt *VoiceTerminal) SendText(text string) error {
	id, err := vt.liveID()
	if err != nil {
		return err
	}
	return vt.client.send(wire.VoiceTerminalText{
		Type:       wire.TypeVoiceTerminalText,
		TerminalID: id,
		Text:       text,
	})
}

// Disable removes the overlay from local dispatch immediately; the
// bridge-side disable is best effort.
func (vt *VoiceTerminal) Disable() error {
	vt.mu.Lock()
	if vt.closed {
		vt.mu.Unlock()
		return nil
	}
	vt.closed = true
	id := vt.id
	vt.mu.Unlock()

	vt.client.mu.Lock()
	delete(vt.client.voiceTerminals, id)
	vt.client.mu.Unlock()

	err := vt.client.send(wire.VoiceTerminalDisable{
		Type:       wire.TypeVoiceTerminalDisable,
		TerminalID: id,
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (vt *VoiceTerminal) liveID() (string, error) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	if vt.closed {
		return "", ErrSessionClosed
	}
	return vt.id, nil
}

func (vt *VoiceTerminal) deliver(env *wire.Envelope) {
	vt.mu.Lock()
	if vt.closed {
		vt.mu.Unlock()
		return
	}
	if env.Type == wire.TypeVoiceTerminalDisabled {
		vt.closed = true
	}
	cb := vt.cb
	vt.mu.Unlock()

	switch env.Type {
	case wire.TypeVoiceTerminalSpeaking:
		if cb.OnSpeaking != nil {
			cb.OnSpeaking(env.ResponseText, env.AudioData, env.IsComplete)
		}
	case wire.TypeVoiceTerminalWorking:
		if cb.OnWorking != nil {
			cb.OnWorking(env.Working)
		}
	case wire.TypeVoiceTerminalAppControl:
		if cb.OnAppControl != nil {
			cb.OnAppControl(env.Action, env.Payload)
		}
	case wire.TypeVoiceTerminalBackgroundTask:
		if cb.OnBackgroundTask != nil {
			cb.OnBackgroundTask(env.TaskID, env.Status, env.Description)
		}
	case wire.TypeVoiceTerminalEnabled:
		if cb.OnEnabled != nil {
			cb.OnEnabled()
		}
	case wire.TypeVoiceTerminalDisabled:
		if cb.OnDisabled != nil {
			cb.OnDisabled()
		}
	case wire.TypeVoiceTerminalError:
		if cb.OnError != nil {
			cb.OnError(errors.New(env.Error))
		}
	}
}
