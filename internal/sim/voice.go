package sim

import (
	"fmt"
	"strings"

	"github.com/trestle-dev/trestle/internal/wire"
)

var defaultVoiceStages = []string{"transcribing", "thinking"}

// voiceSession replays the scenario's canned exchanges for one standalone
// voice conversation. A hook script takes precedence over the canned list;
// when both run out the session falls back to a generic acknowledgement.
type voiceSession struct {
	conn      *conn
	id        string
	projectID string
	turn      int
}

func (c *conn) handleVoiceCreate(env *wire.Envelope) {
	if !c.server.projects.exists(env.ProjectID) {
		c.sendError(fmt.Sprintf("voice_create: project %s not found", env.ProjectID))
		return
	}

	id := newSessionID("voice")
	v := &voiceSession{conn: c, id: id, projectID: env.ProjectID}

	c.mu.Lock()
	c.voices[id] = v
	c.mu.Unlock()

	c.enqueue(wire.VoiceCreated{Type: wire.TypeVoiceCreated, VoiceSessionID: id})
}

func (c *conn) handleVoiceAudio(env *wire.Envelope) {
	v, ok := c.lookupVoice(env.VoiceSessionID)
	if !ok {
		return
	}
	if env.AudioData == "" {
		v.sendVoiceError("voice_audio: audioData must not be empty")
		return
	}
	v.utterance(env.AudioData)
}

func (c *conn) handleVoiceText(env *wire.Envelope) {
	v, ok := c.lookupVoice(env.VoiceSessionID)
	if !ok {
		return
	}
	text := strings.TrimSpace(env.Text)
	if text == "" {
		v.sendVoiceError("voice_text: text must not be empty")
		return
	}
	v.typed(text)
}

func (c *conn) handleVoiceClose(env *wire.Envelope) {
	c.mu.Lock()
	delete(c.voices, env.VoiceSessionID)
	c.mu.Unlock()
}

func (c *conn) lookupVoice(id string) (*voiceSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.voices[id]
	return v, ok
}

// utterance answers one audio turn: transcription, progress stages, reply.
func (v *voiceSession) utterance(audioData string) {
	if reply, ok := v.conn.server.script.VoiceUtterance(v.id, audioData); ok {
		v.turn++
		v.play(reply.Transcription, reply.Stages, reply.Response)
		return
	}

	ex, ok := v.nextExchange()
	if !ok {
		ex = VoiceExchange{Reply: "Acknowledged."}
	}
	v.play(ex.Hear, ex.Stages, ex.Reply)
}

// typed answers one typed turn. The client already knows its own text, so
// no transcription frames are emitted; the turn still consumes an exchange.
func (v *voiceSession) typed(text string) {
	if reply, ok := v.conn.server.script.VoiceText(v.id, text); ok {
		v.turn++
		v.play("", reply.Stages, reply.Response)
		return
	}

	ex, ok := v.nextExchange()
	if !ok {
		ex = VoiceExchange{Reply: "Acknowledged."}
	}
	v.play("", ex.Stages, ex.Reply)
}

func (v *voiceSession) nextExchange() (VoiceExchange, bool) {
	exchanges := v.conn.server.scenario.Voice.Exchanges
	if v.turn >= len(exchanges) {
		return VoiceExchange{}, false
	}
	ex := exchanges[v.turn]
	v.turn++
	return ex, true
}

func (v *voiceSession) play(transcription string, stages []string, response string) {
	if transcription != "" {
		// A plausible recognizer streams a partial before settling.
		if first, rest, found := strings.Cut(transcription, " "); found && rest != "" {
			v.conn.enqueue(wire.VoiceTranscription{
				Type:           wire.TypeVoiceTranscription,
				VoiceSessionID: v.id,
				Text:           first,
			})
		}
		v.conn.enqueue(wire.VoiceTranscription{
			Type:           wire.TypeVoiceTranscription,
			VoiceSessionID: v.id,
			Text:           transcription,
			IsFinal:        true,
		})
	}

	if stages == nil {
		stages = defaultVoiceStages
	}
	for _, stage := range stages {
		v.conn.enqueue(wire.VoiceProgress{
			Type:           wire.TypeVoiceProgress,
			VoiceSessionID: v.id,
			Stage:          stage,
		})
	}

	if response == "" {
		response = "Acknowledged."
	}
	v.conn.enqueue(wire.VoiceResponse{
		Type:           wire.TypeVoiceResponse,
		VoiceSessionID: v.id,
		ResponseText:   response,
		IsComplete:     true,
	})
}

func (v *voiceSession) sendVoiceError(message string) {
	v.conn.enqueue(wire.VoiceErrorFrame{
		Type:           wire.TypeVoiceError,
		VoiceSessionID: v.id,
		Error:          message,
	})
}

// voiceOverlay is the voice agent riding an existing terminal. Overlay turns
// toggle the working indicator around a single speaking frame.
type voiceOverlay struct {
	conn       *conn
	terminalID string
	turn       int
}

func (c *conn) handleVoiceTerminalEnable(env *wire.Envelope) {
	if _, ok := c.lookupTerminal(env.TerminalID); !ok {
		c.sendError(fmt.Sprintf("voice_terminal_enable: terminal %s not found", env.TerminalID))
		return
	}

	c.mu.Lock()
	if _, exists := c.overlays[env.TerminalID]; exists {
		c.mu.Unlock()
		c.sendError(fmt.Sprintf("voice_terminal_enable: terminal %s already has a voice overlay", env.TerminalID))
		return
	}
	c.overlays[env.TerminalID] = &voiceOverlay{conn: c, terminalID: env.TerminalID}
	c.mu.Unlock()

	c.enqueue(wire.VoiceTerminalEnabled{
		Type:       wire.TypeVoiceTerminalEnabled,
		TerminalID: env.TerminalID,
	})
}

func (c *conn) handleVoiceTerminalAudio(env *wire.Envelope) {
	o, ok := c.lookupOverlay(env.TerminalID)
	if !ok {
		return
	}

	reply, hooked := c.server.script.VoiceUtterance(env.TerminalID, env.AudioData)
	if hooked {
		o.turn++
		o.speak(reply.Response)
		return
	}
	o.speak(o.nextReply())
}

func (c *conn) handleVoiceTerminalText(env *wire.Envelope) {
	o, ok := c.lookupOverlay(env.TerminalID)
	if !ok {
		return
	}

	reply, hooked := c.server.script.VoiceText(env.TerminalID, env.Text)
	if hooked {
		o.turn++
		o.speak(reply.Response)
		return
	}
	o.speak(o.nextReply())
}

func (c *conn) handleVoiceTerminalDisable(env *wire.Envelope) {
	c.mu.Lock()
	_, ok := c.overlays[env.TerminalID]
	delete(c.overlays, env.TerminalID)
	c.mu.Unlock()

	if ok {
		c.enqueue(wire.VoiceTerminalDisabled{
			Type:       wire.TypeVoiceTerminalDisabled,
			TerminalID: env.TerminalID,
		})
	}
}

func (c *conn) lookupOverlay(terminalID string) (*voiceOverlay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.overlays[terminalID]
	return o, ok
}

func (o *voiceOverlay) nextReply() string {
	exchanges := o.conn.server.scenario.Voice.Exchanges
	if o.turn >= len(exchanges) {
		return "Working on it."
	}
	reply := exchanges[o.turn].Reply
	o.turn++
	if reply == "" {
		return "Working on it."
	}
	return reply
}

func (o *voiceOverlay) speak(response string) {
	if response == "" {
		response = "Working on it."
	}

	o.conn.enqueue(wire.VoiceTerminalWorking{
		Type:       wire.TypeVoiceTerminalWorking,
		TerminalID: o.terminalID,
		Working:    true,
	})
	o.conn.enqueue(wire.VoiceTerminalSpeaking{
		Type:         wire.TypeVoiceTerminalSpeaking,
		TerminalID:   o.terminalID,
		ResponseText: response,
		IsComplete:   true,
	})
	o.conn.enqueue(wire.VoiceTerminalWorking{
		Type:       wire.TypeVoiceTerminalWorking,
		TerminalID: o.terminalID,
		Working:    false,
	})
}
