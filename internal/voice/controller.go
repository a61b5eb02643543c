// Package voice drives one conversational capture loop: it buffers PCM
// chunks while the user speaks, runs the voice activity detector over the
// caller-metered levels, and tells the caller when to ship an utterance,
// when to barge in on a playing reply, and when capture may resume after a
// reply finishes. It never touches audio hardware; chunk and level feeds,
// playback start/stop and capture restarts are all owned by the caller.
package voice

import (
	"fmt"
	"time"

	"github.com/trestle-dev/trestle/internal/vad"
)

// defaultCooldown is the thinking-time pause between a reply finishing and
// capture resuming.
const defaultCooldown = time.Second

// defaultUtteranceCap bounds one utterance's assembled audio. The VAD's max
// recording ceiling normally ends a capture long before this matters.
const defaultUtteranceCap = 16 << 20

// Action tells the caller what to do after feeding one capture chunk.
type Action int

const (
	// ActionNone means keep capturing.
	ActionNone Action = iota
	// ActionSendUtterance means the utterance is complete: stop capture,
	// drain Utterance() and ship it.
	ActionSendUtterance
	// ActionInterruptPlayback means the user started speaking over a playing
	// reply: stop playback and keep capturing (barge-in).
	ActionInterruptPlayback
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSendUtterance:
		return "send_utterance"
	case ActionInterruptPlayback:
		return "interrupt_playback"
	}
	return "unknown"
}

// Config tunes one Controller.
type Config struct {
	VAD vad.Config
	// Cooldown is how long after a reply finishes before capture may resume.
	// Zero means the default (1s).
	Cooldown time.Duration
	// UtteranceCap bounds the assembled utterance; the oldest audio is
	// trimmed past it. Zero means the default.
	UtteranceCap int
}

// Controller is the per-conversation capture state machine. Not safe for
// concurrent use; the caller feeds it from its capture loop.
type Controller struct {
	cfg      Config
	detector *vad.Detector

	buf     []byte
	playing bool
	// resumeAt is when capture may restart after the last reply; zero until
	// a reply has finished.
	resumeAt time.Time
}

// NewController validates cfg and arms a controller for a capture starting
// at start.
func NewController(cfg Config, start time.Time) (*Controller, error) {
	if err := cfg.VAD.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("voice: cooldown must not be negative")
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.UtteranceCap <= 0 {
		cfg.UtteranceCap = defaultUtteranceCap
	}
	return &Controller{
		cfg:      cfg,
		detector: vad.NewDetector(cfg.VAD, start),
	}, nil
}

// Feed consumes one captured chunk with its metered level. The chunk is
// appended to the utterance in flight; the decision comes from the VAD.
func (c *Controller) Feed(chunk []byte, level float64, now time.Time) Action {
	if c.detector.Done() {
		return ActionNone
	}

	c.buf = append(c.buf, chunk...)
	if over := len(c.buf) - c.cfg.UtteranceCap; over > 0 {
		c.buf = c.buf[over:]
	}

	switch c.detector.Feed(level, now) {
	case vad.DecisionUtteranceEnd:
		return ActionSendUtterance

	case vad.DecisionSpeechConfirm:
		if c.playing {
			// Barge-in: the user talked over the reply. No cooldown applies;
			// they are already mid-utterance.
			c.playing = false
			return ActionInterruptPlayback
		}
	}
	return ActionNone
}

// Utterance drains and returns the assembled audio for the finished (or
// aborted) utterance.
func (c *Controller) Utterance() []byte {
	out := c.buf
	c.buf = nil
	return out
}

// Phase exposes the detector's current phase for UI state.
func (c *Controller) Phase() vad.Phase { return c.detector.Phase() }

// EndReason reports why the last utterance ended.
func (c *Controller) EndReason() vad.EndReason { return c.detector.Reason() }

// ReplyStarted records that a spoken reply began playing.
func (c *Controller) ReplyStarted(time.Time) {
	c.playing = true
}

// ReplyFinished records that the reply finished at now; capture may resume
// at now plus the cooldown.
func (c *Controller) ReplyFinished(now time.Time) {
	c.playing = false
	c.resumeAt = now.Add(c.cfg.Cooldown)
}

// ReplyPlaying reports whether a reply is currently playing.
func (c *Controller) ReplyPlaying() bool { return c.playing }

// ResumeAt returns the earliest instant the caller may restart capture.
// Zero means no reply has finished yet.
func (c *Controller) ResumeAt() time.Time { return c.resumeAt }

// Rearm resets the detector and the utterance buffer for a new capture
// starting at start.
func (c *Controller) Rearm(start time.Time) {
	c.detector.Reset(start)
	c.buf = nil
}
