// Package vad segments a periodically-sampled audio level signal into
// utterance boundaries. The detector is a deterministic reducer over
// (level, timestamp) pairs: it owns no timers, never touches capture or
// playback resources, and only reports decisions to the caller.
package vad

import (
	"fmt"
	"time"
)

// Phase is the detector's position in the utterance lifecycle.
type Phase string

const (
	// PhaseArmed means no speech candidate is open yet.
	PhaseArmed Phase = "armed"
	// PhaseSpeechPending means a candidate is being held against MinSpeechConfirm.
	PhaseSpeechPending Phase = "speech_pending"
	// PhaseSpeechConfirmed means sustained speech was detected; the detector
	// is now watching for the closing silence run.
	PhaseSpeechConfirmed Phase = "speech_confirmed"
)

// Decision is the detector's verdict for one sample.
type Decision int

const (
	// DecisionNone means no boundary was crossed.
	DecisionNone Decision = iota
	// DecisionSpeechStart means a speech candidate opened on this sample.
	DecisionSpeechStart
	// DecisionSpeechConfirm means the candidate survived MinSpeechConfirm.
	DecisionSpeechConfirm
	// DecisionUtteranceEnd means the utterance is over; Reason explains why.
	DecisionUtteranceEnd
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionSpeechStart:
		return "speech_start"
	case DecisionSpeechConfirm:
		return "speech_confirm"
	case DecisionUtteranceEnd:
		return "utterance_end"
	}
	return "unknown"
}

// EndReason explains an utterance-end decision.
type EndReason string

const (
	// EndSilence means the closing silence run held for SilenceHold.
	EndSilence EndReason = "silence"
	// EndMaxDuration means the recording hit its hard ceiling.
	EndMaxDuration EndReason = "max_duration"
)

// Config tunes one detector instance. Levels are dBFS; the gap between
// SilenceThreshold and SpeechThreshold is a deliberate dead zone where the
// detector holds its prior state instead of flipping.
type Config struct {
	SpeechThreshold  float64
	SilenceThreshold float64
	// MinSpeechConfirm is how long a candidate must stay above
	// SpeechThreshold before speech counts as confirmed.
	MinSpeechConfirm time.Duration
	// SilenceHold is how long the level must stay below SilenceThreshold,
	// counted only after speech was confirmed, before the utterance ends.
	SilenceHold time.Duration
	// MinRecording suppresses end decisions before this much total
	// recording time, protecting slow starters.
	MinRecording time.Duration
	// MaxRecording force-ends the utterance regardless of state, protecting
	// against a stuck-open microphone.
	MaxRecording time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  -25,
		SilenceThreshold: -35,
		MinSpeechConfirm: 300 * time.Millisecond,
		SilenceHold:      2500 * time.Millisecond,
		MinRecording:     2000 * time.Millisecond,
		MaxRecording:     60000 * time.Millisecond,
	}
}

// Validate reports whether the configuration is internally consistent.
func (c Config) Validate() error {
	if c.SilenceThreshold >= c.SpeechThreshold {
		return fmt.Errorf("vad: silence threshold %.1f must be below speech threshold %.1f",
			c.SilenceThreshold, c.SpeechThreshold)
	}
	if c.MinSpeechConfirm < 0 || c.SilenceHold < 0 || c.MinRecording < 0 || c.MaxRecording < 0 {
		return fmt.Errorf("vad: durations must not be negative")
	}
	if c.MaxRecording > 0 && c.MaxRecording <= c.MinRecording {
		return fmt.Errorf("vad: max recording %s must exceed min recording %s",
			c.MaxRecording, c.MinRecording)
	}
	return nil
}

// Detector is the per-capture state machine. Not safe for concurrent use;
// callers feed it from a single goroutine, matching the one-sample-stream-
// per-capture model.
type Detector struct {
	cfg Config

	phase          Phase
	recordingStart time.Time
	speechStart    time.Time // zero when no candidate is open
	silenceStart   time.Time // zero when no silence run is open
	lastLevel      float64
	done           bool
	reason         EndReason
}

// NewDetector starts a detector for a capture that began at start.
func NewDetector(cfg Config, start time.Time) *Detector {
	d := &Detector{cfg: cfg}
	d.Reset(start)
	return d
}

// Reset re-arms the detector for a new capture beginning at start.
func (d *Detector) Reset(start time.Time) {
	d.phase = PhaseArmed
	d.recordingStart = start
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
	d.lastLevel = 0
	d.done = false
	d.reason = ""
}

// Phase returns the current lifecycle phase.
func (d *Detector) Phase() Phase { return d.phase }

// Done reports whether an utterance-end decision was already emitted.
func (d *Detector) Done() bool { return d.done }

// Reason returns why the last utterance ended. Valid only after Feed
// returned DecisionUtteranceEnd.
func (d *Detector) Reason() EndReason { return d.reason }

// LastLevel returns the most recently fed level sample.
func (d *Detector) LastLevel() float64 { return d.lastLevel }

// Feed consumes one level sample taken at now and returns the resulting
// decision. After an utterance-end decision the detector stays latched
// until Reset.
func (d *Detector) Feed(level float64, now time.Time) Decision {
	if d.done {
		return DecisionNone
	}
	d.lastLevel = level

	if d.cfg.MaxRecording > 0 && now.Sub(d.recordingStart) >= d.cfg.MaxRecording {
		d.done = true
		d.reason = EndMaxDuration
		return DecisionUtteranceEnd
	}

	switch {
	case level >= d.cfg.SpeechThreshold:
		return d.feedSpeech(now)
	case level < d.cfg.SilenceThreshold:
		return d.feedSilence(now)
	default:
		// Dead zone: ambiguous signal is evidence of neither state, so every
		// timer holds exactly where it was.
		return DecisionNone
	}
}

func (d *Detector) feedSpeech(now time.Time) Decision {
	switch d.phase {
	case PhaseArmed:
		d.phase = PhaseSpeechPending
		d.speechStart = now
		if now.Sub(d.speechStart) >= d.cfg.MinSpeechConfirm {
			d.phase = PhaseSpeechConfirmed
			return DecisionSpeechConfirm
		}
		return DecisionSpeechStart

	case PhaseSpeechPending:
		if now.Sub(d.speechStart) >= d.cfg.MinSpeechConfirm {
			d.phase = PhaseSpeechConfirmed
			return DecisionSpeechConfirm
		}
		return DecisionNone

	case PhaseSpeechConfirmed:
		// Still speaking: any open silence run was a lull, not an ending.
		d.silenceStart = time.Time{}
		return DecisionNone
	}
	return DecisionNone
}

func (d *Detector) feedSilence(now time.Time) Decision {
	switch d.phase {
	case PhaseArmed:
		return DecisionNone

	case PhaseSpeechPending:
		// The candidate did not hold; it was a blip.
		d.phase = PhaseArmed
		d.speechStart = time.Time{}
		return DecisionNone

	case PhaseSpeechConfirmed:
		if d.silenceStart.IsZero() {
			d.silenceStart = now
		}
		if now.Sub(d.silenceStart) >= d.cfg.SilenceHold &&
			now.Sub(d.recordingStart) > d.cfg.MinRecording {
			d.done = true
			d.reason = EndSilence
			return DecisionUtteranceEnd
		}
		return DecisionNone
	}
	return DecisionNone
}
