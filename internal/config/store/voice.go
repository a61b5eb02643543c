package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trestle-dev/trestle/internal/vad"
)

// defaultCooldown matches the capture controller's stock thinking-time pause.
const defaultCooldown = time.Second

// VoiceSettings are the per-bridge voice capture tuning parameters.
type VoiceSettings struct {
	Detector vad.Config
	Cooldown time.Duration
}

// DefaultVoiceSettings returns the stock tuning used when a bridge has no
// saved settings.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Detector: vad.DefaultConfig(),
		Cooldown: defaultCooldown,
	}
}

// LoadVoiceSettings returns the voice tuning for the named bridge, falling
// back to DefaultVoiceSettings when none were saved.
func (s *Store) LoadVoiceSettings(ctx context.Context, bridgeName string) (VoiceSettings, error) {
	var (
		speechThreshold  float64
		silenceThreshold float64
		minSpeechConfirm int64
		silenceHold      int64
		minRecording     int64
		maxRecording     int64
		cooldown         int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT speech_threshold, silence_threshold, min_speech_confirm_ms,
		       silence_hold_ms, min_recording_ms, max_recording_ms, cooldown_ms
		FROM voice_settings
		WHERE bridge_name = ?
	`, bridgeName).Scan(
		&speechThreshold, &silenceThreshold, &minSpeechConfirm,
		&silenceHold, &minRecording, &maxRecording, &cooldown,
	)
	if err == sql.ErrNoRows {
		return DefaultVoiceSettings(), nil
	}
	if err != nil {
		return VoiceSettings{}, fmt.Errorf("config: load voice settings for %q: %w", bridgeName, err)
	}

	return VoiceSettings{
		Detector: vad.Config{
			SpeechThreshold:  speechThreshold,
			SilenceThreshold: silenceThreshold,
			MinSpeechConfirm: time.Duration(minSpeechConfirm) * time.Millisecond,
			SilenceHold:      time.Duration(silenceHold) * time.Millisecond,
			MinRecording:     time.Duration(minRecording) * time.Millisecond,
			MaxRecording:     time.Duration(maxRecording) * time.Millisecond,
		},
		Cooldown: time.Duration(cooldown) * time.Millisecond,
	}, nil
}

// SaveVoiceSettings validates and upserts the voice tuning for the named
// bridge. The bridge must already exist.
func (s *Store) SaveVoiceSettings(ctx context.Context, bridgeName string, settings VoiceSettings) error {
	if s.readOnly {
		return fmt.Errorf("config: save voice settings: store opened read-only")
	}
	if err := settings.Detector.Validate(); err != nil {
		return fmt.Errorf("config: save voice settings for %q: %w", bridgeName, err)
	}
	if settings.Cooldown < 0 {
		return fmt.Errorf("config: save voice settings for %q: cooldown must not be negative", bridgeName)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM bridges WHERE name = ?
			)
		`, bridgeName).Scan(&exists); err != nil {
			return fmt.Errorf("config: check bridge %q: %w", bridgeName, err)
		}
		if !exists {
			return NotFoundError{Entity: "bridge", Key: bridgeName}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO voice_settings (
				bridge_name, speech_threshold, silence_threshold,
				min_speech_confirm_ms, silence_hold_ms, min_recording_ms,
				max_recording_ms, cooldown_ms, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(bridge_name) DO UPDATE SET
				speech_threshold = excluded.speech_threshold,
				silence_threshold = excluded.silence_threshold,
				min_speech_confirm_ms = excluded.min_speech_confirm_ms,
				silence_hold_ms = excluded.silence_hold_ms,
				min_recording_ms = excluded.min_recording_ms,
				max_recording_ms = excluded.max_recording_ms,
				cooldown_ms = excluded.cooldown_ms,
				updated_at = CURRENT_TIMESTAMP
		`,
			bridgeName,
			settings.Detector.SpeechThreshold,
			settings.Detector.SilenceThreshold,
			settings.Detector.MinSpeechConfirm.Milliseconds(),
			settings.Detector.SilenceHold.Milliseconds(),
			settings.Detector.MinRecording.Milliseconds(),
			settings.Detector.MaxRecording.Milliseconds(),
			settings.Cooldown.Milliseconds(),
		); err != nil {
			return fmt.Errorf("config: save voice settings for %q: %w", bridgeName, err)
		}

		return nil
	})
}
