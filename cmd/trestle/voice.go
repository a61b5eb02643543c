package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trestle-dev/trestle/internal/audioio"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/config/store"
	"github.com/trestle-dev/trestle/internal/voice"
)

const (
	maxAudioFileSize = 500 * 1024 * 1024 // 500 MB guardrail for local files

	// levelWindow is the metering granularity fed to the capture controller.
	levelWindow = 100 * time.Millisecond

	// voiceReplyTimeout bounds the wait for the agent's reply after the last
	// utterance went out.
	voiceReplyTimeout = 60 * time.Second
)

func newVoiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voice",
		Short:         "Voice sessions and capture tuning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	chat := &cobra.Command{
		Use:           "chat <project-id>",
		Short:         "Run a voice turn against a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          voiceChat,
	}
	chat.Flags().String("input", "", "WAV source for the spoken turn ('-' reads WAV from stdin)")
	chat.Flags().String("text", "", "Send a typed turn instead of audio")
	chat.Flags().String("output", "", "Write reply audio to a WAV file (PCM assumed 16kHz mono)")

	settings := &cobra.Command{
		Use:           "settings",
		Short:         "Show or update voice capture settings for a bridge profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          voiceSettings,
	}
	settings.Flags().StringArray("set", nil, "Update a setting (key=value, repeatable)")

	cmd.AddCommand(chat, settings)
	return cmd
}

// chatEvents serializes the frame stream of one voice turn into CLI output:
// plain lines for humans, newline-delimited JSON for tooling.
type chatEvents struct {
	jsonMode bool
	enc      *json.Encoder
}

func newChatEvents(out *OutputFormatter) *chatEvents {
	return &chatEvents{jsonMode: out.jsonMode, enc: json.NewEncoder(os.Stdout)}
}

func (e *chatEvents) transcription(text string, isFinal bool) {
	if e.jsonMode {
		_ = e.enc.Encode(map[string]interface{}{"event": "transcription", "text": text, "final": isFinal})
		return
	}
	if isFinal {
		fmt.Printf("You: %s\n", text)
	}
}

func (e *chatEvents) progress(stage string) {
	if e.jsonMode {
		_ = e.enc.Encode(map[string]interface{}{"event": "progress", "stage": stage})
		return
	}
	fmt.Printf("[%s]\n", stage)
}

func (e *chatEvents) response(text string, isComplete bool) {
	if e.jsonMode {
		_ = e.enc.Encode(map[string]interface{}{"event": "response", "text": text, "complete": isComplete})
		return
	}
	if isComplete {
		fmt.Printf("Bridge: %s\n", text)
	}
}

func voiceChat(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	out := newOutputFormatter(cmd)

	inputPath, _ := cmd.Flags().GetString("input")
	textTurn, _ := cmd.Flags().GetString("text")
	outputPath, _ := cmd.Flags().GetString("output")

	if textTurn == "" && inputPath == "" {
		return out.Error("Either --input or --text is required", nil)
	}

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}

	storeCtx := context.Background()
	profile, err := resolveProfile(storeCtx, cmd, st)
	if err != nil {
		st.Close()
		return out.Error("Failed to resolve bridge profile", err)
	}
	settings, err := st.LoadVoiceSettings(storeCtx, profile.Name)
	st.Close()
	if err != nil {
		return out.Error("Failed to load voice settings", err)
	}

	addr, err := dialAddress(profile)
	if err != nil {
		return out.Error("Invalid bridge address", err)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), connectTimeout)
	defer connectCancel()

	c := newBridgeClient()
	defer c.Shutdown()
	if _, err := c.Connect(connectCtx, addr); err != nil {
		return out.Error(fmt.Sprintf("Failed to connect to bridge %s", profile.Name), err)
	}

	events := newChatEvents(out)

	var replyWriter *replyRecorder
	if outputPath != "" {
		replyWriter, err = newReplyRecorder(outputPath)
		if err != nil {
			return out.Error("Failed to open reply output", err)
		}
		defer replyWriter.close()
	}

	// done receives once per completed reply; errChan carries session errors.
	done := make(chan struct{}, 8)
	errChan := make(chan error, 2)

	v, err := c.CreateVoice(connectCtx, projectID, bridge.VoiceCallbacks{
		OnTranscription: func(text string, isFinal bool) {
			events.transcription(text, isFinal)
		},
		OnProgress: func(stage string) {
			events.progress(stage)
		},
		OnResponse: func(responseText, audioData string, isComplete bool) {
			events.response(responseText, isComplete)
			if replyWriter != nil && audioData != "" {
				replyWriter.append(audioData)
			}
			if isComplete {
				done <- struct{}{}
			}
		},
		OnError: func(err error) {
			errChan <- err
		},
	})
	if err != nil {
		return out.Error("Failed to create voice session", err)
	}
	defer v.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var turns int
	if textTurn != "" {
		if err := v.SendText(textTurn); err != nil {
			return out.Error("Failed to send text turn", err)
		}
		turns = 1
	} else {
		turns, err = streamUtterances(v, inputPath, settings)
		if err != nil {
			return out.Error("Failed to stream audio", err)
		}
		if turns == 0 {
			return out.Error("No utterance detected in the audio (too short or too quiet)", nil)
		}
	}

	// Wait for one completed reply per turn sent.
	timeout := time.After(voiceReplyTimeout)
	for remaining := turns; remaining > 0; {
		select {
		case <-done:
			remaining--
		case err := <-errChan:
			return out.Error("Voice session failed", err)
		case <-sigs:
			out.PrintText(func() { fmt.Fprintln(os.Stderr, "\nInterrupted") })
			return nil
		case <-timeout:
			return out.Error("Timed out waiting for the reply", nil)
		}
	}

	if replyWriter != nil {
		if err := replyWriter.close(); err != nil {
			return out.Error("Failed to finalise reply audio", err)
		}
		out.PrintText(func() {
			fmt.Printf("Saved reply audio to %s (%s)\n", outputPath, replyWriter.duration())
		})
	}
	return nil
}

// streamUtterances replays a WAV source through the level meter and capture
// controller, sending every detected utterance, and returns how many went
// out. The clock is synthetic: one levelWindow per metered window, so a file
// replays deterministically regardless of disk speed.
func streamUtterances(v *bridge.Voice, inputPath string, settings store.VoiceSettings) (int, error) {
	reader, err := openAudioInput(inputPath)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	format := reader.Format()
	meter, err := audioio.NewLevelMeter(format, levelWindow)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	ctrl, err := voice.NewController(voice.Config{
		VAD:      settings.Detector,
		Cooldown: settings.Cooldown,
	}, start)
	if err != nil {
		return 0, err
	}

	windowBytes := int(time.Duration(format.BytesPerSecond()) * levelWindow / time.Second)
	if windowBytes < 2 {
		return 0, fmt.Errorf("audio format too coarse for %s windows", levelWindow)
	}

	var sent int
	now := start
	chunk := make([]byte, windowBytes)
	for {
		n, readErr := io.ReadFull(reader, chunk)
		atEOF := errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF)
		if readErr != nil && !atEOF {
			return sent, readErr
		}

		if n > 0 {
			level, ok := nextLevel(meter, chunk[:n], atEOF)
			if ok {
				now = now.Add(levelWindow)
				if ctrl.Feed(chunk[:n], level, now) == voice.ActionSendUtterance {
					encoded := base64.StdEncoding.EncodeToString(ctrl.Utterance())
					if err := v.SendAudio(encoded); err != nil {
						return sent, err
					}
					sent++
					ctrl.Rearm(now)
				}
			}
		}

		if atEOF {
			return sent, nil
		}
	}
}

// nextLevel extracts the dBFS level for one chunk-sized window, flushing the
// partial trailing window at EOF.
func nextLevel(meter *audioio.LevelMeter, chunk []byte, atEOF bool) (float64, bool) {
	if levels := meter.Feed(chunk); len(levels) > 0 {
		return levels[len(levels)-1], true
	}
	if atEOF {
		return meter.Flush()
	}
	return 0, false
}

// openAudioInput opens a WAV source: a file path or '-' for stdin.
func openAudioInput(path string) (*audioio.Reader, error) {
	if path == "-" {
		return audioio.NewReader(os.Stdin)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if stat.Size() > maxAudioFileSize {
		_ = file.Close()
		return nil, fmt.Errorf("audio file too large: %d bytes (max %d)", stat.Size(), maxAudioFileSize)
	}

	reader, err := audioio.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return reader, nil
}

// replyRecorder accumulates base64 reply audio chunks into a WAV file.
type replyRecorder struct {
	file   *os.File
	writer *audioio.Writer
	closed bool
}

func newReplyRecorder(path string) (*replyRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	writer, err := audioio.NewWriter(file, audioio.DefaultFormat())
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &replyRecorder{file: file, writer: writer}, nil
}

func (r *replyRecorder) append(audioData string) {
	decoded, err := base64.StdEncoding.DecodeString(audioData)
	if err != nil || len(decoded) == 0 {
		return
	}
	_, _ = r.writer.Write(decoded)
}

func (r *replyRecorder) duration() time.Duration {
	return r.writer.Duration()
}

func (r *replyRecorder) close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}

func voiceSettings(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	ctx := context.Background()
	profile, err := resolveProfile(ctx, cmd, st)
	if err != nil {
		return out.Error("Failed to resolve bridge profile", err)
	}

	settings, err := st.LoadVoiceSettings(ctx, profile.Name)
	if err != nil {
		return out.Error("Failed to load voice settings", err)
	}

	updates, _ := cmd.Flags().GetStringArray("set")
	if len(updates) > 0 {
		for _, entry := range updates {
			if err := applyVoiceSetting(&settings, entry); err != nil {
				return out.Error("Invalid setting", err)
			}
		}
		if err := st.SaveVoiceSettings(ctx, profile.Name, settings); err != nil {
			return out.Error("Failed to save voice settings", err)
		}
	}

	data := map[string]interface{}{
		"bridge":                profile.Name,
		"speech_threshold":      settings.Detector.SpeechThreshold,
		"silence_threshold":     settings.Detector.SilenceThreshold,
		"min_speech_confirm_ms": settings.Detector.MinSpeechConfirm.Milliseconds(),
		"silence_hold_ms":       settings.Detector.SilenceHold.Milliseconds(),
		"min_recording_ms":      settings.Detector.MinRecording.Milliseconds(),
		"max_recording_ms":      settings.Detector.MaxRecording.Milliseconds(),
		"cooldown_ms":           settings.Cooldown.Milliseconds(),
	}

	return out.Render(CommandResult{
		Data: data,
		HumanReadable: func() error {
			fmt.Printf("Voice settings for bridge %s:\n", profile.Name)
			fmt.Printf("  speech-threshold:      %.1f dBFS\n", settings.Detector.SpeechThreshold)
			fmt.Printf("  silence-threshold:     %.1f dBFS\n", settings.Detector.SilenceThreshold)
			fmt.Printf("  min-speech-confirm-ms: %d\n", settings.Detector.MinSpeechConfirm.Milliseconds())
			fmt.Printf("  silence-hold-ms:       %d\n", settings.Detector.SilenceHold.Milliseconds())
			fmt.Printf("  min-recording-ms:      %d\n", settings.Detector.MinRecording.Milliseconds())
			fmt.Printf("  max-recording-ms:      %d\n", settings.Detector.MaxRecording.Milliseconds())
			fmt.Printf("  cooldown-ms:           %d\n", settings.Cooldown.Milliseconds())
			return nil
		},
	})
}

// applyVoiceSetting updates one field from a key=value pair. Keys match the
// names shown by 'voice settings'.
func applyVoiceSetting(settings *store.VoiceSettings, entry string) error {
	parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid key=value pair: %s", entry)
	}
	key := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])

	switch key {
	case "speech-threshold", "silence-threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if key == "speech-threshold" {
			settings.Detector.SpeechThreshold = f
		} else {
			settings.Detector.SilenceThreshold = f
		}
		return nil

	case "min-speech-confirm-ms", "silence-hold-ms", "min-recording-ms", "max-recording-ms", "cooldown-ms":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		d := time.Duration(ms) * time.Millisecond
		switch key {
		case "min-speech-confirm-ms":
			settings.Detector.MinSpeechConfirm = d
		case "silence-hold-ms":
			settings.Detector.SilenceHold = d
		case "min-recording-ms":
			settings.Detector.MinRecording = d
		case "max-recording-ms":
			settings.Detector.MaxRecording = d
		case "cooldown-ms":
			settings.Cooldown = d
		}
		return nil

	default:
		return fmt.Errorf("unknown setting %q (valid: speech-threshold, silence-threshold, min-speech-confirm-ms, silence-hold-ms, min-recording-ms, max-recording-ms, cooldown-ms)", key)
	}
}
