package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/trestle-dev/trestle/internal/wire"
)

func createVoice(t *testing.T, b *bridgeServer, c *Client, serverID string, cb VoiceCallbacks) *Voice {
	t.Helper()

	type createResult struct {
		voice *Voice
		err   error
	}
	done := make(chan createResult, 1)
	go func() {
		v, err := c.CreateVoice(testContext(t), "proj-a", cb)
		done <- createResult{v, err}
	}()

	b.awaitInbound(wire.TypeVoiceCreate)
	b.send(wire.VoiceCreated{Type: wire.TypeVoiceCreated, VoiceSessionID: serverID})

	res := <-done
	if res.err != nil {
		t.Fatalf("CreateVoice: %v", res.err)
	}
	return res.voice
}

func TestCreateVoiceRekeysSession(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	transcripts := make(chan string, 8)
	type createResult struct {
		voice *Voice
		err   error
	}
	done := make(chan createResult, 1)
	go func() {
		v, err := c.CreateVoice(testContext(t), "proj-a", VoiceCallbacks{
			OnTranscription: func(text string, isFinal bool) { transcripts <- text },
		})
		done <- createResult{v, err}
	}()

	env := b.awaitInbound(wire.TypeVoiceCreate)
	if env.ProjectID != "proj-a" {
		t.Errorf("voice_create projectId = %q", env.ProjectID)
	}

	b.send(wire.VoiceCreated{Type: wire.TypeVoiceCreated, VoiceSessionID: "voice-1"})
	b.send(wire.VoiceTranscription{
		Type:           wire.TypeVoiceTranscription,
		VoiceSessionID: "voice-1",
		Text:           "create a",
	})

	res := <-done
	if res.err != nil {
		t.Fatalf("CreateVoice: %v", res.err)
	}
	if got := res.voice.ID(); got != "voice-1" {
		t.Errorf("ID = %q, want %q", got, "voice-1")
	}

	select {
	case text := <-transcripts:
		if text != "create a" {
			t.Errorf("transcription = %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("transcription frame never reached the callback")
	}
}

func TestVoiceStreamsArriveInOrder(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	events := make(chan string, 16)
	createVoice(t, b, c, "voice-1", VoiceCallbacks{
		OnTranscription: func(text string, isFinal bool) {
			events <- fmt.Sprintf("transcription:%s:%t", text, isFinal)
		},
		OnProgress: func(stage string) { events <- "progress:" + stage },
		OnResponse: func(responseText, audioData string, isComplete bool) {
			events <- fmt.Sprintf("response:%s:%t", responseText, isComplete)
		},
	})

	b.send(wire.VoiceTranscription{Type: wire.TypeVoiceTranscription, VoiceSessionID: "voice-1", Text: "create", IsFinal: false})
	b.send(wire.VoiceTranscription{Type: wire.TypeVoiceTranscription, VoiceSessionID: "voice-1", Text: "create a project", IsFinal: true})
	b.send(wire.VoiceProgress{Type: wire.TypeVoiceProgress, VoiceSessionID: "voice-1", Stage: "thinking"})
	b.send(wire.VoiceResponse{Type: wire.TypeVoiceResponse, VoiceSessionID: "voice-1", ResponseText: "Done.", IsComplete: true})

	want := []string{
		"transcription:create:false",
		"transcription:create a project:true",
		"progress:thinking",
		"response:Done.:true",
	}
	for _, expected := range want {
		select {
		case got := <-events:
			if got != expected {
				t.Errorf("event = %q, want %q", got, expected)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("never received event %q", expected)
		}
	}
}

func TestVoiceSendsOnWire(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	v := createVoice(t, b, c, "voice-1", VoiceCallbacks{})

	if err := v.SendAudio("UklGRgAA"); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	env := b.awaitInbound(wire.TypeVoiceAudio)
	if env.VoiceSessionID != "voice-1" || env.AudioData != "UklGRgAA" {
		t.Errorf("voice_audio = %+v", env)
	}

	if err := v.SendText("make it blue"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	env = b.awaitInbound(wire.TypeVoiceText)
	if env.VoiceSessionID != "voice-1" || env.Text != "make it blue" {
		t.Errorf("voice_text = %+v", env)
	}
}

func TestVoiceScopedErrorKeepsSession(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	voiceErrs := make(chan error, 1)
	v := createVoice(t, b, c, "voice-1", VoiceCallbacks{
		OnError: func(err error) { voiceErrs <- err },
	})

	b.send(wire.VoiceErrorFrame{Type: wire.TypeVoiceError, VoiceSessionID: "voice-1", Error: "empty audio payload"})

	select {
	case err := <-voiceErrs:
		if err == nil || err.Error() != "empty audio payload" {
			t.Errorf("voice error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnError never fired")
	}

	if err := v.SendText("retry"); err != nil {
		t.Errorf("SendText after scoped error = %v", err)
	}
}

func TestVoiceOptimisticClose(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	responses := make(chan string, 8)
	v := createVoice(t, b, c, "voice-1", VoiceCallbacks{
		OnResponse: func(responseText, audioData string, isComplete bool) { responses <- responseText },
	})

	if err := v.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	env := b.awaitInbound(wire.TypeVoiceClose)
	if env.VoiceSessionID != "voice-1" {
		t.Errorf("voice_close id = %q", env.VoiceSessionID)
	}

	b.send(wire.VoiceResponse{Type: wire.TypeVoiceResponse, VoiceSessionID: "voice-1", ResponseText: "late", IsComplete: true})
	select {
	case text := <-responses:
		t.Fatalf("response %q delivered after close", text)
	case <-time.After(150 * time.Millisecond):
	}

	if err := v.SendAudio("x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendAudio after close = %v, want %v", err, ErrSessionClosed)
	}
	if err := v.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func enableVoiceTerminal(t *testing.T, b *bridgeServer, c *Client, terminalID string, cb VoiceTerminalCallbacks) *VoiceTerminal {
	t.Helper()

	type enableResult struct {
		vt  *VoiceTerminal
		err error
	}
	done := make(chan enableResult, 1)
	go func() {
		vt, err := c.EnableVoiceTerminal(testContext(t), terminalID, cb)
		done <- enableResult{vt, err}
	}()

	b.awaitInbound(wire.TypeVoiceTerminalEnable)
	b.send(wire.VoiceTerminalEnabled{Type: wire.TypeVoiceTerminalEnabled, TerminalID: terminalID})

	res := <-done
	if res.err != nil {
		t.Fatalf("EnableVoiceTerminal: %v", res.err)
	}
	return res.vt
}

func TestEnableVoiceTerminalOncePerTerminal(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	enabled := make(chan struct{}, 1)
	vt := enableVoiceTerminal(t, b, c, "term-1", VoiceTerminalCallbacks{
		OnEnabled: func() { enabled <- struct{}{} },
	})
	if got := vt.ID(); got != "term-1" {
		t.Errorf("ID = %q, want %q", got, "term-1")
	}

	// The enabled frame answered the pending call; it is not replayed as an
	// unsolicited event.
	select {
	case <-enabled:
		t.Error("OnEnabled fired for the enable call's own response")
	case <-time.After(150 * time.Millisecond):
	}

	_, err := c.EnableVoiceTerminal(testContext(t), "term-1", VoiceTerminalCallbacks{})
	if err == nil || !strings.Contains(err.Error(), "already enabled") {
		t.Fatalf("second enable err = %v, want already-enabled error", err)
	}
}

func TestVoiceTerminalStreams(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	events := make(chan string, 16)
	vt := enableVoiceTerminal(t, b, c, "term-1", VoiceTerminalCallbacks{
		OnSpeaking: func(responseText, audioData string, isComplete bool) {
			events <- fmt.Sprintf("speaking:%s:%t", responseText, isComplete)
		},
		OnWorking: func(working bool) { events <- fmt.Sprintf("working:%t", working) },
		OnAppControl: func(action string, payload json.RawMessage) {
			events <- "app_control:" + action
		},
		OnBackgroundTask: func(taskID, status, description string) {
			events <- fmt.Sprintf("task:%s:%s", taskID, status)
		},
	})

	if err := vt.SendText("run the tests"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	env := b.awaitInbound(wire.TypeVoiceTerminalText)
	if env.TerminalID != "term-1" || env.Text != "run the tests" {
		t.Errorf("voice_terminal_text = %+v", env)
	}

	b.send(wire.VoiceTerminalWorking{Type: wire.TypeVoiceTerminalWorking, TerminalID: "term-1", Working: true})
	b.send(wire.VoiceTerminalSpeaking{Type: wire.TypeVoiceTerminalSpeaking, TerminalID: "term-1", ResponseText: "Running them now.", IsComplete: true})
	b.send(wire.VoiceTerminalWorking{Type: wire.TypeVoiceTerminalWorking, TerminalID: "term-1", Working: false})
	b.send(wire.VoiceTerminalAppControl{Type: wire.TypeVoiceTerminalAppControl, TerminalID: "term-1", Action: "open_preview"})
	b.send(wire.VoiceTerminalBackgroundTask{Type: wire.TypeVoiceTerminalBackgroundTask, TerminalID: "term-1", TaskID: "task-1", Status: "running", Description: "test suite"})

	want := []string{
		"working:true",
		"speaking:Running them now.:true",
		"working:false",
		"app_control:open_preview",
		"task:task-1:running",
	}
	for _, expected := range want {
		select {
		case got := <-events:
			if got != expected {
				t.Errorf("event = %q, want %q", got, expected)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("never received event %q", expected)
		}
	}
}

func TestVoiceTerminalDisable(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	vt := enableVoiceTerminal(t, b, c, "term-1", VoiceTerminalCallbacks{})

	if err := vt.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	env := b.awaitInbound(wire.TypeVoiceTerminalDisable)
	if env.TerminalID != "term-1" {
		t.Errorf("voice_terminal_disable id = %q", env.TerminalID)
	}

	if err := vt.SendAudio("x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendAudio after disable = %v, want %v", err, ErrSessionClosed)
	}

	// With the registration gone, the same terminal can be overlaid again.
	enableVoiceTerminal(t, b, c, "term-1", VoiceTerminalCallbacks{})
}

func TestVoiceTerminalServerSideDisable(t *testing.T) {
	b := newBridgeServer(t)
	c := newTestClient(t)

	if _, err := c.Connect(testContext(t), b.url()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	disabled := make(chan struct{}, 1)
	vt := enableVoiceTerminal(t, b, c, "term-1", VoiceTerminalCallbacks{
		OnDisabled: func() { disabled <- struct{}{} },
	})

	b.send(wire.VoiceTerminalDisabled{Type: wire.TypeVoiceTerminalDisabled, TerminalID: "term-1"})

	select {
	case <-disabled:
	case <-time.After(3 * time.Second):
		t.Fatal("OnDisabled never fired")
	}

	if err := vt.SendText("x"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendText after server disable = %v, want %v", err, ErrSessionClosed)
	}
}
