package sim

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trestle-dev/trestle/internal/wire"
)

func startSim(t *testing.T, scenario Scenario, opts ...Option) *httptest.Server {
	t.Helper()

	sim, err := New(scenario, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(sim)
	t.Cleanup(func() {
		ts.Close()
		sim.Close()
	})
	return ts
}

func dialSim(t *testing.T, ts *httptest.Server) (*websocket.Conn, chan *wire.Envelope) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { ws.Close() })

	frames := make(chan *wire.Envelope, 64)
	go func() {
		defer close(frames)
		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Decode(payload)
			if err != nil {
				continue
			}
			frames <- env
		}
	}()

	return ws, frames
}

// awaitFrame reads until a frame of the wanted type arrives, skipping
// unrelated broadcasts along the way.
func awaitFrame(t *testing.T, frames chan *wire.Envelope, frameType string) *wire.Envelope {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", frameType)
			}
			if env.Type == frameType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", frameType)
		}
	}
}

func sendFrame(t *testing.T, ws *websocket.Conn, frame any) {
	t.Helper()
	if err := ws.WriteJSON(frame); err != nil {
		t.Fatalf("write %T: %v", frame, err)
	}
}

func TestConnectedSnapshotOnOpen(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	_, frames := dialSim(t, ts)

	env := awaitFrame(t, frames, wire.TypeConnected)
	if len(env.Projects) != 1 {
		t.Fatalf("expected 1 seeded project, got %d", len(env.Projects))
	}
	if env.Projects[0].ID != "proj-playground" {
		t.Errorf("unexpected project id %q", env.Projects[0].ID)
	}
	if env.Projects[0].Name != "playground" {
		t.Errorf("unexpected project name %q", env.Projects[0].Name)
	}
}

func TestPingPong(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)

	awaitFrame(t, frames, wire.TypeConnected)
	sendFrame(t, ws, wire.Ping{Type: wire.TypePing})
	awaitFrame(t, frames, wire.TypePong)
}

func TestUnknownFrameType(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)

	awaitFrame(t, frames, wire.TypeConnected)
	sendFrame(t, ws, map[string]string{"type": "bogus"})

	env := awaitFrame(t, frames, wire.TypeError)
	if !strings.Contains(env.Error, "bogus") {
		t.Errorf("error should name the offending type, got %q", env.Error)
	}
}

func TestProjectLifecycle(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.CreateProject{Type: wire.TypeCreateProject, ProjectName: "Demo App"})

	created := awaitFrame(t, frames, wire.TypeProjectCreated)
	if created.Project == nil {
		t.Fatal("project_created carries no project")
	}
	if created.Project.Name != "Demo App" {
		t.Errorf("project name = %q, want Demo App", created.Project.Name)
	}
	if !strings.HasPrefix(created.Project.ID, "proj-") {
		t.Errorf("project id %q missing proj- prefix", created.Project.ID)
	}

	updated := awaitFrame(t, frames, wire.TypeProjectsUpdated)
	if len(updated.Projects) != 2 {
		t.Fatalf("expected 2 projects after create, got %d", len(updated.Projects))
	}

	sendFrame(t, ws, wire.DeleteProject{Type: wire.TypeDeleteProject, ProjectID: created.Project.ID})

	deleted := awaitFrame(t, frames, wire.TypeProjectDeleted)
	if deleted.ProjectID != created.Project.ID {
		t.Errorf("deleted id = %q, want %q", deleted.ProjectID, created.Project.ID)
	}
	updated = awaitFrame(t, frames, wire.TypeProjectsUpdated)
	if len(updated.Projects) != 1 {
		t.Fatalf("expected 1 project after delete, got %d", len(updated.Projects))
	}
}

func TestProjectMutationsBroadcastToAllClients(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws1, frames1 := dialSim(t, ts)
	_, frames2 := dialSim(t, ts)

	awaitFrame(t, frames1, wire.TypeConnected)
	awaitFrame(t, frames2, wire.TypeConnected)

	sendFrame(t, ws1, wire.CreateProject{Type: wire.TypeCreateProject, ProjectName: "Shared"})

	// The bystander sees only the broadcast, not the call response.
	updated := awaitFrame(t, frames2, wire.TypeProjectsUpdated)
	if len(updated.Projects) != 2 {
		t.Fatalf("bystander expected 2 projects, got %d", len(updated.Projects))
	}
}

func TestCreateProjectValidation(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.CreateProject{Type: wire.TypeCreateProject, ProjectName: "   "})

	env := awaitFrame(t, frames, wire.TypeError)
	if !strings.Contains(env.Error, "create_project") {
		t.Errorf("error should name the failing call, got %q", env.Error)
	}
}

func TestFileRoundTrip(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.WriteFile{
		Type:      wire.TypeWriteFile,
		ProjectID: "proj-playground",
		FilePath:  "src/index.ts",
		Content:   "console.log(1)\n",
	})
	written := awaitFrame(t, frames, wire.TypeFileWritten)
	if written.FilePath != "src/index.ts" {
		t.Errorf("file_written path = %q", written.FilePath)
	}

	sendFrame(t, ws, wire.GetFileContent{
		Type:      wire.TypeGetFileContent,
		ProjectID: "proj-playground",
		FilePath:  "src/index.ts",
	})
	content := awaitFrame(t, frames, wire.TypeFileContent)
	if content.Content != "console.log(1)\n" {
		t.Errorf("file content = %q", content.Content)
	}

	sendFrame(t, ws, wire.GetFileContent{
		Type:      wire.TypeGetFileContent,
		ProjectID: "proj-playground",
		FilePath:  "missing.txt",
	})
	env := awaitFrame(t, frames, wire.TypeError)
	if !strings.Contains(env.Error, "missing.txt") {
		t.Errorf("error should name the file, got %q", env.Error)
	}
}

func TestScriptedTerminalEcho(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.TerminalCreate{
		Type:      wire.TypeTerminalCreate,
		ProjectID: "proj-playground",
		Cols:      80,
		Rows:      24,
	})

	created := awaitFrame(t, frames, wire.TypeTerminalCreated)
	if created.TerminalID == "" {
		t.Fatal("terminal_created carries no id")
	}

	banner := awaitFrame(t, frames, wire.TypeTerminalOutput)
	if banner.TerminalID != created.TerminalID {
		t.Errorf("banner terminal id = %q, want %q", banner.TerminalID, created.TerminalID)
	}
	if !strings.Contains(banner.Content, scriptedPrompt) {
		t.Errorf("banner %q missing prompt", banner.Content)
	}

	sendFrame(t, ws, wire.TerminalInput{
		Type:       wire.TypeTerminalInput,
		TerminalID: created.TerminalID,
		Data:       "ls\r",
	})
	echo := awaitFrame(t, frames, wire.TypeTerminalOutput)
	if echo.Content != "ls\r\n"+scriptedPrompt {
		t.Errorf("echo = %q", echo.Content)
	}

	// Input for an unknown terminal is dropped without killing the link.
	sendFrame(t, ws, wire.TerminalInput{
		Type:       wire.TypeTerminalInput,
		TerminalID: "term-gone",
		Data:       "x",
	})
	sendFrame(t, ws, wire.Ping{Type: wire.TypePing})
	awaitFrame(t, frames, wire.TypePong)
}

func TestTerminalCreateUnknownProject(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.TerminalCreate{
		Type:      wire.TypeTerminalCreate,
		ProjectID: "proj-nope",
	})

	env := awaitFrame(t, frames, wire.TypeError)
	if !strings.Contains(env.Error, "proj-nope") {
		t.Errorf("error should name the project, got %q", env.Error)
	}
}

func TestVoiceSessionReplay(t *testing.T) {
	scenario := DefaultScenario()
	scenario.Voice = VoiceScript{
		Exchanges: []VoiceExchange{
			{
				Hear:   "create a new project",
				Stages: []string{"transcribing", "thinking"},
				Reply:  "Sure, creating it now.",
			},
		},
	}

	ts := startSim(t, scenario)
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.VoiceCreate{Type: wire.TypeVoiceCreate, ProjectID: "proj-playground"})
	created := awaitFrame(t, frames, wire.TypeVoiceCreated)
	if created.VoiceSessionID == "" {
		t.Fatal("voice_created carries no id")
	}
	sessionID := created.VoiceSessionID

	sendFrame(t, ws, wire.VoiceAudio{
		Type:           wire.TypeVoiceAudio,
		VoiceSessionID: sessionID,
		AudioData:      "UklGRg==",
	})

	partial := awaitFrame(t, frames, wire.TypeVoiceTranscription)
	if partial.IsFinal {
		t.Error("first transcription should be partial")
	}
	final := awaitFrame(t, frames, wire.TypeVoiceTranscription)
	if !final.IsFinal || final.Text != "create a new project" {
		t.Errorf("final transcription = %q (final=%v)", final.Text, final.IsFinal)
	}

	stage := awaitFrame(t, frames, wire.TypeVoiceProgress)
	if stage.Stage != "transcribing" {
		t.Errorf("first stage = %q", stage.Stage)
	}
	stage = awaitFrame(t, frames, wire.TypeVoiceProgress)
	if stage.Stage != "thinking" {
		t.Errorf("second stage = %q", stage.Stage)
	}

	response := awaitFrame(t, frames, wire.TypeVoiceResponse)
	if response.ResponseText != "Sure, creating it now." {
		t.Errorf("response = %q", response.ResponseText)
	}
	if !response.IsComplete {
		t.Error("response should be complete")
	}

	// The scripted list is exhausted; the next turn falls back.
	sendFrame(t, ws, wire.VoiceAudio{
		Type:           wire.TypeVoiceAudio,
		VoiceSessionID: sessionID,
		AudioData:      "UklGRg==",
	})
	response = awaitFrame(t, frames, wire.TypeVoiceResponse)
	if response.ResponseText != "Acknowledged." {
		t.Errorf("fallback response = %q", response.ResponseText)
	}

	sendFrame(t, ws, wire.VoiceAudio{
		Type:           wire.TypeVoiceAudio,
		VoiceSessionID: sessionID,
		AudioData:      "",
	})
	verr := awaitFrame(t, frames, wire.TypeVoiceError)
	if verr.VoiceSessionID != sessionID {
		t.Errorf("voice_error session = %q, want %q", verr.VoiceSessionID, sessionID)
	}
}

func TestVoiceTypedTurnSkipsTranscription(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.VoiceCreate{Type: wire.TypeVoiceCreate, ProjectID: "proj-playground"})
	created := awaitFrame(t, frames, wire.TypeVoiceCreated)

	sendFrame(t, ws, wire.VoiceText{
		Type:           wire.TypeVoiceText,
		VoiceSessionID: created.VoiceSessionID,
		Text:           "list my projects",
	})

	env := awaitFrame(t, frames, wire.TypeVoiceResponse)
	if env.ResponseText == "" {
		t.Error("typed turn produced no response")
	}

	// No transcription frame may precede the response for a typed turn.
	select {
	case extra := <-frames:
		if extra != nil && extra.Type == wire.TypeVoiceTranscription {
			t.Error("typed turn produced a transcription frame")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestVoiceTerminalOverlay(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.TerminalCreate{Type: wire.TypeTerminalCreate, ProjectID: "proj-playground"})
	created := awaitFrame(t, frames, wire.TypeTerminalCreated)
	terminalID := created.TerminalID

	sendFrame(t, ws, wire.VoiceTerminalEnable{Type: wire.TypeVoiceTerminalEnable, TerminalID: terminalID})
	awaitFrame(t, frames, wire.TypeVoiceTerminalEnabled)

	// Enabling twice is refused.
	sendFrame(t, ws, wire.VoiceTerminalEnable{Type: wire.TypeVoiceTerminalEnable, TerminalID: terminalID})
	env := awaitFrame(t, frames, wire.TypeError)
	if !strings.Contains(env.Error, "already") {
		t.Errorf("duplicate enable error = %q", env.Error)
	}

	sendFrame(t, ws, wire.VoiceTerminalText{
		Type:       wire.TypeVoiceTerminalText,
		TerminalID: terminalID,
		Text:       "run the tests",
	})

	working := awaitFrame(t, frames, wire.TypeVoiceTerminalWorking)
	if !working.Working {
		t.Error("overlay should report working before speaking")
	}
	speaking := awaitFrame(t, frames, wire.TypeVoiceTerminalSpeaking)
	if speaking.ResponseText == "" {
		t.Error("speaking frame carries no response")
	}
	working = awaitFrame(t, frames, wire.TypeVoiceTerminalWorking)
	if working.Working {
		t.Error("overlay should report idle after speaking")
	}

	sendFrame(t, ws, wire.VoiceTerminalDisable{Type: wire.TypeVoiceTerminalDisable, TerminalID: terminalID})
	disabled := awaitFrame(t, frames, wire.TypeVoiceTerminalDisabled)
	if disabled.TerminalID != terminalID {
		t.Errorf("disabled terminal = %q, want %q", disabled.TerminalID, terminalID)
	}
}

func TestPreviewLifecycle(t *testing.T) {
	scenario := DefaultScenario()
	scenario.Preview = PreviewScript{
		URL: "http://localhost:4321",
		Errors: []ScriptedPrevError{
			{AfterMs: 10, Message: "ReferenceError: x is not defined", ErrorType: "runtime"},
		},
	}

	ts := startSim(t, scenario)
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.PreviewStart{Type: wire.TypePreviewStart, ProjectID: "proj-playground"})
	started := awaitFrame(t, frames, wire.TypePreviewStarted)
	if started.URL != "http://localhost:4321" {
		t.Errorf("preview url = %q", started.URL)
	}

	errEvent := awaitFrame(t, frames, wire.TypePreviewError)
	if errEvent.PreviewError != "ReferenceError: x is not defined" {
		t.Errorf("preview error = %q", errEvent.PreviewError)
	}
	if errEvent.PreviewErrorType != "runtime" {
		t.Errorf("preview error type = %q", errEvent.PreviewErrorType)
	}

	sendFrame(t, ws, wire.PreviewStatusRequest{Type: wire.TypePreviewStatus, ProjectID: "proj-playground"})
	status := awaitFrame(t, frames, wire.TypePreviewStatus)
	if !status.Running {
		t.Error("status should report running")
	}
	if status.URL != "http://localhost:4321" {
		t.Errorf("status url = %q", status.URL)
	}

	sendFrame(t, ws, wire.PreviewStop{Type: wire.TypePreviewStop, ProjectID: "proj-playground"})
	awaitFrame(t, frames, wire.TypePreviewStopped)

	sendFrame(t, ws, wire.PreviewStatusRequest{Type: wire.TypePreviewStatus, ProjectID: "proj-playground"})
	status = awaitFrame(t, frames, wire.TypePreviewStatus)
	if status.Running {
		t.Error("status should report stopped")
	}
}

func TestPreviewStopWithoutStart(t *testing.T) {
	ts := startSim(t, DefaultScenario())
	ws, frames := dialSim(t, ts)
	awaitFrame(t, frames, wire.TypeConnected)

	sendFrame(t, ws, wire.PreviewStop{Type: wire.TypePreviewStop, ProjectID: "proj-playground"})
	awaitFrame(t, frames, wire.TypePreviewStopped)
}

func TestConnCount(t *testing.T) {
	sim, err := New(DefaultScenario())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(sim)
	defer ts.Close()
	defer sim.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	ws1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws1.Close()
	ws2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws2.Close()

	waitForConnCount(t, sim, 2)
	ws2.Close()
	waitForConnCount(t, sim, 1)
}

func waitForConnCount(t *testing.T, sim *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sim.ConnCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conn count never reached %d (now %d)", want, sim.ConnCount())
}
