package wire

import "testing"

func TestDecodeTerminalOutput(t *testing.T) {
	raw := []byte(`{"type":"terminal_output","terminalId":"term-1","content":"$ ls\n"}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != TypeTerminalOutput {
		t.Fatalf("expected type %q, got %q", TypeTerminalOutput, env.Type)
	}
	if env.SessionID() != "term-1" {
		t.Fatalf("expected session id term-1, got %q", env.SessionID())
	}
	if env.Content != "$ ls\n" {
		t.Fatalf("unexpected content %q", env.Content)
	}
}

func TestDecodeUnknownTagPreserved(t *testing.T) {
	env, err := Decode([]byte(`{"type":"server_only_frame","projectId":"p1"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Type != "server_only_frame" {
		t.Fatalf("unknown tag not preserved: %q", env.Type)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestSessionIDPrefersTerminal(t *testing.T) {
	env := &Envelope{TerminalID: "t", VoiceSessionID: "v"}
	if got := env.SessionID(); got != "t" {
		t.Fatalf("expected terminal id, got %q", got)
	}

	env = &Envelope{VoiceSessionID: "v"}
	if got := env.SessionID(); got != "v" {
		t.Fatalf("expected voice session id, got %q", got)
	}
}

func TestResponseTagTable(t *testing.T) {
	cases := []struct {
		call string
		want string
	}{
		{TypeCreateProject, TypeProjectCreated},
		{TypeListProjects, TypeProjectList},
		{TypeDeleteProject, TypeProjectDeleted},
		{TypeGetFileContent, TypeFileContent},
		{TypeWriteFile, TypeFileWritten},
		{TypeTerminalCreate, TypeTerminalCreated},
		{TypeVoiceCreate, TypeVoiceCreated},
		{TypeVoiceTerminalEnable, TypeVoiceTerminalEnabled},
		{TypePreviewStart, TypePreviewStarted},
		{TypePreviewStop, TypePreviewStopped},
		{TypePreviewStatus, TypePreviewStatus},
	}

	for _, tc := range cases {
		got, ok := ResponseTag(tc.call)
		if !ok {
			t.Fatalf("no response tag for call %q", tc.call)
		}
		if got != tc.want {
			t.Fatalf("call %q: expected response %q, got %q", tc.call, tc.want, got)
		}
	}

	if _, ok := ResponseTag(TypeTerminalInput); ok {
		t.Fatal("fire-and-forget send must not correlate with a response")
	}
}

func TestFrameClassification(t *testing.T) {
	if !IsTerminalFrame(TypeTerminalOutput) || IsTerminalFrame(TypeVoiceResponse) {
		t.Fatal("terminal frame classification wrong")
	}
	if !IsVoiceFrame(TypeVoiceTranscription) || IsVoiceFrame(TypeTerminalOutput) {
		t.Fatal("voice frame classification wrong")
	}
	if !IsVoiceTerminalFrame(TypeVoiceTerminalSpeaking) || IsVoiceTerminalFrame(TypeVoiceError) {
		t.Fatal("voice-terminal frame classification wrong")
	}
	if IsVoiceTerminalFrame(TypePreviewError) {
		t.Fatal("preview error is project-scoped, not session-scoped")
	}
}
