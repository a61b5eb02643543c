package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeScriptFile(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.js")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestScriptTerminalInputHook(t *testing.T) {
	path := writeScriptFile(t, `
module.exports = {
	onTerminalInput: function (terminalId, data) {
		if (data === "skip") {
			return null;
		}
		return terminalId + ">" + data.toUpperCase();
	},
};
`)

	script, err := LoadScript(path, nil)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	out, ok := script.TerminalInput("term-1", "ls")
	if !ok || out != "term-1>LS" {
		t.Errorf("hook output = %q (ok=%v)", out, ok)
	}

	// A falsy return hands the turn back to the builtin echo.
	if _, ok := script.TerminalInput("term-1", "skip"); ok {
		t.Error("null return should decline the turn")
	}
}

func TestScriptVoiceHooks(t *testing.T) {
	path := writeScriptFile(t, `
exports.onVoiceUtterance = function (sessionId, audio) {
	return {
		transcription: "deploy the app",
		stages: ["transcribing", "deploying"],
		response: "Deploying now.",
	};
};
exports.onVoiceText = function (sessionId, text) {
	return "You typed: " + text;
};
`)

	script, err := LoadScript(path, nil)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	reply, ok := script.VoiceUtterance("voice-1", "AAAA")
	if !ok {
		t.Fatal("utterance hook declined")
	}
	if reply.Transcription != "deploy the app" {
		t.Errorf("transcription = %q", reply.Transcription)
	}
	if len(reply.Stages) != 2 || reply.Stages[1] != "deploying" {
		t.Errorf("stages = %v", reply.Stages)
	}
	if reply.Response != "Deploying now." {
		t.Errorf("response = %q", reply.Response)
	}

	// A plain string reply maps to the response field.
	reply, ok = script.VoiceText("voice-1", "hello")
	if !ok || reply.Response != "You typed: hello" {
		t.Errorf("text reply = %+v (ok=%v)", reply, ok)
	}
}

func TestScriptHookErrorDeclines(t *testing.T) {
	path := writeScriptFile(t, `
module.exports = {
	onTerminalInput: function () {
		throw new Error("boom");
	},
};
`)

	script, err := LoadScript(path, nil)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}

	if _, ok := script.TerminalInput("term-1", "ls"); ok {
		t.Error("a throwing hook should decline the turn")
	}
}

func TestLoadScriptRequiresHook(t *testing.T) {
	path := writeScriptFile(t, `module.exports = { unrelated: 1 };`)

	if _, err := LoadScript(path, nil); err == nil || !strings.Contains(err.Error(), "exports none") {
		t.Fatalf("expected missing-hook error, got %v", err)
	}
}

func TestLoadScriptSyntaxError(t *testing.T) {
	path := writeScriptFile(t, `function (`)

	if _, err := LoadScript(path, nil); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestNilScriptDeclinesEverything(t *testing.T) {
	var script *Script

	if _, ok := script.TerminalInput("term-1", "ls"); ok {
		t.Error("nil script answered a terminal turn")
	}
	if _, ok := script.VoiceUtterance("voice-1", "AAAA"); ok {
		t.Error("nil script answered an utterance")
	}
	if _, ok := script.VoiceText("voice-1", "hi"); ok {
		t.Error("nil script answered a typed turn")
	}
}
