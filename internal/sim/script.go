package sim

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/dop251/goja"
)

// Script wraps an optional JavaScript hook file that can take over the
// simulator's canned behaviors. Supported exports:
//
//	onTerminalInput(terminalId, data)    -> string output (falsy: builtin echo)
//	onVoiceUtterance(sessionId, audio)   -> reply (see below)
//	onVoiceText(sessionId, text)         -> reply
//
// A reply is either a plain string (the spoken response) or an object of the
// shape {transcription, stages: [..], response}.
type Script struct {
	path string

	// goja runtimes are not safe for concurrent use; hooks for every
	// connection serialise through mu.
	mu               sync.Mutex
	vm               *goja.Runtime
	onTerminalInput  goja.Callable
	onVoiceUtterance goja.Callable
	onVoiceText      goja.Callable

	logger *log.Logger
}

// VoiceReply is a hook-provided voice turn.
type VoiceReply struct {
	Transcription string
	Stages        []string
	Response      string
}

// LoadScript compiles a hook file. At least one known hook must be exported.
func LoadScript(path string, logger *log.Logger) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sim: read script %s: %w", path, err)
	}

	vm := goja.New()
	exports := vm.NewObject()
	vm.Set("module", vm.NewObject())
	vm.Set("exports", exports)

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("sim: execute script %s: %w", path, err)
	}

	// CommonJS-style scripts assign module.exports; plain scripts assign
	// onto exports directly.
	if moduleObj := vm.Get("module"); moduleObj != nil {
		if moduleExports := moduleObj.ToObject(vm).Get("exports"); moduleExports != nil {
			if obj := moduleExports.ToObject(vm); obj != nil && len(obj.Keys()) > 0 {
				exports = obj
			}
		}
	}

	s := &Script{path: path, vm: vm, logger: logger}
	if s.logger == nil {
		s.logger = log.Default()
	}

	s.onTerminalInput = exportedFunc(exports, "onTerminalInput")
	s.onVoiceUtterance = exportedFunc(exports, "onVoiceUtterance")
	s.onVoiceText = exportedFunc(exports, "onVoiceText")

	if s.onTerminalInput == nil && s.onVoiceUtterance == nil && s.onVoiceText == nil {
		return nil, fmt.Errorf("sim: script %s exports none of onTerminalInput, onVoiceUtterance, onVoiceText", path)
	}

	return s, nil
}

func exportedFunc(exports *goja.Object, name string) goja.Callable {
	v := exports.Get(name)
	if v == nil {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return fn
}

// TerminalInput asks the hook for the output of one input chunk. ok is false
// when no hook is installed or the hook declined (returned a falsy value).
func (s *Script) TerminalInput(terminalID, data string) (string, bool) {
	if s == nil || s.onTerminalInput == nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.onTerminalInput(goja.Undefined(), s.vm.ToValue(terminalID), s.vm.ToValue(data))
	if err != nil {
		s.logger.Printf("[Sim] script %s onTerminalInput: %v", s.path, err)
		return "", false
	}
	return stringResult(result)
}

// VoiceUtterance asks the hook to answer an audio utterance.
func (s *Script) VoiceUtterance(sessionID, audioData string) (VoiceReply, bool) {
	if s == nil || s.onVoiceUtterance == nil {
		return VoiceReply{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.onVoiceUtterance(goja.Undefined(), s.vm.ToValue(sessionID), s.vm.ToValue(audioData))
	if err != nil {
		s.logger.Printf("[Sim] script %s onVoiceUtterance: %v", s.path, err)
		return VoiceReply{}, false
	}
	return voiceReplyResult(result)
}

// VoiceText asks the hook to answer a typed turn.
func (s *Script) VoiceText(sessionID, text string) (VoiceReply, bool) {
	if s == nil || s.onVoiceText == nil {
		return VoiceReply{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.onVoiceText(goja.Undefined(), s.vm.ToValue(sessionID), s.vm.ToValue(text))
	if err != nil {
		s.logger.Printf("[Sim] script %s onVoiceText: %v", s.path, err)
		return VoiceReply{}, false
	}
	return voiceReplyResult(result)
}

func stringResult(v goja.Value) (string, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", false
	}
	out := v.String()
	if out == "" {
		return "", false
	}
	return out, true
}

func voiceReplyResult(v goja.Value) (VoiceReply, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return VoiceReply{}, false
	}

	switch exported := v.Export().(type) {
	case string:
		if exported == "" {
			return VoiceReply{}, false
		}
		return VoiceReply{Response: exported}, true
	case map[string]interface{}:
		var reply VoiceReply
		if t, ok := exported["transcription"].(string); ok {
			reply.Transcription = t
		}
		if r, ok := exported["response"].(string); ok {
			reply.Response = r
		}
		if stages, ok := exported["stages"].([]interface{}); ok {
			for _, stage := range stages {
				if str, ok := stage.(string); ok {
					reply.Stages = append(reply.Stages, str)
				}
			}
		}
		if reply.Response == "" && reply.Transcription == "" {
			return VoiceReply{}, false
		}
		return reply, true
	default:
		return VoiceReply{}, false
	}
}
