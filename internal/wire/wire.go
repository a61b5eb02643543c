// Package wire defines the frame shapes exchanged with a Trestle bridge.
// Every frame is a flat JSON object whose "type" tag selects how the
// remaining fields are interpreted.
package wire

import "encoding/json"

// Call tags (client -> bridge, each expects exactly one correlated response).
const (
	TypeListProjects        = "list_projects"
	TypeCreateProject       = "create_project"
	TypeDeleteProject       = "delete_project"
	TypeGetFileContent      = "get_file_content"
	TypeWriteFile           = "write_file"
	TypeTerminalCreate      = "terminal_create"
	TypeVoiceCreate         = "voice_create"
	TypeVoiceTerminalEnable = "voice_terminal_enable"
	TypePreviewStart        = "preview_start"
	TypePreviewStop         = "preview_stop"
	TypePreviewStatus       = "preview_status"
)

// Response tags (bridge -> client, one per call).
const (
	TypeProjectList     = "project_list"
	TypeProjectCreated  = "project_created"
	TypeProjectDeleted  = "project_deleted"
	TypeFileContent     = "file_content"
	TypeFileWritten     = "file_written"
	TypeTerminalCreated = "terminal_created"
	TypeVoiceCreated    = "voice_created"
	TypePreviewStarted  = "preview_started"
	TypePreviewStopped  = "preview_stopped"
	// preview_status reuses its call tag for the response.
)

// Fire-and-forget tags (client -> bridge, no response expected).
const (
	TypeTerminalInput        = "terminal_input"
	TypeTerminalResize       = "terminal_resize"
	TypeTerminalClose        = "terminal_close"
	TypeVoiceAudio           = "voice_audio"
	TypeVoiceText            = "voice_text"
	TypeVoiceClose           = "voice_close"
	TypeVoiceTerminalAudio   = "voice_terminal_audio"
	TypeVoiceTerminalText    = "voice_terminal_text"
	TypeVoiceTerminalDisable = "voice_terminal_disable"
)

// Session stream tags (bridge -> client, scoped by terminalId or voiceSessionId).
const (
	TypeTerminalOutput              = "terminal_output"
	TypeTerminalClosed              = "terminal_closed"
	TypeTerminalError               = "terminal_error"
	TypeVoiceTranscription          = "voice_transcription"
	TypeVoiceProgress               = "voice_progress"
	TypeVoiceResponse               = "voice_response"
	TypeVoiceError                  = "voice_error"
	TypeVoiceTerminalSpeaking       = "voice_terminal_speaking"
	TypeVoiceTerminalWorking        = "voice_terminal_working"
	TypeVoiceTerminalAppControl     = "voice_terminal_app_control"
	TypeVoiceTerminalBackgroundTask = "voice_terminal_background_task"
	TypeVoiceTerminalEnabled        = "voice_terminal_enabled"
	TypeVoiceTerminalDisabled       = "voice_terminal_disabled"
	TypeVoiceTerminalError          = "voice_terminal_error"
)

// Lifecycle and global tags.
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeConnected       = "connected"
	TypeProjectsUpdated = "projects_updated"
	TypePreviewError    = "preview_error"
	TypeError           = "error"
)

// Project describes one bridge-hosted project.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Envelope is the decode-side view of any inbound frame. Only the fields
// relevant to the frame's type carry values; the rest stay zero.
type Envelope struct {
	Type string `json:"type"`

	// Scope identifiers.
	ProjectID      string `json:"projectId"`
	TerminalID     string `json:"terminalId"`
	VoiceSessionID string `json:"voiceSessionId"`

	// Project and file payloads.
	Project     *Project  `json:"project"`
	Projects    []Project `json:"projects"`
	ProjectName string    `json:"projectName"`
	FilePath    string    `json:"filePath"`
	Content     string    `json:"content"`

	// Terminal payloads.
	Data          string `json:"data"`
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
	Sandbox       bool   `json:"sandbox"`
	InitialPrompt string `json:"initialPrompt"`

	// Voice payloads.
	Text         string          `json:"text"`
	IsFinal      bool            `json:"isFinal"`
	Stage        string          `json:"stage"`
	ResponseText string          `json:"responseText"`
	AudioData    string          `json:"audioData"`
	IsComplete   bool            `json:"isComplete"`
	Working      bool            `json:"working"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	TaskID       string          `json:"taskId"`
	Status       string          `json:"status"`
	Description  string          `json:"description"`

	// Preview payloads.
	URL              string `json:"url"`
	Running          bool   `json:"running"`
	PreviewError     string `json:"previewError"`
	PreviewErrorType string `json:"previewErrorType"`

	// Error payload.
	Error string `json:"error"`
}

// SessionID returns the session scope carried by the envelope, preferring
// the terminal id for frames that address terminals.
func (e *Envelope) SessionID() string {
	if e.TerminalID != "" {
		return e.TerminalID
	}
	return e.VoiceSessionID
}

// Decode parses one inbound frame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// responseByCall correlates each call tag with the tag of its response.
var responseByCall = map[string]string{
	TypeListProjects:        TypeProjectList,
	TypeCreateProject:       TypeProjectCreated,
	TypeDeleteProject:       TypeProjectDeleted,
	TypeGetFileContent:      TypeFileContent,
	TypeWriteFile:           TypeFileWritten,
	TypeTerminalCreate:      TypeTerminalCreated,
	TypeVoiceCreate:         TypeVoiceCreated,
	TypeVoiceTerminalEnable: TypeVoiceTerminalEnabled,
	TypePreviewStart:        TypePreviewStarted,
	TypePreviewStop:         TypePreviewStopped,
	TypePreviewStatus:       TypePreviewStatus,
}

// ResponseTag returns the response tag correlated with a call tag.
func ResponseTag(callTag string) (string, bool) {
	tag, ok := responseByCall[callTag]
	return tag, ok
}

// IsTerminalFrame reports whether the tag is a terminal session stream frame.
func IsTerminalFrame(tag string) bool {
	switch tag {
	case TypeTerminalOutput, TypeTerminalClosed, TypeTerminalError:
		return true
	}
	return false
}

// IsVoiceFrame reports whether the tag is a voice session stream frame.
func IsVoiceFrame(tag string) bool {
	switch tag {
	case TypeVoiceTranscription, TypeVoiceProgress, TypeVoiceResponse, TypeVoiceError:
		return true
	}
	return false
}

// IsVoiceTerminalFrame reports whether the tag is a voice-terminal stream frame.
func IsVoiceTerminalFrame(tag string) bool {
	switch tag {
	case TypeVoiceTerminalSpeaking, TypeVoiceTerminalWorking,
		TypeVoiceTerminalAppControl, TypeVoiceTerminalBackgroundTask,
		TypeVoiceTerminalEnabled, TypeVoiceTerminalDisabled, TypeVoiceTerminalError:
		return true
	}
	return false
}
