package wire

import "encoding/json"

// Encode-side frame shapes. Both ends of the link marshal these directly;
// boolean fields stay explicit on the wire (no omitempty) because receivers
// distinguish false from absent only by the frame's type.

// ListProjects requests the current project list.
type ListProjects struct {
	Type string `json:"type"`
}

// CreateProject asks the bridge to scaffold a new project.
type CreateProject struct {
	Type        string `json:"type"`
	ProjectName string `json:"projectName"`
}

// DeleteProject removes a project and everything it owns.
type DeleteProject struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// GetFileContent reads one file from a project tree.
type GetFileContent struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	FilePath  string `json:"filePath"`
}

// WriteFile replaces one file in a project tree.
type WriteFile struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	FilePath  string `json:"filePath"`
	Content   string `json:"content"`
}

// TerminalCreate opens a terminal session inside a project.
type TerminalCreate struct {
	Type          string `json:"type"`
	ProjectID     string `json:"projectId"`
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
	Sandbox       bool   `json:"sandbox"`
	InitialPrompt string `json:"initialPrompt,omitempty"`
}

// TerminalInput forwards keystrokes to a terminal session.
type TerminalInput struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

// TerminalResize propagates a viewport size change.
type TerminalResize struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

// TerminalClose tears down a terminal session.
type TerminalClose struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// VoiceCreate opens a standalone voice session inside a project.
type VoiceCreate struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// VoiceAudio carries one captured utterance as an opaque encoded blob.
type VoiceAudio struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
	AudioData      string `json:"audioData"`
}

// VoiceText sends a typed turn instead of speech.
type VoiceText struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
	Text           string `json:"text"`
}

// VoiceClose tears down a voice session.
type VoiceClose struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
}

// VoiceTerminalEnable overlays the voice agent onto an existing terminal.
type VoiceTerminalEnable struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// VoiceTerminalAudio carries an utterance addressed to a voice terminal.
type VoiceTerminalAudio struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	AudioData  string `json:"audioData"`
}

// VoiceTerminalText sends a typed turn to a voice terminal.
type VoiceTerminalText struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Text       string `json:"text"`
}

// VoiceTerminalDisable removes the voice overlay from a terminal.
type VoiceTerminalDisable struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// PreviewStart launches the project's preview dev-server.
type PreviewStart struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// PreviewStop stops the project's preview dev-server.
type PreviewStop struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// PreviewStatusRequest queries the preview dev-server state.
type PreviewStatusRequest struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// Ping is the keepalive probe; the bridge answers with Pong.
type Ping struct {
	Type string `json:"type"`
}

// Pong answers a Ping.
type Pong struct {
	Type string `json:"type"`
}

// Connected is the handshake frame carrying the initial project snapshot.
type Connected struct {
	Type     string    `json:"type"`
	Projects []Project `json:"projects"`
}

// ProjectsUpdated broadcasts a refreshed project list.
type ProjectsUpdated struct {
	Type     string    `json:"type"`
	Projects []Project `json:"projects"`
}

// ProjectList answers a list_projects call.
type ProjectList struct {
	Type     string    `json:"type"`
	Projects []Project `json:"projects"`
}

// ProjectCreated answers a create_project call.
type ProjectCreated struct {
	Type    string  `json:"type"`
	Project Project `json:"project"`
}

// ProjectDeleted answers a delete_project call.
type ProjectDeleted struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// FileContent answers a get_file_content call.
type FileContent struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	FilePath  string `json:"filePath"`
	Content   string `json:"content"`
}

// FileWritten answers a write_file call.
type FileWritten struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	FilePath  string `json:"filePath"`
}

// TerminalCreated answers a terminal_create call with the server id.
type TerminalCreated struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// TerminalOutput streams terminal bytes to the client.
type TerminalOutput struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Content    string `json:"content"`
}

// TerminalClosed announces a server-originated terminal teardown.
type TerminalClosed struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// TerminalError reports an error scoped to one terminal session.
type TerminalError struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Error      string `json:"error"`
}

// VoiceCreated answers a voice_create call with the server id.
type VoiceCreated struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
}

// VoiceTranscription streams recognized speech back to the client.
type VoiceTranscription struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
	Text           string `json:"text"`
	IsFinal        bool   `json:"isFinal"`
}

// VoiceProgress reports the agent's processing stage.
type VoiceProgress struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
	Stage          string `json:"stage"`
}

// VoiceResponse streams the agent's spoken reply.
type VoiceResponse struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
	ResponseText   string `json:"responseText"`
	AudioData      string `json:"audioData"`
	IsComplete     bool   `json:"isComplete"`
}

// VoiceErrorFrame reports an error scoped to one voice session.
type VoiceErrorFrame struct {
	Type           string `json:"type"`
	VoiceSessionID string `json:"voiceSessionId"`
	Error          string `json:"error"`
}

// VoiceTerminalSpeaking streams the overlay agent's spoken reply.
type VoiceTerminalSpeaking struct {
	Type         string `json:"type"`
	TerminalID   string `json:"terminalId"`
	ResponseText string `json:"responseText"`
	AudioData    string `json:"audioData"`
	IsComplete   bool   `json:"isComplete"`
}

// VoiceTerminalWorking toggles the overlay agent's busy indicator.
type VoiceTerminalWorking struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Working    bool   `json:"working"`
}

// VoiceTerminalAppControl asks the client UI to perform a navigation action.
type VoiceTerminalAppControl struct {
	Type       string          `json:"type"`
	TerminalID string          `json:"terminalId"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// VoiceTerminalBackgroundTask reports long-running agent work.
type VoiceTerminalBackgroundTask struct {
	Type        string `json:"type"`
	TerminalID  string `json:"terminalId"`
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// VoiceTerminalEnabled confirms the overlay is active.
type VoiceTerminalEnabled struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// VoiceTerminalDisabled announces the overlay was removed.
type VoiceTerminalDisabled struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
}

// VoiceTerminalError reports an error scoped to one voice terminal.
type VoiceTerminalError struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Error      string `json:"error"`
}

// PreviewStarted answers a preview_start call.
type PreviewStarted struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	URL       string `json:"url,omitempty"`
}

// PreviewStopped answers a preview_stop call.
type PreviewStopped struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// PreviewStatus answers a preview_status call.
type PreviewStatus struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	Running   bool   `json:"running"`
	URL       string `json:"url,omitempty"`
}

// PreviewErrorEvent streams one classified dev-server log line.
type PreviewErrorEvent struct {
	Type             string `json:"type"`
	ProjectID        string `json:"projectId"`
	PreviewError     string `json:"previewError"`
	PreviewErrorType string `json:"previewErrorType"`
}

// ErrorFrame is the unscoped application error of last resort.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
