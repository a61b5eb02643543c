package sim

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trestle-dev/trestle/internal/wire"
)

const (
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// conn is one bridge client. Session state is connection-scoped: a client
// that drops loses its terminals, voice sessions and preview subscriptions,
// matching how the client core re-creates them after a reconnect.
type conn struct {
	server *Server
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}

	mu        sync.Mutex
	terminals map[string]terminalSession
	voices    map[string]*voiceSession
	overlays  map[string]*voiceOverlay
	previews  map[string]*previewState
}

func newConn(s *Server, ws *websocket.Conn) *conn {
	return &conn{
		server:    s,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		terminals: make(map[string]terminalSession),
		voices:    make(map[string]*voiceSession),
		overlays:  make(map[string]*voiceOverlay),
		previews:  make(map[string]*previewState),
	}
}

// enqueue serialises a frame onto the outbound channel. It blocks when the
// client reads slower than the simulator produces; tests rely on no frame
// ever being dropped. The done channel unblocks writers during teardown.
func (c *conn) enqueue(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.server.logger.Printf("[Sim] marshal %T: %v", frame, err)
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	}
}

func (c *conn) readPump() {
	defer func() {
		close(c.done)
		c.teardown()
		c.server.removeConn(c)
		c.ws.Close()
		c.server.logger.Printf("[Sim] client disconnected")
	}()

	c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.server.logger.Printf("[Sim] read error: %v", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		env, err := wire.Decode(payload)
		if err != nil {
			c.server.logger.Printf("[Sim] dropping malformed frame: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown releases every session this connection owns. Runs on the read
// pump goroutine after done is closed.
func (c *conn) teardown() {
	c.mu.Lock()
	terminals := c.terminals
	previews := c.previews
	c.terminals = make(map[string]terminalSession)
	c.voices = make(map[string]*voiceSession)
	c.overlays = make(map[string]*voiceOverlay)
	c.previews = make(map[string]*previewState)
	c.mu.Unlock()

	for _, t := range terminals {
		t.stop()
	}
	for _, p := range previews {
		p.stop()
	}
}

func (c *conn) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.TypePing:
		c.enqueue(wire.Pong{Type: wire.TypePong})

	case wire.TypeListProjects:
		c.enqueue(wire.ProjectList{
			Type:     wire.TypeProjectList,
			Projects: c.server.projects.snapshot(),
		})

	case wire.TypeCreateProject:
		c.handleCreateProject(env)

	case wire.TypeDeleteProject:
		c.handleDeleteProject(env)

	case wire.TypeGetFileContent:
		c.handleGetFileContent(env)

	case wire.TypeWriteFile:
		c.handleWriteFile(env)

	case wire.TypeTerminalCreate:
		c.handleTerminalCreate(env)

	case wire.TypeTerminalInput:
		c.handleTerminalInput(env)

	case wire.TypeTerminalResize:
		c.handleTerminalResize(env)

	case wire.TypeTerminalClose:
		c.handleTerminalClose(env)

	case wire.TypeVoiceCreate:
		c.handleVoiceCreate(env)

	case wire.TypeVoiceAudio:
		c.handleVoiceAudio(env)

	case wire.TypeVoiceText:
		c.handleVoiceText(env)

	case wire.TypeVoiceClose:
		c.handleVoiceClose(env)

	case wire.TypeVoiceTerminalEnable:
		c.handleVoiceTerminalEnable(env)

	case wire.TypeVoiceTerminalAudio:
		c.handleVoiceTerminalAudio(env)

	case wire.TypeVoiceTerminalText:
		c.handleVoiceTerminalText(env)

	case wire.TypeVoiceTerminalDisable:
		c.handleVoiceTerminalDisable(env)

	case wire.TypePreviewStart:
		c.handlePreviewStart(env)

	case wire.TypePreviewStop:
		c.handlePreviewStop(env)

	case wire.TypePreviewStatus:
		c.handlePreviewStatus(env)

	default:
		c.sendError(fmt.Sprintf("unsupported frame type %q", env.Type))
	}
}

func (c *conn) sendError(message string) {
	c.enqueue(wire.ErrorFrame{Type: wire.TypeError, Error: message})
}

func (c *conn) handleCreateProject(env *wire.Envelope) {
	name := strings.TrimSpace(env.ProjectName)
	if name == "" {
		c.sendError("create_project: projectName must not be empty")
		return
	}

	created := c.server.projects.create(name)
	c.enqueue(wire.ProjectCreated{Type: wire.TypeProjectCreated, Project: created})
	c.server.broadcastProjects()
}

func (c *conn) handleDeleteProject(env *wire.Envelope) {
	if err := c.server.projects.delete(env.ProjectID); err != nil {
		c.sendError("delete_project: " + err.Error())
		return
	}
	c.stopPreview(env.ProjectID)
	c.enqueue(wire.ProjectDeleted{Type: wire.TypeProjectDeleted, ProjectID: env.ProjectID})
	c.server.broadcastProjects()
}

func (c *conn) handleGetFileContent(env *wire.Envelope) {
	content, err := c.server.projects.readFile(env.ProjectID, env.FilePath)
	if err != nil {
		c.sendError("get_file_content: " + err.Error())
		return
	}
	c.enqueue(wire.FileContent{
		Type:      wire.TypeFileContent,
		ProjectID: env.ProjectID,
		FilePath:  env.FilePath,
		Content:   content,
	})
}

func (c *conn) handleWriteFile(env *wire.Envelope) {
	if err := c.server.projects.writeFile(env.ProjectID, env.FilePath, env.Content); err != nil {
		c.sendError("write_file: " + err.Error())
		return
	}
	c.enqueue(wire.FileWritten{
		Type:      wire.TypeFileWritten,
		ProjectID: env.ProjectID,
		FilePath:  env.FilePath,
	})
}

func connectedFrame(projects []wire.Project) wire.Connected {
	return wire.Connected{Type: wire.TypeConnected, Projects: projects}
}

func projectsUpdatedFrame(projects []wire.Project) wire.ProjectsUpdated {
	return wire.ProjectsUpdated{Type: wire.TypeProjectsUpdated, Projects: projects}
}

func newSessionID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
