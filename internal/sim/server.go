// Package sim implements an in-process Trestle bridge used for development
// and as the integration-test peer of the client core. It speaks the full
// wire protocol over WebSocket but fakes every outcome: projects live in
// memory, terminals echo or run a scripted hook (optionally a real PTY), and
// voice/preview traffic is replayed from a scenario.
package sim

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Server accepts bridge connections and serves one scenario to all of them.
type Server struct {
	scenario Scenario
	script   *Script
	projects *projectStore
	logger   *log.Logger

	ptyEnabled bool
	shell      string

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger routes simulator logs to the given logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithScriptPath loads a JavaScript hook file, overriding any script the
// scenario names.
func WithScriptPath(path string) Option {
	return func(s *Server) {
		s.scenario.Script = path
	}
}

// WithPTY switches terminal sessions from scripted echo to a real PTY
// hosting the given shell (empty: $SHELL, then /bin/sh).
func WithPTY(shell string) Option {
	return func(s *Server) {
		s.ptyEnabled = true
		s.shell = shell
	}
}

// New builds a server for the scenario.
func New(scenario Scenario, opts ...Option) (*Server, error) {
	s := &Server{
		scenario: scenario,
		projects: newProjectStore(scenario.Projects),
		logger:   log.Default(),
		conns:    make(map[*conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.scenario.Script != "" {
		script, err := LoadScript(s.scenario.Script, s.logger)
		if err != nil {
			return nil, err
		}
		s.script = script
	}

	// The simulator is a local development peer; it accepts any origin.
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return s, nil
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[Sim] upgrade error: %v", err)
		return
	}

	c := newConn(s, ws)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Printf("[Sim] client connected from %s", r.RemoteAddr)

	// The handshake frame must reach the client before any response, so it
	// is queued ahead of starting the pumps.
	c.enqueue(connectedFrame(s.projects.snapshot()))

	go c.writePump()
	go c.readPump()
}

// Close drops every connection. In-flight sessions are torn down by each
// connection's read pump as it exits.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
	return nil
}

// ConnCount reports the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// broadcastProjects pushes a projects_updated frame to every connection
// after a mutation, mirroring how a real bridge keeps all clients in sync.
func (s *Server) broadcastProjects() {
	frame := projectsUpdatedFrame(s.projects.snapshot())

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.enqueue(frame)
	}
}

func (s *Server) startTerminal(c *conn, id string, params terminalParams) (terminalSession, error) {
	if s.ptyEnabled {
		return startPTYTerminal(c, id, s.shell, params, s.logger)
	}
	return newScriptedTerminal(c, id, s.script, params), nil
}
