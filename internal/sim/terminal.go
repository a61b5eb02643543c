package sim

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	ptyDevice "github.com/creack/pty"

	"github.com/trestle-dev/trestle/internal/wire"
)

// terminalParams carries the terminal_create arguments.
type terminalParams struct {
	projectID     string
	cols          int
	rows          int
	sandbox       bool
	initialPrompt string
}

// terminalSession is one live terminal. start runs only after the
// terminal_created frame is enqueued so no output overtakes the id.
type terminalSession interface {
	start()
	input(data string)
	resize(cols, rows int)
	stop()
}

func (c *conn) handleTerminalCreate(env *wire.Envelope) {
	if !c.server.projects.exists(env.ProjectID) {
		c.sendError(fmt.Sprintf("terminal_create: project %s not found", env.ProjectID))
		return
	}

	id := newSessionID("term")
	params := terminalParams{
		projectID:     env.ProjectID,
		cols:          env.Cols,
		rows:          env.Rows,
		sandbox:       env.Sandbox,
		initialPrompt: env.InitialPrompt,
	}

	session, err := c.server.startTerminal(c, id, params)
	if err != nil {
		c.sendError("terminal_create: " + err.Error())
		return
	}

	c.mu.Lock()
	c.terminals[id] = session
	c.mu.Unlock()

	c.enqueue(wire.TerminalCreated{Type: wire.TypeTerminalCreated, TerminalID: id})
	session.start()
}

func (c *conn) handleTerminalInput(env *wire.Envelope) {
	// Input for an unknown id is dropped silently: the client closes
	// terminals optimistically and may still have keystrokes in flight.
	if t, ok := c.lookupTerminal(env.TerminalID); ok {
		t.input(env.Data)
	}
}

func (c *conn) handleTerminalResize(env *wire.Envelope) {
	if t, ok := c.lookupTerminal(env.TerminalID); ok {
		t.resize(env.Cols, env.Rows)
	}
}

func (c *conn) handleTerminalClose(env *wire.Envelope) {
	t, ok := c.lookupTerminal(env.TerminalID)
	if !ok {
		return
	}

	c.dropTerminal(env.TerminalID)

	// A voice overlay cannot outlive its terminal.
	c.mu.Lock()
	delete(c.overlays, env.TerminalID)
	c.mu.Unlock()

	t.stop()
}

func (c *conn) lookupTerminal(id string) (terminalSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.terminals[id]
	return t, ok
}

// dropTerminal removes the session from the registry, reporting whether it
// was still present. The PTY pump uses the result to tell a server-side
// exit (announce terminal_closed) from a client-initiated close (stay quiet).
func (c *conn) dropTerminal(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.terminals[id]; !ok {
		return false
	}
	delete(c.terminals, id)
	return true
}

const scriptedPrompt = "$ "

// scriptedTerminal answers input without running a process: the hook script
// when one is loaded, a plain echo otherwise. Its output is deterministic,
// which makes it the default mode for exercising clients.
type scriptedTerminal struct {
	conn          *conn
	id            string
	script        *Script
	initialPrompt string
}

func newScriptedTerminal(c *conn, id string, script *Script, params terminalParams) *scriptedTerminal {
	return &scriptedTerminal{
		conn:          c,
		id:            id,
		script:        script,
		initialPrompt: params.initialPrompt,
	}
}

func (t *scriptedTerminal) start() {
	t.emit("trestle-sim scripted shell\r\n" + scriptedPrompt)
	if t.initialPrompt != "" {
		t.input(t.initialPrompt + "\r")
	}
}

func (t *scriptedTerminal) input(data string) {
	if out, ok := t.script.TerminalInput(t.id, data); ok {
		t.emit(out)
		return
	}

	out := strings.ReplaceAll(data, "\r", "\r\n")
	if strings.Contains(data, "\r") {
		out += scriptedPrompt
	}
	t.emit(out)
}

func (t *scriptedTerminal) resize(cols, rows int) {}

func (t *scriptedTerminal) stop() {}

func (t *scriptedTerminal) emit(content string) {
	t.conn.enqueue(wire.TerminalOutput{
		Type:       wire.TypeTerminalOutput,
		TerminalID: t.id,
		Content:    content,
	})
}

// ptyTerminal runs a real shell under a pseudo-terminal.
type ptyTerminal struct {
	conn          *conn
	id            string
	cmd           *exec.Cmd
	file          *os.File
	logger        *log.Logger
	initialPrompt string

	utf8acc  utf8Accumulator
	stopOnce sync.Once
	waitOnce sync.Once
}

func startPTYTerminal(c *conn, id, shell string, params terminalParams, logger *log.Logger) (terminalSession, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Env = shellEnv()

	file, err := ptyDevice.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start shell %s: %w", shell, err)
	}

	t := &ptyTerminal{
		conn:          c,
		id:            id,
		cmd:           cmd,
		file:          file,
		logger:        logger,
		initialPrompt: params.initialPrompt,
	}

	cols, rows := params.cols, params.rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	t.resize(cols, rows)

	return t, nil
}

// shellEnv inherits the process environment with sane terminal defaults.
func shellEnv() []string {
	env := os.Environ()
	termSet, langSet := false, false
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			termSet = true
		}
		if strings.HasPrefix(kv, "LANG=") || strings.HasPrefix(kv, "LC_ALL=") {
			langSet = true
		}
	}
	if !termSet {
		env = append(env, "TERM=xterm-256color")
	}
	if !langSet {
		env = append(env, "LANG=C.UTF-8")
	}
	return env
}

func (t *ptyTerminal) start() {
	go t.pump()
	if t.initialPrompt != "" {
		if _, err := t.file.WriteString(t.initialPrompt + "\n"); err != nil {
			t.logger.Printf("[Sim] terminal %s initial prompt: %v", t.id, err)
		}
	}
}

func (t *ptyTerminal) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := t.file.Read(buf)
		if n > 0 {
			if chunk := t.utf8acc.take(buf[:n]); len(chunk) > 0 {
				t.conn.enqueue(wire.TerminalOutput{
					Type:       wire.TypeTerminalOutput,
					TerminalID: t.id,
					Content:    string(chunk),
				})
			}
		}
		if err != nil {
			t.file.Close()
			t.reap()
			if t.conn.dropTerminal(t.id) {
				t.conn.enqueue(wire.TerminalClosed{
					Type:       wire.TypeTerminalClosed,
					TerminalID: t.id,
				})
			}
			return
		}
	}
}

func (t *ptyTerminal) input(data string) {
	if _, err := t.file.WriteString(data); err != nil {
		t.logger.Printf("[Sim] terminal %s input: %v", t.id, err)
	}
}

func (t *ptyTerminal) resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	size := ptyDevice.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	if err := ptyDevice.Setsize(t.file, &size); err != nil {
		t.logger.Printf("[Sim] terminal %s resize: %v", t.id, err)
	}
}

// stop terminates the shell, escalating to SIGKILL when it ignores the
// polite request. The pump goroutine observes the PTY read error and
// finishes the teardown.
func (t *ptyTerminal) stop() {
	t.stopOnce.Do(func() {
		proc := t.cmd.Process
		if proc == nil {
			return
		}
		proc.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			t.reap()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			proc.Kill()
			<-done
		}
		t.file.Close()
	})
}

func (t *ptyTerminal) reap() {
	t.waitOnce.Do(func() {
		t.cmd.Wait()
	})
}

// utf8Accumulator carries bytes that end mid-rune over to the next read so
// every emitted chunk is valid UTF-8. PTY reads split multibyte sequences
// at arbitrary boundaries and JSON strings must stay valid.
type utf8Accumulator struct {
	pending []byte
}

func (u *utf8Accumulator) take(data []byte) []byte {
	buf := append(append([]byte(nil), u.pending...), data...)

	i := 0
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError && size == 1 && !utf8.FullRune(buf[i:]) {
			break
		}
		i += size
	}

	u.pending = append(u.pending[:0], buf[i:]...)
	return buf[:i]
}
