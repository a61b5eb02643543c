package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/trestle-dev/trestle/internal/wire"
)

// previewState simulates one project's dev-server. Scripted errors fire on
// timers while the preview runs; stopping cancels whatever has not fired.
type previewState struct {
	conn      *conn
	projectID string
	url       string

	mu      sync.Mutex
	running bool
	timers  []*time.Timer
}

func (c *conn) handlePreviewStart(env *wire.Envelope) {
	if !c.server.projects.exists(env.ProjectID) {
		c.sendError(fmt.Sprintf("preview_start: project %s not found", env.ProjectID))
		return
	}

	script := c.server.scenario.Preview

	c.mu.Lock()
	p, ok := c.previews[env.ProjectID]
	if !ok {
		p = &previewState{conn: c, projectID: env.ProjectID, url: script.URL}
		c.previews[env.ProjectID] = p
	}
	c.mu.Unlock()

	p.start(script.Errors)

	c.enqueue(wire.PreviewStarted{
		Type:      wire.TypePreviewStarted,
		ProjectID: env.ProjectID,
		URL:       p.url,
	})
}

func (c *conn) handlePreviewStop(env *wire.Envelope) {
	if !c.server.projects.exists(env.ProjectID) {
		c.sendError(fmt.Sprintf("preview_stop: project %s not found", env.ProjectID))
		return
	}

	// Stopping a preview that never ran still succeeds.
	if p, ok := c.lookupPreview(env.ProjectID); ok {
		p.stop()
	}
	c.enqueue(wire.PreviewStopped{
		Type:      wire.TypePreviewStopped,
		ProjectID: env.ProjectID,
	})
}

func (c *conn) handlePreviewStatus(env *wire.Envelope) {
	if !c.server.projects.exists(env.ProjectID) {
		c.sendError(fmt.Sprintf("preview_status: project %s not found", env.ProjectID))
		return
	}

	status := wire.PreviewStatus{Type: wire.TypePreviewStatus, ProjectID: env.ProjectID}
	if p, ok := c.lookupPreview(env.ProjectID); ok {
		status.Running, status.URL = p.status()
	}
	c.enqueue(status)
}

func (c *conn) lookupPreview(projectID string) (*previewState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.previews[projectID]
	return p, ok
}

// stopPreview tears down the preview riding a project, if any. Used when
// the project itself goes away.
func (c *conn) stopPreview(projectID string) {
	c.mu.Lock()
	p, ok := c.previews[projectID]
	delete(c.previews, projectID)
	c.mu.Unlock()
	if ok {
		p.stop()
	}
}

// start arms the scripted error timers. Starting an already running preview
// is a no-op so a repeated preview_start does not double the errors.
func (p *previewState) start(errors []ScriptedPrevError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	for _, e := range errors {
		e := e
		delay := time.Duration(e.AfterMs) * time.Millisecond
		p.timers = append(p.timers, time.AfterFunc(delay, func() {
			p.emitError(e)
		}))
	}
}

func (p *previewState) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
}

func (p *previewState) status() (running bool, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return false, ""
	}
	return true, p.url
}

// emitError runs on a timer goroutine; a stop racing the timer wins.
func (p *previewState) emitError(e ScriptedPrevError) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}

	p.conn.enqueue(wire.PreviewErrorEvent{
		Type:             wire.TypePreviewError,
		ProjectID:        p.projectID,
		PreviewError:     e.Message,
		PreviewErrorType: e.ErrorType,
	})
}
