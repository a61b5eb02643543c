package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trestle-dev/trestle/internal/wire"
)

type callOutcome struct {
	env *wire.Envelope
	err error
}

// pendingCall is one outstanding request/response exchange. The optional
// hook runs on the reader goroutine, before the caller is woken and before
// the next frame is read, so registry mutations it performs (session
// re-keying) are ordered ahead of every later frame.
type pendingCall struct {
	result chan callOutcome
	timer  *time.Timer
	hook   func(*wire.Envelope)
}

// callRegistry correlates call responses by their response tag. Each tag
// holds a FIFO queue, so two outstanding calls of the same kind resolve in
// issue order instead of the second silently orphaning the first.
type callRegistry struct {
	mu     sync.Mutex
	queues map[string][]*pendingCall
}

func newCallRegistry() *callRegistry {
	return &callRegistry{queues: make(map[string][]*pendingCall)}
}

func (r *callRegistry) add(tag string, pc *pendingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[tag] = append(r.queues[tag], pc)
}

// resolve pops the oldest pending call for tag and completes it with env.
// It reports false when nothing is waiting on the tag.
func (r *callRegistry) resolve(tag string, env *wire.Envelope) bool {
	r.mu.Lock()
	queue := r.queues[tag]
	if len(queue) == 0 {
		r.mu.Unlock()
		return false
	}
	pc := queue[0]
	if len(queue) == 1 {
		delete(r.queues, tag)
	} else {
		r.queues[tag] = queue[1:]
	}
	r.mu.Unlock()

	if pc.timer != nil {
		pc.timer.Stop()
	}
	if pc.hook != nil {
		pc.hook(env)
	}
	pc.result <- callOutcome{env: env}
	return true
}

// remove takes pc out of its queue if it is still registered. Exactly one
// of resolve, remove-for-timeout, remove-for-cancel or drain completes any
// given call; identity matching keeps a timed-out call from evicting a
// younger call of the same kind.
func (r *callRegistry) remove(tag string, pc *pendingCall) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := r.queues[tag]
	for i, cand := range queue {
		if cand == pc {
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(r.queues, tag)
			} else {
				r.queues[tag] = queue
			}
			return true
		}
	}
	return false
}

// drain rejects every outstanding call, in issue order per kind.
func (r *callRegistry) drain(err error) {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string][]*pendingCall)
	r.mu.Unlock()

	for _, queue := range queues {
		for _, pc := range queue {
			if pc.timer != nil {
				pc.timer.Stop()
			}
			pc.result <- callOutcome{err: err}
		}
	}
}

func (r *callRegistry) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, queue := range r.queues {
		n += len(queue)
	}
	return n
}

// call sends one request frame and waits for its correlated response, the
// timeout, connection loss, or ctx cancellation, whichever comes first. The
// registry entry is enqueued under the same lock that orders the write onto
// the wire, so queue order always matches wire order.
func (c *Client) call(ctx context.Context, callTag string, payload any, timeout time.Duration, hook func(*wire.Envelope)) (*wire.Envelope, error) {
	respTag, ok := wire.ResponseTag(callTag)
	if !ok {
		return nil, fmt.Errorf("bridge: %q is not a call", callTag)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return nil, ErrNotConnected
	}

	pc := &pendingCall{
		result: make(chan callOutcome, 1),
		hook:   hook,
	}
	// Armed before the entry is published so the struct is complete by the
	// time the reader goroutine can see it. The budget covers send time.
	pc.timer = time.AfterFunc(timeout, func() {
		if c.calls.remove(respTag, pc) {
			pc.result <- callOutcome{err: fmt.Errorf("%w: no %s within %s", ErrCallTimeout, respTag, timeout)}
		}
	})

	c.writeMu.Lock()
	c.calls.add(respTag, pc)
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		if c.calls.remove(respTag, pc) {
			pc.timer.Stop()
		}
		return nil, fmt.Errorf("bridge: send %s: %w", callTag, err)
	}

	select {
	case out := <-pc.result:
		return out.env, out.err
	case <-ctx.Done():
		if c.calls.remove(respTag, pc) {
			pc.timer.Stop()
			return nil, ctx.Err()
		}
		// The dispatcher or the timer won the race; honor its outcome.
		out := <-pc.result
		return out.env, out.err
	}
}
