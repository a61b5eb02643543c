package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected means an operation needed an open link and none exists.
	ErrNotConnected = errors.New("bridge: not connected")
	// ErrConnectionLost rejects calls that were in flight when the link dropped.
	ErrConnectionLost = errors.New("bridge: connection lost")
	// ErrCallTimeout rejects a call whose response budget ran out.
	ErrCallTimeout = errors.New("bridge: call timed out")
	// ErrSessionClosed rejects operations on a closed session handle.
	ErrSessionClosed = errors.New("bridge: session closed")
	// ErrClientClosed rejects operations after Shutdown.
	ErrClientClosed = errors.New("bridge: client shut down")
)

// TransportError wraps socket-level failures before they reach the error
// handler, so callers can tell recoverable link trouble from application
// errors reported by the bridge.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
