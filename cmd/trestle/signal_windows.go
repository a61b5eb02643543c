//go:build windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyAttachSignals subscribes ch to the signals the interactive terminal
// loop cares about. Windows has no SIGWINCH; only SIGINT and SIGTERM apply.
func notifyAttachSignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
}

// isResizeSignal reports whether sig is a terminal resize signal.
// Windows does not have SIGWINCH, so this always returns false.
func isResizeSignal(_ os.Signal) bool {
	return false
}
