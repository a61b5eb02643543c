//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyAttachSignals subscribes ch to the signals the interactive terminal
// loop cares about, including terminal resize (SIGWINCH).
func notifyAttachSignals(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH)
}

// isResizeSignal reports whether sig is a terminal resize signal (SIGWINCH).
func isResizeSignal(sig os.Signal) bool {
	return sig == syscall.SIGWINCH
}
