package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trestle-dev/trestle/internal/bridge"
)

func newTerminalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "terminal",
		Short:         "Terminal sessions on the bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := &cobra.Command{
		Use:           "run <project-id>",
		Short:         "Open an interactive terminal in a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          terminalRun,
	}
	run.Flags().Int("cols", 0, "Terminal width (defaults to the local terminal)")
	run.Flags().Int("rows", 0, "Terminal height (defaults to the local terminal)")
	run.Flags().Bool("sandbox", false, "Request a sandboxed terminal")
	run.Flags().String("prompt", "", "Initial prompt to run once the terminal is up")

	cmd.AddCommand(run)
	return cmd
}

func terminalRun(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	out := newOutputFormatter(cmd)

	cols, _ := cmd.Flags().GetInt("cols")
	rows, _ := cmd.Flags().GetInt("rows")
	sandbox, _ := cmd.Flags().GetBool("sandbox")
	prompt, _ := cmd.Flags().GetString("prompt")

	// Fill unset dimensions from the local terminal.
	if cols == 0 || rows == 0 {
		if term.IsTerminal(0) {
			if w, h, err := term.GetSize(0); err == nil {
				if cols == 0 {
					cols = w
				}
				if rows == 0 {
					rows = h
				}
			}
		}
	}
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}

	c, profile, err := connectForSession(cmd)
	if err != nil {
		return out.Error("Failed to connect to bridge", err)
	}
	defer c.Shutdown()

	errChan := make(chan error, 2)

	createCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	t, err := c.CreateTerminal(createCtx, projectID, bridge.TerminalOptions{
		Cols:          cols,
		Rows:          rows,
		Sandbox:       sandbox,
		InitialPrompt: prompt,
	}, bridge.TerminalCallbacks{
		OnOutput: func(content string) {
			os.Stdout.WriteString(content)
		},
		OnClosed: func() {
			errChan <- nil
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\r\nTerminal error: %v\r\n", err)
		},
	})
	if err != nil {
		return out.Error("Failed to create terminal", err)
	}

	out.PrintText(func() {
		fmt.Printf("Terminal %s opened in project %s (bridge %s)\n", t.ID(), projectID, profile.Name)
		fmt.Println("Press Ctrl+C to close")
	})

	// Set terminal to raw mode if available.
	var oldState *term.State
	if term.IsTerminal(0) {
		oldState, err = term.MakeRaw(0)
		if err != nil {
			_ = t.Close()
			return out.Error("Failed to set raw mode", err)
		}
		defer term.Restore(0, oldState)
	}

	// Handle signals.
	sigChan := make(chan os.Signal, 2)
	notifyAttachSignals(sigChan)
	defer signal.Stop(sigChan)

	sendResize := func() {
		if !term.IsTerminal(0) {
			return
		}
		w, h, err := term.GetSize(0)
		if err != nil {
			return
		}
		if err := t.Resize(w, h); err != nil && !errors.Is(err, bridge.ErrSessionClosed) {
			fmt.Fprintf(os.Stderr, "\r\nWarning: failed to notify resize: %v\r\n", err)
		}
	}

	// Send initial resize snapshot so the remote side knows local geometry.
	sendResize()

	// Input goroutine: read from stdin and forward keystrokes.
	// Note: os.Stdin.Read is a blocking syscall not interruptible by context
	// cancellation. This goroutine may outlive terminalRun until the next
	// keystroke or process exit. Acceptable for CLI usage.
	go func() {
		buffer := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buffer)
			if err != nil {
				if err != io.EOF {
					errChan <- err
				}
				return
			}
			if n > 0 {
				if err := t.SendInput(string(buffer[:n])); err != nil {
					if !errors.Is(err, bridge.ErrSessionClosed) {
						errChan <- err
					}
					return
				}
			}
		}
	}()

	for {
		select {
		case sig := <-sigChan:
			if isResizeSignal(sig) {
				sendResize()
				continue
			}
			// Non-resize signal (SIGINT or SIGTERM): close the session.
			fmt.Print("\r\nClosing terminal...\r\n")
			_ = t.Close()
			return nil
		case err := <-errChan:
			if err == nil || errors.Is(err, bridge.ErrConnectionLost) {
				return nil
			}
			return err
		}
	}
}
