package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trestle-dev/trestle/internal/sim"
	trestleversion "github.com/trestle-dev/trestle/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trestle-sim",
		Short:         "Trestle bridge simulator - scriptable development peer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSim,
	}
	rootCmd.Version = trestleversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.Flags().String("addr", "127.0.0.1:8787", "Listen address")
	rootCmd.Flags().String("scenario", "", "Scenario YAML file (defaults to a built-in playground)")
	rootCmd.Flags().String("script", "", "JavaScript hook file, overriding the scenario's script")
	rootCmd.Flags().Bool("pty", false, "Back terminal sessions with a real PTY")
	rootCmd.Flags().String("shell", "", "Shell for PTY terminals (defaults to $SHELL, then /bin/sh)")
	rootCmd.Flags().String("token", "", "Require this token on incoming connections")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSim(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	scriptPath, _ := cmd.Flags().GetString("script")
	ptyEnabled, _ := cmd.Flags().GetBool("pty")
	shell, _ := cmd.Flags().GetString("shell")
	token, _ := cmd.Flags().GetString("token")

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	scenario := sim.DefaultScenario()
	if scenarioPath != "" {
		var err error
		scenario, err = sim.LoadScenario(scenarioPath)
		if err != nil {
			return fmt.Errorf("failed to load scenario: %w", err)
		}
	}

	opts := []sim.Option{sim.WithLogger(log.Default())}
	if scriptPath != "" {
		opts = append(opts, sim.WithScriptPath(scriptPath))
	}
	if ptyEnabled || shell != "" {
		opts = append(opts, sim.WithPTY(shell))
	}

	s, err := sim.New(scenario, opts...)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	var handler http.Handler = s
	if token != "" {
		handler = requireToken(token, s)
	}

	srv := &http.Server{Addr: addr, Handler: handler}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	log.Printf("Trestle simulator listening on ws://%s (PID: %d)", addr, os.Getpid())
	for _, p := range scenario.Projects {
		log.Printf("Serving project %s (%s)", p.ID, p.Name)
	}

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("Simulator error: %v", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if err := s.Close(); err != nil {
		log.Printf("Error closing simulator: %v", err)
	}

	log.Println("Simulator stopped")
	return nil
}

// requireToken rejects upgrade requests that do not carry the expected token
// as a query parameter, matching how a real bridge authenticates the upgrade
// itself before any frame is exchanged.
func requireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
