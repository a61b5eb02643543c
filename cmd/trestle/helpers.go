package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/config/store"
)

const (
	// connectTimeout bounds dial plus handshake for one-shot commands.
	connectTimeout = 10 * time.Second
	// callTimeout bounds a single request/response exchange.
	callTimeout = 30 * time.Second
)

// openStore opens the configuration store for the instance selected by
// --instance.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	instance, _ := cmd.Flags().GetString("instance")
	return store.Open(store.Options{InstanceName: instance})
}

// resolveProfile picks the bridge profile named by --bridge, falling back to
// the stored default.
func resolveProfile(ctx context.Context, cmd *cobra.Command, st *store.Store) (store.Bridge, error) {
	name, _ := cmd.Flags().GetString("bridge")
	if name != "" {
		profile, err := st.GetBridge(ctx, name)
		if store.IsNotFound(err) {
			return store.Bridge{}, fmt.Errorf("bridge profile %q not found; run 'trestle bridge list'", name)
		}
		return profile, err
	}

	profile, err := st.DefaultBridge(ctx)
	if store.IsNotFound(err) {
		return store.Bridge{}, fmt.Errorf("no bridge profiles configured; run 'trestle bridge add <name> <address>' first")
	}
	return profile, err
}

// dialAddress builds the WebSocket URL for a profile. Stored addresses may
// omit the scheme; tokens ride as a query parameter because the bridge
// authenticates the upgrade request itself.
func dialAddress(profile store.Bridge) (string, error) {
	addr := strings.TrimSpace(profile.Address)
	if addr == "" {
		return "", fmt.Errorf("bridge profile %q has no address", profile.Name)
	}
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid bridge address %q: %w", profile.Address, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in bridge address %q", u.Scheme, profile.Address)
	}

	if profile.Token != "" {
		q := u.Query()
		q.Set("token", profile.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// withBridgeClient resolves the target profile, connects, runs fn and shuts
// the client down. One-shot commands (projects, files, preview) go through
// here; long-lived ones (terminal run, voice chat, preview watch) manage the
// client lifecycle themselves.
func withBridgeClient(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error) error {
	out := newOutputFormatter(cmd)

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	profile, err := resolveProfile(ctx, cmd, st)
	if err != nil {
		return out.Error("Failed to resolve bridge profile", err)
	}

	addr, err := dialAddress(profile)
	if err != nil {
		return out.Error("Invalid bridge address", err)
	}

	c := newBridgeClient()
	defer c.Shutdown()

	if _, err := c.Connect(ctx, addr); err != nil {
		return out.Error(fmt.Sprintf("Failed to connect to bridge %s", profile.Name), err)
	}

	return fn(ctx, c, out)
}

// connectForSession is the long-lived variant: the connect itself is bounded
// but the returned client stays up until the caller shuts it down.
func connectForSession(cmd *cobra.Command, opts ...bridge.Option) (*bridge.Client, store.Bridge, error) {
	st, err := openStore(cmd)
	if err != nil {
		return nil, store.Bridge{}, fmt.Errorf("open configuration store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	profile, err := resolveProfile(ctx, cmd, st)
	if err != nil {
		return nil, store.Bridge{}, err
	}

	addr, err := dialAddress(profile)
	if err != nil {
		return nil, store.Bridge{}, err
	}

	c := newBridgeClient(opts...)
	if _, err := c.Connect(ctx, addr); err != nil {
		c.Shutdown()
		return nil, store.Bridge{}, fmt.Errorf("connect to bridge %s: %w", profile.Name, err)
	}
	return c, profile, nil
}

// newBridgeClient builds a client with internal logging discarded. The
// default logger writes to stderr, which would interleave with command
// output and corrupt raw-mode terminal sessions.
func newBridgeClient(opts ...bridge.Option) *bridge.Client {
	base := []bridge.Option{bridge.WithLogger(log.New(io.Discard, "", 0))}
	return bridge.New(append(base, opts...)...)
}

// maskToken hides the middle of a token for listings.
func maskToken(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
