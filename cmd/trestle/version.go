package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	trestleversion "github.com/trestle-dev/trestle/internal/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client version and bridge reachability",
		RunE:  runVersion,
	}
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := trestleversion.String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var bridgeName, bridgeAddr string
	var bridgeReachable bool
	var projectCount int
	var bridgeErr error

	st, err := openStore(cmd)
	if err == nil {
		profile, perr := resolveProfile(ctx, cmd, st)
		st.Close()
		if perr == nil {
			bridgeName = profile.Name
			bridgeAddr = profile.Address
			addr, aerr := dialAddress(profile)
			if aerr == nil {
				c := newBridgeClient()
				projects, cerr := c.Connect(ctx, addr)
				c.Shutdown()
				if cerr == nil {
					bridgeReachable = true
					projectCount = len(projects)
				} else {
					bridgeErr = cerr
				}
			} else {
				bridgeErr = aerr
			}
		} else {
			bridgeErr = perr
		}
	} else {
		bridgeErr = err
	}

	if out.jsonMode {
		data := map[string]any{
			"client": clientVersion,
		}
		if bridgeName != "" {
			data["bridge"] = bridgeName
			data["address"] = bridgeAddr
		}
		data["reachable"] = bridgeReachable
		if bridgeReachable {
			data["projects"] = projectCount
		} else if bridgeErr != nil {
			data["bridge_error"] = bridgeErr.Error()
		}
		return out.Print(data)
	}

	fmt.Printf("Client: %s\n", trestleversion.FormatVersion(clientVersion))
	if bridgeReachable {
		fmt.Printf("Bridge: %s (%s) reachable, %d project(s)\n", bridgeName, bridgeAddr, projectCount)
	} else if bridgeName != "" {
		fmt.Printf("Bridge: %s (%s) unavailable (%v)\n", bridgeName, bridgeAddr, bridgeErr)
	} else {
		fmt.Printf("Bridge: not configured (%v)\n", bridgeErr)
	}

	return nil
}
