package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trestle-dev/trestle/internal/bridge"
)

func newPreviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "preview",
		Short:         "Control project preview dev-servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	start := &cobra.Command{
		Use:           "start <project-id>",
		Short:         "Start the preview dev-server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          previewStart,
	}

	stop := &cobra.Command{
		Use:           "stop <project-id>",
		Short:         "Stop the preview dev-server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          previewStop,
	}

	status := &cobra.Command{
		Use:           "status <project-id>",
		Short:         "Show preview dev-server state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          previewStatus,
	}

	watch := &cobra.Command{
		Use:           "watch <project-id>",
		Short:         "Start the preview and stream classified dev-server errors",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          previewWatch,
	}

	cmd.AddCommand(start, stop, status, watch)
	return cmd
}

func previewStart(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		info, err := c.StartPreview(ctx, projectID, nil)
		if err != nil {
			return out.Error("Failed to start preview", err)
		}
		return out.Success(fmt.Sprintf("Preview running at %s", info.URL), map[string]interface{}{
			"project_id": info.ProjectID,
			"url":        info.URL,
		})
	})
}

func previewStop(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		if err := c.StopPreview(ctx, projectID); err != nil {
			return out.Error("Failed to stop preview", err)
		}
		return out.Success("Preview stopped", map[string]interface{}{
			"project_id": projectID,
		})
	})
}

func previewStatus(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		info, err := c.PreviewStatus(ctx, projectID)
		if err != nil {
			return out.Error("Failed to query preview status", err)
		}
		return out.Render(CommandResult{
			Data: map[string]interface{}{
				"project_id": info.ProjectID,
				"running":    info.Running,
				"url":        info.URL,
			},
			HumanReadable: func() error {
				if !info.Running {
					fmt.Println("Preview is not running")
					return nil
				}
				fmt.Printf("Preview running at %s\n", info.URL)
				return nil
			},
		})
	})
}

func previewWatch(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	out := newOutputFormatter(cmd)

	c, profile, err := connectForSession(cmd)
	if err != nil {
		return out.Error("Failed to connect to bridge", err)
	}
	defer c.Shutdown()

	enc := json.NewEncoder(os.Stdout)
	onError := func(pe bridge.PreviewError) {
		if out.jsonMode {
			_ = enc.Encode(map[string]interface{}{
				"event":      "preview_error",
				"project_id": pe.ProjectID,
				"kind":       pe.Kind,
				"message":    pe.Message,
			})
			return
		}
		fmt.Printf("[%s] %s\n", pe.Kind, pe.Message)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), callTimeout)
	defer startCancel()

	info, err := c.StartPreview(startCtx, projectID, onError)
	if err != nil {
		c.UnsubscribePreview(projectID)
		return out.Error("Failed to start preview", err)
	}
	defer c.UnsubscribePreview(projectID)

	out.PrintText(func() {
		fmt.Printf("Preview running at %s (bridge %s)\n", info.URL, profile.Name)
		fmt.Println("Streaming dev-server errors. Press Ctrl+C to stop watching.")
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	<-sigs
	out.PrintText(func() { fmt.Println("\nStopped watching (preview keeps running)") })
	return nil
}
