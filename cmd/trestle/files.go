package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trestle-dev/trestle/internal/bridge"
)

// maxWriteFileSize guards against accidentally shipping huge blobs through
// the content frames, which are JSON strings on the wire.
const maxWriteFileSize = 16 * 1024 * 1024

func newFileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "file",
		Short:         "Read and write project files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cat := &cobra.Command{
		Use:           "cat <project-id> <path>",
		Short:         "Print a project file to stdout",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          fileCat,
	}

	write := &cobra.Command{
		Use:           "write <project-id> <path>",
		Short:         "Write a project file from stdin or a local file",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          fileWrite,
	}
	write.Flags().String("from", "", "Read content from a local file instead of stdin")

	cmd.AddCommand(cat, write)
	return cmd
}

func fileCat(cmd *cobra.Command, args []string) error {
	projectID, filePath := args[0], args[1]

	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		content, err := c.GetFileContent(ctx, projectID, filePath)
		if err != nil {
			return out.Error(fmt.Sprintf("Failed to read %s", filePath), err)
		}

		if out.jsonMode {
			return out.Print(map[string]interface{}{
				"project_id": projectID,
				"path":       filePath,
				"content":    content,
			})
		}

		// Raw content so the output pipes cleanly.
		fmt.Print(content)
		if !strings.HasSuffix(content, "\n") {
			fmt.Println()
		}
		return nil
	})
}

func fileWrite(cmd *cobra.Command, args []string) error {
	projectID, filePath := args[0], args[1]
	fromPath, _ := cmd.Flags().GetString("from")

	out := newOutputFormatter(cmd)
	content, source, err := readWriteContent(fromPath)
	if err != nil {
		return out.Error("Failed to read content", err)
	}

	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		if err := c.WriteFile(ctx, projectID, filePath, content); err != nil {
			return out.Error(fmt.Sprintf("Failed to write %s", filePath), err)
		}

		return out.Success(fmt.Sprintf("Wrote %d bytes to %s", len(content), filePath), map[string]interface{}{
			"project_id": projectID,
			"path":       filePath,
			"bytes":      len(content),
			"source":     source,
		})
	})
}

// readWriteContent loads the payload for 'file write' from --from or stdin.
func readWriteContent(fromPath string) (content, source string, err error) {
	if fromPath == "" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, maxWriteFileSize+1))
		if err != nil {
			return "", "", err
		}
		if len(data) > maxWriteFileSize {
			return "", "", fmt.Errorf("stdin content exceeds %d bytes", maxWriteFileSize)
		}
		return string(data), "stdin", nil
	}

	info, err := os.Stat(fromPath)
	if err != nil {
		return "", "", err
	}
	if info.Size() > maxWriteFileSize {
		return "", "", fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxWriteFileSize)
	}

	data, err := os.ReadFile(filepath.Clean(fromPath))
	if err != nil {
		return "", "", err
	}
	return string(data), fromPath, nil
}
