package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	trestleversion "github.com/trestle-dev/trestle/internal/version"
)

// Global variables for use across commands
var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// CommandResult pairs the JSON payload of a command with its human-readable
// rendering so handlers declare both once.
type CommandResult struct {
	Data          interface{}
	HumanReadable func() error
}

// Render outputs the result in the format selected by --json.
func (f *OutputFormatter) Render(result CommandResult) error {
	if f.jsonMode {
		return f.Print(result.Data)
	}
	if result.HumanReadable != nil {
		return result.HumanReadable()
	}
	return f.Print(result.Data)
}

// PrintText runs fn in human-readable mode only.
func (f *OutputFormatter) PrintText(fn func()) {
	if f.jsonMode {
		return
	}
	fn()
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
	} else {
		switch v := data.(type) {
		case string:
			fmt.Println(v)
		default:
			// Fallback to JSON for unknown types
			jsonBytes, _ := json.MarshalIndent(data, "", "  ")
			fmt.Println(string(jsonBytes))
		}
	}
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	return fmt.Errorf("%s: %w", message, err)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "trestle",
		Short: "Trestle - Session client for remote development bridges",
		Long: `Trestle connects to a development bridge over a single WebSocket link and
multiplexes projects, terminals, voice sessions and preview dev-servers
across it.

Bridge profiles (address plus optional token) are stored per instance;
add one with 'trestle bridge add' and every other command dials it.`,
	}
	rootCmd.Version = trestleversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("bridge", "", "Bridge profile to use (defaults to the stored default)")
	rootCmd.PersistentFlags().String("instance", "", "Instance name (defaults to 'default')")
}

func main() {
	rootCmd.AddCommand(
		newBridgeCommand(),
		newProjectsCommand(),
		newFileCommand(),
		newTerminalCommand(),
		newVoiceCommand(),
		newPreviewCommand(),
		newVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		// Error is already printed by command handlers
		os.Exit(1)
	}
}
