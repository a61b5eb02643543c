package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/trestle-dev/trestle/internal/config/store"
)

func newBridgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Manage bridge connection profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	add := &cobra.Command{
		Use:           "add <name> <address>",
		Short:         "Add or update a bridge profile",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          bridgeAdd,
	}
	add.Flags().String("token", "", "Auth token for the bridge (prompted when omitted)")
	add.Flags().Bool("no-token", false, "Skip the token prompt; the bridge needs no auth")
	add.Flags().Bool("default", false, "Make this profile the default")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List bridge profiles (tokens masked)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          bridgeList,
	}

	use := &cobra.Command{
		Use:           "use <name>",
		Short:         "Make a profile the default",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          bridgeUse,
	}

	remove := &cobra.Command{
		Use:           "remove <name>",
		Short:         "Remove a bridge profile",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          bridgeRemove,
	}

	cmd.AddCommand(add, list, use, remove)
	return cmd
}

func bridgeAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	name := strings.TrimSpace(args[0])
	address := strings.TrimSpace(args[1])

	token, _ := cmd.Flags().GetString("token")
	noToken, _ := cmd.Flags().GetBool("no-token")
	makeDefault, _ := cmd.Flags().GetBool("default")

	if !cmd.Flags().Changed("token") && !noToken {
		prompted, err := promptForToken()
		if err != nil {
			return out.Error("Failed to read token", err)
		}
		token = prompted
	}

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.SaveBridge(ctx, store.Bridge{
		Name:      name,
		Address:   address,
		Token:     token,
		IsDefault: makeDefault,
	}); err != nil {
		return out.Error("Failed to save bridge profile", err)
	}

	// Re-read: the first profile ever saved becomes the default implicitly.
	saved, err := st.GetBridge(ctx, name)
	if err != nil {
		return out.Error("Failed to read back bridge profile", err)
	}

	return out.Success(fmt.Sprintf("Bridge profile %s saved", name), map[string]interface{}{
		"name":    saved.Name,
		"address": saved.Address,
		"default": saved.IsDefault,
	})
}

// promptForToken reads a token without echoing it. A non-interactive stdin
// (pipes, CI) skips the prompt and stores an empty token.
func promptForToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Token (leave empty for none): ")
	raw, err := terminal.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func bridgeList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	bridges, err := st.ListBridges(context.Background())
	if err != nil {
		return out.Error("Failed to list bridge profiles", err)
	}

	list := make([]map[string]interface{}, 0, len(bridges))
	for _, b := range bridges {
		list = append(list, map[string]interface{}{
			"name":    b.Name,
			"address": b.Address,
			"default": b.IsDefault,
			"token":   maskToken(b.Token),
		})
	}

	return out.Render(CommandResult{
		Data: map[string]interface{}{"bridges": list},
		HumanReadable: func() error {
			if len(bridges) == 0 {
				fmt.Println("No bridge profiles configured")
				return nil
			}

			fmt.Println("Bridge profiles:")
			for _, b := range bridges {
				marker := " "
				if b.IsDefault {
					marker = "*"
				}
				fmt.Printf("%s %-16s %-32s token: %s\n", marker, b.Name, b.Address, maskToken(b.Token))
			}
			return nil
		},
	})
}

func bridgeUse(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	name := args[0]

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	if err := st.SetDefaultBridge(context.Background(), name); err != nil {
		if store.IsNotFound(err) {
			return out.Error(fmt.Sprintf("Bridge profile %s not found", name), err)
		}
		return out.Error("Failed to set default bridge", err)
	}

	return out.Success(fmt.Sprintf("Default bridge set to %s", name), map[string]interface{}{
		"name": name,
	})
}

func bridgeRemove(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	name := args[0]

	st, err := openStore(cmd)
	if err != nil {
		return out.Error("Failed to open configuration store", err)
	}
	defer st.Close()

	if err := st.DeleteBridge(context.Background(), name); err != nil {
		if store.IsNotFound(err) {
			return out.Error(fmt.Sprintf("Bridge profile %s not found", name), err)
		}
		return out.Error("Failed to remove bridge profile", err)
	}

	return out.Success(fmt.Sprintf("Bridge profile %s removed", name), map[string]interface{}{
		"name": name,
	})
}
