package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trestle-dev/trestle/internal/bridge"
)

func newProjectsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "projects",
		Short:         "Manage projects on the bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          projectsList,
	}

	create := &cobra.Command{
		Use:           "create <name>",
		Short:         "Create a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          projectsCreate,
	}

	remove := &cobra.Command{
		Use:           "delete <project-id>",
		Short:         "Delete a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          projectsDelete,
	}

	cmd.AddCommand(list, create, remove)
	return cmd
}

func projectsList(cmd *cobra.Command, args []string) error {
	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		projects, err := c.ListProjects(ctx)
		if err != nil {
			return out.Error("Failed to list projects", err)
		}

		list := make([]map[string]interface{}, 0, len(projects))
		for _, p := range projects {
			entry := map[string]interface{}{
				"id":   p.ID,
				"name": p.Name,
			}
			if p.Path != "" {
				entry["path"] = p.Path
			}
			if p.CreatedAt != "" {
				entry["created_at"] = p.CreatedAt
			}
			list = append(list, entry)
		}

		return out.Render(CommandResult{
			Data: map[string]interface{}{"projects": list},
			HumanReadable: func() error {
				if len(projects) == 0 {
					fmt.Println("No projects")
					return nil
				}

				fmt.Println("Projects:")
				for _, p := range projects {
					fmt.Printf("  %-24s %s\n", p.ID, p.Name)
				}
				return nil
			},
		})
	})
}

func projectsCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		project, err := c.CreateProject(ctx, name)
		if err != nil {
			return out.Error("Failed to create project", err)
		}

		return out.Success(fmt.Sprintf("Project %s created", project.Name), map[string]interface{}{
			"id":   project.ID,
			"name": project.Name,
		})
	})
}

func projectsDelete(cmd *cobra.Command, args []string) error {
	projectID := args[0]
	return withBridgeClient(cmd, callTimeout, func(ctx context.Context, c *bridge.Client, out *OutputFormatter) error {
		if err := c.DeleteProject(ctx, projectID); err != nil {
			return out.Error(fmt.Sprintf("Failed to delete project %s", projectID), err)
		}

		return out.Success(fmt.Sprintf("Project %s deleted", projectID), map[string]interface{}{
			"id": projectID,
		})
	})
}
