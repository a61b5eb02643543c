package bridge

import (
	"context"

	"github.com/trestle-dev/trestle/internal/wire"
)

// ListProjects fetches the current project list from the bridge.
func (c *Client) ListProjects(ctx context.Context) ([]wire.Project, error) {
	env, err := c.call(ctx, wire.TypeListProjects, wire.ListProjects{
		Type: wire.TypeListProjects,
	}, c.shortTimeout, nil)
	if err != nil {
		return nil, err
	}
	return env.Projects, nil
}

// CreateProject asks the bridge to scaffold a new project and returns its
// metadata.
func (c *Client) CreateProject(ctx context.Context, name string) (wire.Project, error) {
	env, err := c.call(ctx, wire.TypeCreateProject, wire.CreateProject{
		Type:        wire.TypeCreateProject,
		ProjectName: name,
	}, c.shortTimeout, nil)
	if err != nil {
		return wire.Project{}, err
	}
	if env.Project == nil {
		return wire.Project{}, nil
	}
	return *env.Project, nil
}

// DeleteProject removes a project and everything it owns.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	_, err := c.call(ctx, wire.TypeDeleteProject, wire.DeleteProject{
		Type:      wire.TypeDeleteProject,
		ProjectID: projectID,
	}, c.shortTimeout, nil)
	return err
}

// GetFileContent reads one file from a project tree.
func (c *Client) GetFileContent(ctx context.Context, projectID, filePath string) (string, error) {
	env, err := c.call(ctx, wire.TypeGetFileContent, wire.GetFileContent{
		Type:      wire.TypeGetFileContent,
		ProjectID: projectID,
		FilePath:  filePath,
	}, c.shortTimeout, nil)
	if err != nil {
		return "", err
	}
	return env.Content, nil
}

// WriteFile replaces one file in a project tree.
func (c *Client) WriteFile(ctx context.Context, projectID, filePath, content string) error {
	_, err := c.call(ctx, wire.TypeWriteFile, wire.WriteFile{
		Type:      wire.TypeWriteFile,
		ProjectID: projectID,
		FilePath:  filePath,
		Content:   content,
	}, c.shortTimeout, nil)
	return err
}
