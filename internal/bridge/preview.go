package bridge

import (
	"context"

	"github.com/trestle-dev/trestle/internal/wire"
)

// PreviewError is one classified dev-server log line, scoped to a project.
type PreviewError struct {
	ProjectID string
	Message   string
	Kind      string
}

// PreviewInfo reports the preview dev-server state for a project.
type PreviewInfo struct {
	ProjectID string
	Running   bool
	URL       string
}

// StartPreview launches the project's preview dev-server and subscribes
// onError to its classified error stream. The subscription is installed
// before the call goes out and outlives the call's resolution: it stays
// active until UnsubscribePreview or a later StartPreview for the same
// project replaces it.
func (c *Client) StartPreview(ctx context.Context, projectID string, onError func(PreviewError)) (PreviewInfo, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return PreviewInfo{}, ErrClientClosed
	}
	if onError != nil {
		c.previews[projectID] = onError
	}
	c.mu.Unlock()

	env, err := c.call(ctx, wire.TypePreviewStart, wire.PreviewStart{
		Type:      wire.TypePreviewStart,
		ProjectID: projectID,
	}, c.longTimeout, nil)
	if err != nil {
		// The subscription survives a failed start on purpose: the dev-server
		// may emit classified errors explaining why it never came up.
		return PreviewInfo{}, err
	}

	c.logger.Printf("[Bridge] Preview started for project %s", projectID)
	return PreviewInfo{ProjectID: projectID, Running: true, URL: env.URL}, nil
}

// StopPreview stops the project's preview dev-server. The error subscription,
// if any, stays installed; remove it with UnsubscribePreview.
func (c *Client) StopPreview(ctx context.Context, projectID string) error {
	_, err := c.call(ctx, wire.TypePreviewStop, wire.PreviewStop{
		Type:      wire.TypePreviewStop,
		ProjectID: projectID,
	}, c.shortTimeout, nil)
	return err
}

// PreviewStatus queries the preview dev-server state.
func (c *Client) PreviewStatus(ctx context.Context, projectID string) (PreviewInfo, error) {
	env, err := c.call(ctx, wire.TypePreviewStatus, wire.PreviewStatusRequest{
		Type:      wire.TypePreviewStatus,
		ProjectID: projectID,
	}, c.shortTimeout, nil)
	if err != nil {
		return PreviewInfo{}, err
	}
	return PreviewInfo{ProjectID: projectID, Running: env.Running, URL: env.URL}, nil
}

// UnsubscribePreview removes the error subscription for a project. Late
// preview_error frames for it are dropped silently afterwards.
func (c *Client) UnsubscribePreview(projectID string) {
	c.mu.Lock()
	delete(c.previews, projectID)
	c.mu.Unlock()
}
