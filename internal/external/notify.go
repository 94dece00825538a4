package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"upkeep/internal/types"
)

// NotifyClient posts NotificationRequests to the external notification
// service over HTTP. It is the direct-delivery alternative to the queue
// publisher, selected via the NOTIFY_DRIVER configuration, and implements
// types.Notifier.
type NotifyClient struct {
	base    *Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// Compile-time assertion that NotifyClient implements types.Notifier.
var _ types.Notifier = (*NotifyClient)(nil)

// NewNotifyClient creates a NotifyClient targeting the notification
// service at baseURL.
func NewNotifyClient(base *Client, baseURL, apiKey string, logger *slog.Logger) *NotifyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyClient{
		base:    base,
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger,
	}
}

// Notify POSTs the request to /internal/notifications. Delivery is
// fire-and-forget from the engine's perspective; any failure is reported as
// a collaborator error for the caller to log and swallow.
func (c *NotifyClient) Notify(ctx context.Context, req types.NotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("notify client: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify client: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return types.NewAppError(types.ErrCodeCollaboratorNotify,
			fmt.Sprintf("notification service returned %d", resp.StatusCode), nil)
	}

	c.logger.InfoContext(ctx, "notification delivered",
		"user_id", req.UserID,
		"level", string(req.Level),
	)
	return nil
}
