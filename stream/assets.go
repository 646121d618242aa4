package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookPurger notifies the asset service over HTTP. Each purge is a POST of
// a JSON body {"scope": "world"|"entity", "worldId": ..., "entityId": ...}.
// Any 2xx or 404 response counts as done.
type WebhookPurger struct {
	endpoint string
	client   *http.Client
}

// NewWebhookPurger creates a WebhookPurger posting to endpoint. A nil client
// uses one with a 10 second timeout.
func NewWebhookPurger(endpoint string, client *http.Client) *WebhookPurger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPurger{endpoint: endpoint, client: client}
}

type purgeRequest struct {
	Scope    string `json:"scope"`
	WorldID  string `json:"worldId"`
	EntityID string `json:"entityId,omitempty"`
}

// PurgeWorld implements AssetPurger.
func (w *WebhookPurger) PurgeWorld(ctx context.Context, worldID string) error {
	return w.post(ctx, purgeRequest{Scope: "world", WorldID: worldID})
}

// PurgeEntity implements AssetPurger.
func (w *WebhookPurger) PurgeEntity(ctx context.Context, worldID, entityID string) error {
	return w.post(ctx, purgeRequest{Scope: "entity", WorldID: worldID, EntityID: entityID})
}

func (w *WebhookPurger) post(ctx context.Context, body purgeRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post purge request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode/100 == 2 {
		return nil
	}
	return fmt.Errorf("asset service returned %s", resp.Status)
}

// LogPurger only logs purges. It is used when no asset service is configured.
type LogPurger struct {
	Logger *slog.Logger
}

func (l LogPurger) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// PurgeWorld implements AssetPurger.
func (l LogPurger) PurgeWorld(ctx context.Context, worldID string) error {
	l.logger().InfoContext(ctx, "no asset service configured, skipping world purge", "worldID", worldID)
	return nil
}

// PurgeEntity implements AssetPurger.
func (l LogPurger) PurgeEntity(ctx context.Context, worldID, entityID string) error {
	l.logger().InfoContext(ctx, "no asset service configured, skipping entity purge",
		"worldID", worldID, "entityID", entityID)
	return nil
}
