package payments

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/redis"
)

// webhookGuardTTL bounds how long a processed event id blocks replays. The
// gateway retries failed deliveries for days, so the window is generous.
const webhookGuardTTL = 7 * 24 * time.Hour

// WebhookGuard deduplicates gateway webhook deliveries by event id.
type WebhookGuard struct {
	client *redis.Client
}

// NewWebhookGuard builds the redis-backed delivery guard.
func NewWebhookGuard(client *redis.Client) (*WebhookGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &WebhookGuard{client: client}, nil
}

// CheckAndMark returns true when the event was already processed. A fresh
// event is marked before the handler runs; the caller unmarks on failure so
// the gateway's retry can land.
func (g *WebhookGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key := g.client.IdempotencyKey("webhook", eventID)
	stored, err := g.client.SetNX(ctx, key, "1", webhookGuardTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark webhook event")
	}
	return !stored, nil
}

// Delete removes the processed marker so a retried delivery is handled again.
func (g *WebhookGuard) Delete(ctx context.Context, eventID string) error {
	return g.client.Del(ctx, g.client.IdempotencyKey("webhook", eventID))
}
