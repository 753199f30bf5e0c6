package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// WarningItem summarizes one at-risk audio for the owner's notification.
// Rendering and templating happen in the notification service; this side
// only supplies structured content.
type WarningItem struct {
	AudioID    uuid.UUID `json:"audio_id"`
	Voice      string    `json:"voice"`
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Notifier delivers expiry warnings. The sweep groups records per owner so
// each actor receives exactly one batch per run.
type Notifier interface {
	SendWarningBatch(ctx context.Context, actorID uuid.UUID, items []WarningItem) error
}

// NopNotifier drops warning batches. Used when no notification endpoint is
// configured; the batch is still logged so the sweep stays observable.
type NopNotifier struct{}

func (NopNotifier) SendWarningBatch(_ context.Context, actorID uuid.UUID, items []WarningItem) error {
	slog.Info("no notifier configured, dropping expiry warnings", "actor_id", actorID, "items", len(items))
	return nil
}

// WebhookNotifier posts warning batches to the notification service as
// signed JSON.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type warningBatch struct {
	ActorID uuid.UUID     `json:"actor_id"`
	Event   string        `json:"event"`
	Items   []WarningItem `json:"items"`
}

func (n *WebhookNotifier) SendWarningBatch(ctx context.Context, actorID uuid.UUID, items []WarningItem) error {
	payload, err := json.Marshal(warningBatch{
		ActorID: actorID,
		Event:   "audio.expiry_warning",
		Items:   items,
	})
	if err != nil {
		return fmt.Errorf("marshal warning batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Event", "audio.expiry_warning")
	req.Header.Set("X-Notify-Signature", sign(payload, n.secret))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send warning batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
