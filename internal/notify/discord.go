package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// DiscordSender delivers alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender with a 10-second HTTP timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts alert to the webhook, as JSON or, with an attachment, as a
// multipart form carrying payload_json and the file.
func (d *DiscordSender) Send(ctx context.Context, alert domain.Alert) error {
	content := alert.Caption
	if alert.Title != "" {
		content = fmt.Sprintf("**%s**\n%s", alert.Title, alert.Caption)
	}
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	if alert.Attachment == nil {
		if err := post(ctx, d.client, d.webhookURL, "application/json", bytes.NewReader(payload)); err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		return nil
	}

	body, ct, err := multipartBody([][2]string{{"payload_json", string(payload)}}, "files[0]", alert.Attachment)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	if err := post(ctx, d.client, d.webhookURL, ct, body); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
