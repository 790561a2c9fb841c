package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/optionbot/internal/domain"
)

// telegramCaptionLimit is the Bot API cap on document captions.
const telegramCaptionLimit = 1024

// TelegramSender delivers alerts via the Telegram Bot API: sendMessage for
// plain alerts, sendDocument when the alert carries an attachment.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender with a 10-second HTTP timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramSender) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
}

// Send posts alert to the configured chat. The title is bold.
func (t *TelegramSender) Send(ctx context.Context, alert domain.Alert) error {
	text := formatHTML(alert)
	if alert.Attachment != nil {
		return t.sendDocument(ctx, text, alert.Attachment)
	}

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}
	if err := post(ctx, t.client, t.endpoint("sendMessage"), "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	return nil
}

func (t *TelegramSender) sendDocument(ctx context.Context, caption string, att *domain.Attachment) error {
	if r := []rune(caption); len(r) > telegramCaptionLimit {
		caption = string(r[:telegramCaptionLimit])
	}
	body, ct, err := multipartBody([][2]string{
		{"chat_id", t.chatID},
		{"caption", caption},
		{"parse_mode", "HTML"},
	}, "document", att)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if err := post(ctx, t.client, t.endpoint("sendDocument"), ct, body); err != nil {
		return fmt.Errorf("telegram: sendDocument: %w", err)
	}
	return nil
}

func formatHTML(alert domain.Alert) string {
	var b strings.Builder
	if alert.Title != "" {
		b.WriteString("<b>" + html.EscapeString(alert.Title) + "</b>")
		if alert.Caption != "" {
			b.WriteString("\n")
		}
	}
	b.WriteString(html.EscapeString(alert.Caption))
	return b.String()
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
