package domain

import "context"

// Notification event names, used for per-channel filtering.
const (
	NotifyPositionOpened = "position_opened"
	NotifyStopLoss       = "stop_loss"
	NotifyExpired        = "expired"
	NotifyManualClose    = "manual_close"
	NotifyMilestone      = "milestone"
)

// Attachment is a file sent alongside an alert.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Alert is an outbound human-facing notification.
type Alert struct {
	Title      string
	Caption    string
	Attachment *Attachment
}

// AlertNotifier delivers alerts. Delivery is best-effort: callers log the
// error and carry on.
type AlertNotifier interface {
	Notify(ctx context.Context, event string, alert Alert) error
}
