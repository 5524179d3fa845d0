package services

import (
	"context"
	"fmt"

	"github.com/escrowdesk/backend/internal/events"
	"github.com/escrowdesk/backend/internal/models"
	"go.uber.org/zap"
)

// Notifier delivers a text message to a Telegram user.
type Notifier interface {
	SendNotification(ctx context.Context, telegramUserID int64, text string) error
}

// NotifyForwarder turns deal events into bot messages for their recipients.
type NotifyForwarder struct {
	notifier Notifier
	log      *zap.Logger
}

func NewNotifyForwarder(notifier Notifier, log *zap.Logger) *NotifyForwarder {
	return &NotifyForwarder{notifier: notifier, log: log}
}

// Forward sends one message per recipient and returns how many were delivered.
// Events without recipients or text are skipped.
func (f *NotifyForwarder) Forward(ctx context.Context, event events.Event) int {
	text := NotificationText(event)
	if text == "" {
		return 0
	}

	sent := 0
	for _, id := range events.Recipients(event.Payload) {
		if err := f.notifier.SendNotification(ctx, id, text); err != nil {
			f.log.Warn("failed to forward notification",
				zap.String("type", event.Type),
				zap.Int64("telegram_user_id", id),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

// NotificationText is the message for event: its own text when set, otherwise
// a summary for status changes and new deals.
func NotificationText(event events.Event) string {
	if text, _ := event.Payload["text"].(string); text != "" {
		return text
	}
	id := payloadDealID(event.Payload)
	switch event.Type {
	case events.EventDealCreated:
		return fmt.Sprintf("Deal #%d was created. Open it to review the terms.", id)
	case events.EventDealStatusChanged:
		// deposit_verified carries its own message for the same change
		if op, _ := event.Payload["op"].(string); op == models.OpVerifyDeposit {
			return ""
		}
		status, _ := event.Payload["new_status"].(string)
		if status == "" {
			return ""
		}
		return fmt.Sprintf("Deal #%d is now %s.", id, status)
	}
	return ""
}

func payloadDealID(payload map[string]any) int64 {
	switch v := payload["deal_id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}
