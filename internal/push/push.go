// Package push hands new-message notifications to Firebase Cloud Messaging.
// Devices subscribe to their user's topic; delivery is FCM's concern.
package push

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"

	"chat-sync/internal/models"
)

const previewLength = 120

// Notifier tells a recipient about a message they have not seen yet.
type Notifier interface {
	NotifyMessage(ctx context.Context, recipient string, m models.Message) error
}

type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier publishes one notification per recipient topic.
type FCMNotifier struct {
	client sender
}

func NewFCMNotifier(ctx context.Context, app *firebase.App) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging client: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

// Topic is the FCM topic a user's devices subscribe to.
func Topic(userID string) string {
	return "user-" + userID
}

func (n *FCMNotifier) NotifyMessage(ctx context.Context, recipient string, m models.Message) error {
	_, err := n.client.Send(ctx, &messaging.Message{
		Topic: Topic(recipient),
		Notification: &messaging.Notification{
			Title: "New message",
			Body:  preview(m.Content),
		},
		Data: map[string]string{
			"conversation_id": m.ConversationID,
			"message_id":      m.ID,
			"sender":          m.SenderID,
			"message_number":  strconv.FormatInt(m.Sequence, 10),
		},
	})
	return err
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:previewLength-1]) + "…"
}

// Noop drops every notification.
type Noop struct{}

func (Noop) NotifyMessage(context.Context, string, models.Message) error { return nil }
