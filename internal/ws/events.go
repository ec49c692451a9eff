package ws

import (
	"context"
	"time"

	"chat-sync/internal/observability"
)

const (
	kindConversation = "conversation"
	kindInbox        = "inbox"
)

// publishLifecycle records a connect, disconnect or error of a subscription socket.
func publishLifecycle(ctx context.Context, kind, resourceID, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(kind, event)

	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, routingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"resource_id": resourceID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}

func routingKey(kind string) string {
	if kind == kindInbox {
		return "ws_events.inbox"
	}
	return "ws_events.conversations"
}
