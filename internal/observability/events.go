package observability

import (
	"context"
	"sync"
	"time"
)

// EventPublisher delivers lifecycle events to the events exchange.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

var (
	publisherMu    sync.RWMutex
	eventPublisher EventPublisher
)

// SetEventPublisher installs the process-wide publisher. nil disables publishing.
func SetEventPublisher(p EventPublisher) {
	publisherMu.Lock()
	eventPublisher = p
	publisherMu.Unlock()
}

// PublishEvent stamps env and hands it to the installed publisher.
func PublishEvent(ctx context.Context, routingKey string, env EventEnvelope) error {
	publisherMu.RLock()
	p := eventPublisher
	publisherMu.RUnlock()
	if p == nil {
		return nil
	}

	if env.OccurredAt == "" {
		env.OccurredAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return p.Publish(ctx, routingKey, env)
}
