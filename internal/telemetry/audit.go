// Package telemetry emits audit records for actions that change or remove
// conversation state.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const schemaVersion = 2

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Record is one auditable action. RequestID falls back to the id carried by ctx.
type Record struct {
	Level      string
	Action     string
	ActorID    string
	ResourceID string
	RequestID  string
	Detail     string
}

type AuditEnvelope struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	Service       string    `json:"service"`
	Environment   string    `json:"environment"`
	RequestID     string    `json:"request_id,omitempty"`
	ActorID       string    `json:"actor_id,omitempty"`
	Action        string    `json:"action"`
	ResourceID    string    `json:"resource_id,omitempty"`
	Level         string    `json:"level"`
	Detail        string    `json:"detail,omitempty"`
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// Emit publishes r. Failures are logged and never returned.
func (e *AuditEmitter) Emit(ctx context.Context, r Record) {
	if e == nil || e.publisher == nil {
		return
	}
	if r.RequestID == "" {
		r.RequestID = RequestID(ctx)
	}
	if r.Level == "" {
		r.Level = "INFO"
	}

	env := AuditEnvelope{
		SchemaVersion: schemaVersion,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC(),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     r.RequestID,
		ActorID:       r.ActorID,
		Action:        r.Action,
		ResourceID:    r.ResourceID,
		Level:         r.Level,
		Detail:        r.Detail,
	}
	e.log.Info("audit",
		zap.String("action", env.Action),
		zap.String("actor_id", env.ActorID),
		zap.String("resource_id", env.ResourceID),
		zap.String("request_id", env.RequestID))

	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", env.Action), zap.Error(err))
	}
}

type requestIDKey struct{}

// WithRequestID stores the request id for layers below the HTTP handlers.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
