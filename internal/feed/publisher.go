package feed

import (
	"context"

	"chat-sync/internal/models"
)

// Publisher hands change events to the fan-out, locally or through a broker.
type Publisher interface {
	PublishChange(ctx context.Context, ev models.ChangeEvent) error
}

// LocalPublisher dispatches straight into an in-process hub.
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) PublishChange(_ context.Context, ev models.ChangeEvent) error {
	p.hub.Dispatch(ev)
	return nil
}
