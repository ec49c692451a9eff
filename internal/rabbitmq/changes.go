package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// Dispatcher receives change events consumed from the broker.
type Dispatcher interface {
	Dispatch(ev models.ChangeEvent)
}

// ChangeBus carries change events between service instances. Every instance
// publishes to one topic exchange and consumes all of it through its own
// exclusive queue, so each local hub sees every change exactly as published.
type ChangeBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
	mu       sync.Mutex
}

func NewChangeBus(amqpURL, exchange string, log *zap.Logger) (*ChangeBus, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	conn, ch, err := dialExchange(amqpURL, exchange)
	if err != nil {
		return nil, fmt.Errorf("open change bus: %w", err)
	}
	return &ChangeBus{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

// ChangeRoutingKey is conversation.<scope>.<kind>.
func ChangeRoutingKey(ev models.ChangeEvent) string {
	return "conversation." + string(ev.Scope) + "." + string(ev.Kind)
}

func (b *ChangeBus) PublishChange(ctx context.Context, ev models.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(ctx, b.exchange, ChangeRoutingKey(ev), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

// Consume feeds broker deliveries into d until ctx is done or the broker closes
// the channel.
func (b *ChangeBus) Consume(ctx context.Context, d Dispatcher) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, "conversation.#", b.exchange, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}
	b.log.Info("change bus consuming", zap.String("queue", q.Name), zap.String("exchange", b.exchange))

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("change bus delivery channel closed")
			}
			ev, err := DecodeChange(delivery.Body)
			if err != nil {
				b.log.Warn("dropping undecodable change event", zap.Error(err))
				continue
			}
			d.Dispatch(ev)
		}
	}
}

// DecodeChange parses a broker payload and rejects events that cannot be routed.
func DecodeChange(body []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, err
	}
	if ev.ConversationID == "" {
		return ev, errors.New("change event has no conversation id")
	}
	switch ev.Scope {
	case models.ScopeMessage:
		if ev.Message == nil {
			return ev, errors.New("message event has no message")
		}
	case models.ScopeConversation:
	default:
		return ev, fmt.Errorf("unknown change scope %q", ev.Scope)
	}
	return ev, nil
}

func (b *ChangeBus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
