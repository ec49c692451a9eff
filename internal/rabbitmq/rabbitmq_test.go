package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/telemetry"
)

func TestNewPublisherFallsBackToNoop(t *testing.T) {
	p := NewPublisher("", "chat.audit", nil)

	mode, reason := Describe(p)
	assert.Equal(t, "noop", mode)
	assert.Equal(t, "empty amqp url", reason)
	assert.NoError(t, p.Publish(context.Background(), "audit", telemetry.AuditEnvelope{EventType: "audit_log"}))
	assert.NoError(t, p.Close())
}

type failingChannel struct {
	published []amqp.Publishing
}

func (c *failingChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	c.published = append(c.published, msg)
	return errors.New("channel closed")
}

func (c *failingChannel) Close() error { return nil }

func publishErrors(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "chatsync_amqp_publish_errors_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestPublishFailureIsCounted(t *testing.T) {
	ch := &failingChannel{}
	p := &amqpPublisher{ch: ch, exchange: "chat.audit", log: zap.NewNop()}
	before := publishErrors(t)

	err := p.Publish(context.Background(), "audit", telemetry.AuditEnvelope{EventType: "audit_log"})

	assert.Error(t, err)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, before+1, publishErrors(t))
}

func TestNewChangeBusRequiresURL(t *testing.T) {
	_, err := NewChangeBus("", "chat.changes", nil)
	assert.Error(t, err)
}

func TestChangeRoutingKey(t *testing.T) {
	c := models.Conversation{ID: "c1", Members: []string{"a", "b"}}

	assert.Equal(t, "conversation.message.added", ChangeRoutingKey(models.MessageAdded(c, models.Message{ID: "m1"})))
	assert.Equal(t, "conversation.conversation.removed", ChangeRoutingKey(models.ConversationChanged(models.ChangeRemoved, c)))
}

func TestDecodeChange(t *testing.T) {
	c := models.Conversation{ID: "c1", Members: []string{"a", "b"}}
	ev := models.MessageAdded(c, models.Message{ID: "m1", ConversationID: "c1", Content: "hi", SentAt: time.Unix(5, 0).UTC(), Sequence: 3})
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := DecodeChange(body)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Message.Sequence)
	assert.Equal(t, []string{"a", "b"}, got.Members)

	for _, raw := range []string{
		`not json`,
		`{"type":"added","scope":"message","conversation_id":"c1"}`,
		`{"type":"added","scope":"conversation"}`,
		`{"type":"added","scope":"galaxy","conversation_id":"c1"}`,
	} {
		_, err := DecodeChange([]byte(raw))
		assert.Error(t, err, raw)
	}
}
