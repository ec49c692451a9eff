package push

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"firebase.google.com/go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

type recordingSender struct {
	sent []*messaging.Message
}

func (r *recordingSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	r.sent = append(r.sent, m)
	return "projects/x/messages/1", nil
}

func TestNotifyMessageTargetsRecipientTopic(t *testing.T) {
	rec := &recordingSender{}
	n := &FCMNotifier{client: rec}

	err := n.NotifyMessage(context.Background(), "bob", models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi", Sequence: 7})
	require.NoError(t, err)

	require.Len(t, rec.sent, 1)
	msg := rec.sent[0]
	assert.Equal(t, "user-bob", msg.Topic)
	assert.Equal(t, "hi", msg.Notification.Body)
	assert.Equal(t, "c1", msg.Data["conversation_id"])
	assert.Equal(t, "7", msg.Data["message_number"])
}

func TestPreviewTruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("é", 500)

	got := preview(long)

	assert.Equal(t, previewLength, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, "short", preview("short"))
}
