package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

func TestConversationDocRejectsBadMembers(t *testing.T) {
	for _, members := range [][]string{nil, {"a"}, {"a", "a"}, {"a", ""}, {"a", "b", "c"}} {
		_, err := conversationDoc{Members: members}.toModel("c1")
		assert.True(t, apperr.HasCode(err, apperr.CodeParseFailed), "%v", members)
	}
}

func TestConversationDocToModel(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := conversationDoc{
		Members:       []string{"alice", "bob"},
		NextSeq:       3,
		LatestMessage: &latestDoc{Date: at, Text: "yo", Sender: "bob", MessageNumber: 2},
	}

	conv, err := doc.toModel("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", conv.ID)
	assert.Equal(t, "yo", conv.LatestMessage.Text)
	assert.Equal(t, int64(2), conv.LatestMessage.Sequence)
	assert.Equal(t, at, conv.LatestAt())
}

func TestAdvanceNeverGoesBackwards(t *testing.T) {
	doc := conversationDoc{Members: []string{"a", "b"}}

	assert.True(t, doc.advance(models.Message{Content: "two", Sequence: 2}))
	assert.False(t, doc.advance(models.Message{Content: "one", Sequence: 1}))
	assert.True(t, doc.advance(models.Message{Content: "two again", Sequence: 2}))
	assert.Equal(t, "two again", doc.LatestMessage.Text)
}

func TestMessageDocRoundTrip(t *testing.T) {
	m := models.Message{ID: "m1", ConversationID: "c1", SenderID: "a", Content: "hi", SentAt: time.Unix(10, 0).UTC(), Sequence: 4}

	got, err := messageFrom(m).toModel("m1", "c1")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = messageDoc{Content: "no sender"}.toModel("m2", "c1")
	assert.True(t, apperr.HasCode(err, apperr.CodeParseFailed))
}
