package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationKeyIsOrderIndependent(t *testing.T) {
	ab := ConversationKey("alice", "bob")

	assert.Equal(t, ab, ConversationKey("bob", "alice"))
	assert.NotEqual(t, ab, ConversationKey("alice", "carol"))
	// the separator keeps ("ab","c") and ("a","bc") apart
	assert.NotEqual(t, ConversationKey("ab", "c"), ConversationKey("a", "bc"))
}

func TestSortMessagesBySequence(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", Sequence: 2, SentAt: base},
		{ID: "a", Sequence: 0, SentAt: base.Add(time.Hour)},
		{ID: "b", Sequence: 1, SentAt: base.Add(-time.Hour)},
	}

	SortMessages(msgs)

	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestSortMessagesTieBreak(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "y", Sequence: 4, SentAt: base.Add(time.Second)},
		{ID: "x2", Sequence: 4, SentAt: base},
		{ID: "x1", Sequence: 4, SentAt: base},
	}

	SortMessages(msgs)

	assert.Equal(t, []string{"x1", "x2", "y"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestWithLatestIgnoresOlderMessages(t *testing.T) {
	c := Conversation{ID: "c1", Members: []string{"a", "b"}}
	c = c.WithLatest(Message{Content: "second", Sequence: 1})
	c = c.WithLatest(Message{Content: "first", Sequence: 0})

	assert.Equal(t, "second", c.LatestMessage.Text)
	assert.Equal(t, "b", c.Peer("a"))
	assert.True(t, c.HasMember("b"))
	assert.False(t, c.HasMember("z"))
}

func TestDraftBlank(t *testing.T) {
	assert.True(t, MessageDraft{Content: " \n\t "}.Blank())
	assert.False(t, MessageDraft{Content: " hi "}.Blank())
}
