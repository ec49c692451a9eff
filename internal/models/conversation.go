package models

import (
	"time"

	"github.com/google/uuid"
)

// conversationNamespace seeds the deterministic conversation ids.
var conversationNamespace = uuid.MustParse("6f1c3a2e-9b7d-4e15-8a43-2d5c7b9e0f11")

// Conversation is the single private thread between two distinct users.
type Conversation struct {
	ID            string         `json:"id"`
	Members       []string       `json:"members"`
	LatestMessage *LatestMessage `json:"latest_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// LatestMessage is the denormalized summary of the highest-sequence message.
type LatestMessage struct {
	SentAt   time.Time `json:"date"`
	Text     string    `json:"text"`
	SenderID string    `json:"sender"`
	Sequence int64     `json:"message_number"`
}

// HasMember reports whether userID takes part in the conversation.
func (c Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Peer returns the member that is not userID.
func (c Conversation) Peer(userID string) string {
	for _, m := range c.Members {
		if m != userID {
			return m
		}
	}
	return ""
}

// SortedPair orders two user ids so that the pair is independent of argument order.
func SortedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ConversationKey derives the conversation id for an unordered pair of users.
// The same pair always yields the same id, so creation can be an idempotent upsert.
func ConversationKey(a, b string) string {
	lo, hi := SortedPair(a, b)
	return uuid.NewSHA1(conversationNamespace, []byte(lo+"\x00"+hi)).String()
}

// Summary builds the latest-message projection of m.
func Summary(m Message) *LatestMessage {
	return &LatestMessage{
		SentAt:   m.SentAt,
		Text:     m.Content,
		SenderID: m.SenderID,
		Sequence: m.Sequence,
	}
}

// WithLatest returns a copy of c whose summary reflects m when m is not older
// than the current summary.
func (c Conversation) WithLatest(m Message) Conversation {
	if c.LatestMessage == nil || m.Sequence >= c.LatestMessage.Sequence {
		c.LatestMessage = Summary(m)
	}
	return c
}

// LatestAt is the sort key of conversation lists.
func (c Conversation) LatestAt() time.Time {
	if c.LatestMessage != nil {
		return c.LatestMessage.SentAt
	}
	return c.CreatedAt
}
