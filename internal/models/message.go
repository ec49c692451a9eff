package models

import (
	"sort"
	"strings"
	"time"
)

// Message is an immutable entry of a conversation's log. Sequence is allocated by
// the store at append time and is the canonical order.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender"`
	Content        string    `db:"content" json:"content"`
	SentAt         time.Time `db:"sent_at" json:"sent_date"`
	Sequence       int64     `db:"seq" json:"message_number"`
}

// MessageDraft is what a sender submits. ID doubles as the idempotency key.
type MessageDraft struct {
	ID      string    `json:"id,omitempty"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at,omitempty"`
}

// Blank reports whether the draft carries no visible text.
func (d MessageDraft) Blank() bool {
	return strings.TrimSpace(d.Content) == ""
}

// SortMessages orders messages by sequence, then send time, then id.
// The sort is stable so equal keys keep the store's order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if !a.SentAt.Equal(b.SentAt) {
			return a.SentAt.Before(b.SentAt)
		}
		return a.ID < b.ID
	})
}
