package models

import "time"

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

type ChangeScope string

const (
	ScopeMessage      ChangeScope = "message"
	ScopeConversation ChangeScope = "conversation"
)

// ChangeEvent describes one document change delivered to subscribers.
type ChangeEvent struct {
	Kind           ChangeKind    `json:"type"`
	Scope          ChangeScope   `json:"scope"`
	ConversationID string        `json:"conversation_id"`
	Members        []string      `json:"members,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	At             time.Time     `json:"at"`
}

// MessageAdded builds the event for a newly appended message.
func MessageAdded(c Conversation, m Message) ChangeEvent {
	return ChangeEvent{
		Kind:           ChangeAdded,
		Scope:          ScopeMessage,
		ConversationID: c.ID,
		Members:        c.Members,
		Message:        &m,
		At:             time.Now().UTC(),
	}
}

// ConversationChanged builds a conversation-scope event.
func ConversationChanged(kind ChangeKind, c Conversation) ChangeEvent {
	return ChangeEvent{
		Kind:           kind,
		Scope:          ScopeConversation,
		ConversationID: c.ID,
		Members:        c.Members,
		Conversation:   &c,
		At:             time.Now().UTC(),
	}
}
