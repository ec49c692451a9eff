package feed

import (
	"sort"

	"chat-sync/internal/models"
)

// Inbox is a consumer-side view of a user's conversation list. Duplicate and
// stale events leave it unchanged.
type Inbox struct {
	items map[string]models.Conversation
}

func NewInbox() *Inbox {
	return &Inbox{items: make(map[string]models.Conversation)}
}

// Apply folds a conversation event into the view and reports whether it changed.
func (i *Inbox) Apply(ev models.ChangeEvent) bool {
	if ev.Scope != models.ScopeConversation {
		return false
	}
	switch ev.Kind {
	case models.ChangeRemoved:
		if _, ok := i.items[ev.ConversationID]; !ok {
			return false
		}
		delete(i.items, ev.ConversationID)
		return true
	case models.ChangeAdded, models.ChangeModified:
		if ev.Conversation == nil {
			return false
		}
		return i.upsert(*ev.Conversation)
	}
	return false
}

func (i *Inbox) upsert(c models.Conversation) bool {
	current, ok := i.items[c.ID]
	if ok && !newer(c.LatestMessage, current.LatestMessage) {
		return false
	}
	i.items[c.ID] = c
	return true
}

func newer(next, current *models.LatestMessage) bool {
	switch {
	case next == nil:
		return false
	case current == nil:
		return true
	default:
		return next.Sequence > current.Sequence
	}
}

// Conversations returns the view ordered by latest activity, newest first.
func (i *Inbox) Conversations() []models.Conversation {
	out := make([]models.Conversation, 0, len(i.items))
	for _, c := range i.items {
		out = append(out, c)
	}
	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := out[a].LatestAt(), out[b].LatestAt()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (i *Inbox) Len() int {
	return len(i.items)
}
