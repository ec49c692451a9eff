package feed

import "chat-sync/internal/models"

// Timeline is a consumer-side view of one conversation's log. Applying the same
// message twice leaves it unchanged.
type Timeline struct {
	conversationID string
	messages       map[string]models.Message
	floor          int64
	lastSeq        int64
}

// NewTimeline starts a view that already holds everything up to afterSeq.
func NewTimeline(conversationID string, afterSeq int64) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		messages:       make(map[string]models.Message),
		floor:          afterSeq,
		lastSeq:        afterSeq,
	}
}

// Add records m and reports whether it was new to the view. Messages at or
// below the starting sequence are already held and are dropped.
func (t *Timeline) Add(m models.Message) bool {
	if m.ConversationID != "" && m.ConversationID != t.conversationID {
		return false
	}
	if m.Sequence <= t.floor {
		return false
	}
	if _, seen := t.messages[m.ID]; seen {
		return false
	}
	t.messages[m.ID] = m
	if m.Sequence > t.lastSeq {
		t.lastSeq = m.Sequence
	}
	return true
}

// Apply folds a change event into the view. Only added message events change it.
func (t *Timeline) Apply(ev models.ChangeEvent) bool {
	if ev.Scope != models.ScopeMessage || ev.Kind != models.ChangeAdded || ev.Message == nil {
		return false
	}
	return t.Add(*ev.Message)
}

// Messages returns the view in sequence order.
func (t *Timeline) Messages() []models.Message {
	out := make([]models.Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, m)
	}
	models.SortMessages(out)
	return out
}

// LastSeq is the highest sequence seen, or the starting point if nothing arrived.
func (t *Timeline) LastSeq() int64 {
	return t.lastSeq
}

func (t *Timeline) Len() int {
	return len(t.messages)
}
