// Package feed fans change events out to live subscribers and de-duplicates them
// on the consuming side.
package feed

import (
	"sync"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const DefaultBuffer = 64

const (
	scopeConversation = "conversation"
	scopeUser         = "user"
)

// Hub routes change events to conversation and user subscriptions.
type Hub struct {
	conversations map[string]map[*Subscription]struct{}
	users         map[string]map[*Subscription]struct{}
	buffer        int
	log           *zap.Logger
	mu            sync.RWMutex
}

// NewHub creates an empty hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conversations: make(map[string]map[*Subscription]struct{}),
		users:         make(map[string]map[*Subscription]struct{}),
		buffer:        buffer,
		log:           log,
	}
}

// Subscribe follows the messages and lifecycle of one conversation.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	return h.add(scopeConversation, conversationID, h.conversations)
}

// SubscribeUser follows every conversation the user is a member of.
func (h *Hub) SubscribeUser(userID string) *Subscription {
	return h.add(scopeUser, userID, h.users)
}

func (h *Hub) add(scope, key string, rooms map[string]map[*Subscription]struct{}) *Subscription {
	sub := newSubscription(h, scope, key, h.buffer)

	h.mu.Lock()
	if _, ok := rooms[key]; !ok {
		rooms[key] = make(map[*Subscription]struct{})
	}
	rooms[key][sub] = struct{}{}
	h.mu.Unlock()

	observability.IncFeedSubscriptions(scope)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	rooms := h.conversations
	if sub.scope == scopeUser {
		rooms = h.users
	}

	h.mu.Lock()
	if subs, ok := rooms[sub.key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(rooms, sub.key)
		}
	}
	h.mu.Unlock()

	observability.DecFeedSubscriptions(sub.scope)
}

// Dispatch delivers ev without blocking. Message events reach the conversation's
// subscribers; conversation events also reach every member's user subscriptions.
// A subscriber whose buffer is full is evicted and must resync.
func (h *Hub) Dispatch(ev models.ChangeEvent) {
	var slow []*Subscription

	h.mu.RLock()
	slow = deliver(h.conversations[ev.ConversationID], ev, slow)
	if ev.Scope == models.ScopeConversation {
		for _, member := range ev.Members {
			slow = deliver(h.users[member], ev, slow)
		}
	}
	h.mu.RUnlock()

	observability.IncFeedDispatched(string(ev.Scope), string(ev.Kind))
	for _, sub := range slow {
		h.log.Warn("evicting slow subscriber",
			zap.String("scope", sub.scope),
			zap.String("key", sub.key),
			zap.String("conversation_id", ev.ConversationID))
		observability.IncFeedEviction(sub.scope)
		sub.evict()
	}
}

func deliver(subs map[*Subscription]struct{}, ev models.ChangeEvent, slow []*Subscription) []*Subscription {
	for sub := range subs {
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	return slow
}

// Counts reports the number of conversation and user subscriptions.
func (h *Hub) Counts() (conversations, users int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, subs := range h.conversations {
		conversations += len(subs)
	}
	for _, subs := range h.users {
		users += len(subs)
	}
	return conversations, users
}
