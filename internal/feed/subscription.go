package feed

import (
	"sync"
	"sync/atomic"

	"chat-sync/internal/models"
)

// Subscription is one consumer's handle on the hub. Events are delivered on
// Events until the subscription is cancelled or evicted, after which the channel
// is closed.
type Subscription struct {
	hub     *Hub
	scope   string
	key     string
	events  chan models.ChangeEvent
	once    sync.Once
	evicted atomic.Bool
}

func newSubscription(h *Hub, scope, key string, buffer int) *Subscription {
	return &Subscription{
		hub:    h,
		scope:  scope,
		key:    key,
		events: make(chan models.ChangeEvent, buffer),
	}
}

func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.events
}

// Cancel detaches the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.events)
	})
}

// Evicted reports whether the hub dropped the subscription for falling behind.
func (s *Subscription) Evicted() bool {
	return s.evicted.Load()
}

func (s *Subscription) evict() {
	s.evicted.Store(true)
	s.Cancel()
}
