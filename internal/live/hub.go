package live

import (
	"sync"
	"time"
)

// Event is one live update pushed to subscribers of a conversation.
type Event struct {
	Type           string `json:"type"` // "message.created", "typing.start", "typing.stop"
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Body           string `json:"body,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, conversationID string) Event {
	return Event{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

const subscriberBuffer = 16

// Subscriber receives events for one conversation until closed.
type Subscriber struct {
	C      chan Event
	convID string
	once   sync.Once
}

// Close releases the subscriber's channel. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.C) })
}

// Hub is an in-memory fan-out of conversation events. There is no replay:
// a late joiner only sees future events.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a listener for one conversation id.
func (h *Hub) Subscribe(conversationID string) *Subscriber {
	sub := &Subscriber{
		C:      make(chan Event, subscriberBuffer),
		convID: conversationID,
	}
	h.mu.Lock()
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if set, ok := h.subs[sub.convID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.convID)
		}
	}
	h.mu.Unlock()
	sub.Close()
}

// Publish delivers the event to every subscriber of the conversation.
// Publishing with no subscribers is a no-op. A subscriber whose buffer is
// full is pruned rather than allowed to block the others.
func (h *Hub) Publish(conversationID string, event Event) {
	h.mu.RLock()
	set, ok := h.subs[conversationID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	var stale []*Subscriber
	for sub := range set {
		select {
		case sub.C <- event:
		default:
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stale {
		h.Unsubscribe(sub)
	}
}

// SubscriberCount reports live subscribers for a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}
