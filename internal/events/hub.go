package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Topic names published by the token pool.
const (
	TopicTokenAcquired = "token.acquired"
	TopicTokenReleased = "token.released"
	TopicTokenTimeout  = "token.timeout"
	TopicPoolRefreshed = "pool.refreshed"
	TopicStoreChanged  = "store.changed"

	// TopicAll receives every published event.
	TopicAll = "*"
)

// Event represents a published message on the event bus.
type Event struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Handler processes an incoming event.
type Handler func(context.Context, Event)

// Publisher exposes the ability to publish events to the hub.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, metadata map[string]string)
}

// Subscriber exposes subscription capabilities.
type Subscriber interface {
	Subscribe(topic string, handler Handler) func()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any, map[string]string) {}

// Hub is a lightweight in-process pub/sub event bus.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Handler
	nextID int64
}

// NewHub constructs a new empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int64]Handler),
	}
}

// Subscribe registers a handler for the given topic, or for every topic when
// topic is TopicAll. The returned function unsubscribes the handler.
func (h *Hub) Subscribe(topic string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[int64]Handler)
	}
	h.subs[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if listeners, ok := h.subs[topic]; ok {
				delete(listeners, id)
				if len(listeners) == 0 {
					delete(h.subs, topic)
				}
			}
		})
	}
}

// Publish dispatches an event synchronously to the topic's subscribers and to
// wildcard subscribers. A panicking handler is logged and does not stop delivery.
func (h *Hub) Publish(ctx context.Context, topic string, payload any, metadata map[string]string) {
	event := Event{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  metadata,
	}

	for _, handler := range h.snapshotHandlers(topic) {
		h.dispatch(ctx, handler, event)
	}
}

// Subscribers reports how many handlers would receive an event on topic.
func (h *Hub) Subscribers(topic string) int {
	return len(h.snapshotHandlers(topic))
}

func (h *Hub) dispatch(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"topic": event.Topic, "panic": r}).Error("event handler panicked")
		}
	}()
	handler(ctx, event)
}

func (h *Hub) snapshotHandlers(topic string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	listeners := h.subs[topic]
	var wildcard map[int64]Handler
	if topic != TopicAll {
		wildcard = h.subs[TopicAll]
	}
	if len(listeners)+len(wildcard) == 0 {
		return nil
	}

	out := make([]Handler, 0, len(listeners)+len(wildcard))
	for _, handler := range listeners {
		out = append(out, handler)
	}
	for _, handler := range wildcard {
		out = append(out, handler)
	}
	return out
}
