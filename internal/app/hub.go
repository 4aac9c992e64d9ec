package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/core"
)

// defaultSubscriberDepth is the notification buffer of a subscriber.
const defaultSubscriberDepth = 64

type subscriber struct {
	ch chan core.Notification
}

// Hub fans session notifications out to user-facing surfaces.
type Hub struct {
	policy Policy

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		policy: policy,
		subs:   make(map[string]*subscriber),
	}
}

// Subscribe registers id and returns its notification channel and a function
// removing the subscription. Subscribing an existing id replaces it.
func (h *Hub) Subscribe(id string) (<-chan core.Notification, func()) {
	s := &subscriber{ch: make(chan core.Notification, defaultSubscriberDepth)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	if old, ok := h.subs[id]; ok {
		close(old.ch)
	}
	h.subs[id] = s
	log.Info().Str("module", "app.hub").Str("subscriber", id).Msg("subscribed")
	return s.ch, func() { h.remove(id, s) }
}

func (h *Hub) remove(id string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.subs[id]; ok && cur == s {
		delete(h.subs, id)
		close(s.ch)
		log.Info().Str("module", "app.hub").Str("subscriber", id).Msg("unsubscribed")
	}
}

// Publish delivers n to every subscriber and returns how many received it.
func (h *Hub) Publish(n core.Notification) int {
	var sent int
	var evict []string
	h.mu.RLock()
	for id, s := range h.subs {
		select {
		case s.ch <- n:
			sent++
		default:
			if h.policy.OnBackPressure(id, n) == EvictSubscriber {
				evict = append(evict, id)
			}
		}
	}
	h.mu.RUnlock()

	for _, id := range evict {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
		log.Warn().Str("module", "app.hub").Str("subscriber", id).Msg("evicted slow subscriber")
	}
	log.Debug().Str("module", "app.hub").Str("type", n.Type).Int("sent_to", sent).Int("evicted", len(evict)).Msg("publish result")
	return sent
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
