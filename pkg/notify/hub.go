package notify

import (
	"log/slog"
	"sync"

	"github.com/famulus-ai/famulus/pkg/models"
)

// subscriptionBuffer bounds the per-subscriber event queue. A subscriber
// that stops draining loses events past this depth and recovers from its
// next snapshot.
const subscriptionBuffer = 64

// Hub routes stream envelopes to the live subscriptions of each user. Every
// process has one hub; events published on other replicas arrive through
// the fanout listener, which broadcasts into the local hub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// NewHub creates an empty subscriber hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: slog.Default().With("component", "notify.hub"),
	}
}

func hubKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// attach registers a new subscription for a user. Events broadcast from
// this point on land in the subscription's buffer.
func (h *Hub) attach(tenantID, userID string) *Subscription {
	sub := &Subscription{
		hub:    h,
		key:    hubKey(tenantID, userID),
		events: make(chan *models.StreamEvent, subscriptionBuffer),
	}
	h.mu.Lock()
	set, ok := h.subs[sub.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sub.key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// detach removes a subscription. Broadcast holds the same lock during
// sends, so once detach returns no send can race the channel close.
func (h *Hub) detach(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.key]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.key)
	}
}

// Broadcast pushes an envelope to every live subscription of the user.
// Sends never block: a subscriber with a full buffer misses the event and
// is expected to resync from a fresh snapshot.
func (h *Hub) Broadcast(tenantID, userID string, ev *models.StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[hubKey(tenantID, userID)] {
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("subscriber buffer full, dropping stream event",
				"user_id", userID, "event_type", ev.Type)
		}
	}
}

// Subscribers returns the number of live subscriptions for a user.
func (h *Hub) Subscribers(tenantID, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[hubKey(tenantID, userID)])
}

// Subscription is one attached stream consumer.
type Subscription struct {
	hub      *Hub
	key      string
	events   chan *models.StreamEvent
	snapshot *models.StreamEvent
	once     sync.Once
}

// Snapshot returns the attach-time envelope: the unread count plus the
// newest items. Consumers send it before draining Events.
func (s *Subscription) Snapshot() *models.StreamEvent {
	return s.snapshot
}

// Events returns the incremental envelope channel. Close closes it.
func (s *Subscription) Events() <-chan *models.StreamEvent {
	return s.events
}

// Close detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.detach(s)
		close(s.events)
	})
}
