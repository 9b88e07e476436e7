package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

// DefaultHeartbeatInterval is the liveness ping period
const DefaultHeartbeatInterval = 30 * time.Second

var ErrHubClosed = errors.New("hub closed")

// Subscriber is one connected consumer of the broadcast channel.
// Send must not block.
type Subscriber interface {
	ID() string
	Send(notification model.Notification) error
	Close() error
}

// Hub fans notifications out to every registered subscriber
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]Subscriber
	lastEmitted time.Time
	closed      bool

	heartbeat time.Duration
	now       func() time.Time
	logger    outbound.Logger
}

func NewHub(heartbeat time.Duration, logger outbound.Logger) *Hub {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Hub{
		subscribers: make(map[string]Subscriber),
		heartbeat:   heartbeat,
		now:         time.Now,
		logger:      logger,
	}
}

// Register adds s and greets it with a ping so the client can confirm
// the channel is live
func (h *Hub) Register(s Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	// already registered, no second greeting
	if current, ok := h.subscribers[s.ID()]; ok && current == s {
		return nil
	}

	h.subscribers[s.ID()] = s
	h.logger.Info("Subscriber connected", "subscriber", s.ID(), "subscribers", len(h.subscribers))

	greeting := h.stampLocked(model.Notification{Category: model.Heartbeat})
	if err := s.Send(greeting); err != nil {
		h.dropLocked(s, err)
	}
	return nil
}

// Unregister removes and closes s; unknown subscribers are ignored
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.subscribers[s.ID()]
	if !ok || current != s {
		return
	}
	delete(h.subscribers, s.ID())
	_ = s.Close()

	h.logger.Info("Subscriber disconnected", "subscriber", s.ID(), "subscribers", len(h.subscribers))
}

// Publish delivers the notification to every subscriber registered at the
// time of the call. Subscribers that fail to accept it are dropped.
func (h *Hub) Publish(notification model.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	notification = h.stampLocked(notification)

	for _, id := range h.sortedIDsLocked() {
		s := h.subscribers[id]
		if err := s.Send(notification); err != nil {
			h.dropLocked(s, err)
		}
	}

	if notification.Category.IsData() {
		h.logger.Debug("Notification broadcast", "type", notification.Category.String(), "subscribers", len(h.subscribers))
	}
}

// Run emits a heartbeat every interval until ctx is done
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Publish(model.Notification{Category: model.Heartbeat})
		}
	}
}

// Count returns the number of registered subscribers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Closed reports whether the hub stopped accepting subscribers
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close disconnects every subscriber and rejects further registrations
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, s := range h.subscribers {
		_ = s.Close()
		delete(h.subscribers, id)
	}
	h.logger.Info("Broadcast hub closed")
}

// stampLocked keeps emission times non-decreasing across publishes
func (h *Hub) stampLocked(notification model.Notification) model.Notification {
	if notification.EmittedAt.IsZero() {
		notification.EmittedAt = h.now()
	}
	if notification.EmittedAt.Before(h.lastEmitted) {
		notification.EmittedAt = h.lastEmitted
	}
	h.lastEmitted = notification.EmittedAt
	return notification
}

func (h *Hub) dropLocked(s Subscriber, err error) {
	h.logger.Warn("Dropping subscriber", "subscriber", s.ID(), "error", err)
	delete(h.subscribers, s.ID())
	_ = s.Close()
}

// registration order is not tracked, ids give a stable iteration order
func (h *Hub) sortedIDsLocked() []string {
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
