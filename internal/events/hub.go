package events

import (
	"sync"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/models"
)

const subscriberBuffer = 64

// Subscription receives events for one employee, or for everyone when the
// employee id is empty. C is closed by Unsubscribe or Hub.Close.
type Subscription struct {
	C <-chan models.Event

	ch         chan models.Event
	employeeID string
}

// Hub fans lifecycle events out to subscribers. Publishing never blocks; a
// subscriber that falls behind loses events.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	closed      bool
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*Subscription]struct{}),
		logger:      logger,
	}
}

func (h *Hub) Subscribe(employeeID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, employeeID: employeeID}
	if h.closed {
		close(ch)
		return sub
	}
	h.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Calling it
// twice is harmless.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.ch)
}

func (h *Hub) Publish(employeeID string, ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers {
		if sub.employeeID != "" && sub.employeeID != employeeID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				zap.String("employee_id", employeeID),
				zap.String("event", string(ev.Type)),
			)
		}
	}
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.ch)
	}
	h.subscribers = make(map[*Subscription]struct{})
}

// Subscribers reports how many subscriptions are open
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
