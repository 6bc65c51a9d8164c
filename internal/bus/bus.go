package bus

import (
	"strings"
	"sync"
	"time"
)

// Well-known event kinds.
const (
	KindConnectivityOnline  = "connectivity.online"
	KindConnectivityOffline = "connectivity.offline"
	KindOutboxDelivered     = "outbox.delivered"
	KindOutboxDead          = "outbox.dead"
)

// Event is an in-process notification.
type Event struct {
	Kind    string
	At      time.Time
	Payload any
}

// Bus is an in-process publish/subscribe bus with prefix filtering. It ties
// the connectivity monitor to the outbox drain trigger without a direct
// dependency between the two.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers an event to every subscriber whose prefix matches
// event.Kind. Slow subscribers drop events rather than block the publisher.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving events whose kind starts with prefix,
// and an unsubscribe function.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
