// Package events carries overlay notifications to the hosting application:
// a location was selected, or a popup was shown or dismissed.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	LocationSelected Type = "location.selected"
	PopupOpened      Type = "popup.opened"
	PopupClosed      Type = "popup.closed"
)

// Event is one notification.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	LocationID string    `json:"location_id"`
	Time       time.Time `json:"time"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose queue is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	dropped uint64
	now     func() time.Time
}

// NewBus creates a bus. now defaults to time.Now.
func NewBus(now func() time.Time) *Bus {
	if now == nil {
		now = time.Now
	}
	return &Bus{subs: make(map[uint64]chan Event), now: now}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps and delivers an event, returning it.
func (b *Bus) Publish(t Type, locationID string) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       t,
		LocationID: locationID,
		Time:       b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
		}
	}
	return ev
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
