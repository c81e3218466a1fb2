package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/irisetthq/irisett/pkg/types"
)

// Bus is a pub/sub feed of transition events for live consumers such as the
// websocket endpoint. Slow subscribers lose events rather than stall publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan types.TransitionEvent
	bufferSize  int
	dropped     uint64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan types.TransitionEvent),
		bufferSize:  bufferSize,
	}
}

// Record publishes event to every subscriber.
func (b *Bus) Record(event types.TransitionEvent) {
	b.mu.RLock()
	var dropped uint64
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	b.mu.RUnlock()
	if dropped > 0 {
		b.mu.Lock()
		b.dropped += dropped
		b.mu.Unlock()
	}
}

// Subscribe registers a new subscriber and returns its channel together with a
// cancel function that unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan types.TransitionEvent, func()) {
	id := uuid.NewString()
	ch := make(chan types.TransitionEvent, b.bufferSize)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if ch, ok := b.subscribers[id]; ok {
				close(ch)
				delete(b.subscribers, id)
			}
		})
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
