package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus. Subscribers register
// a namespace prefix and receive every event whose Kind starts with it.
type Bus struct {
	mu    sync.RWMutex
	sinks map[uint64]sink
	next  uint64
}

type sink struct {
	prefix string
	ch     chan Event
}

func (s sink) matches(kind string) bool {
	return strings.HasPrefix(kind, s.prefix)
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{sinks: make(map[uint64]sink)}
}

// Publish delivers evt to every matching subscriber. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event, so
// the publisher never stalls on a slow consumer.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		if !s.matches(evt.Kind) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber for the given namespace prefix with a
// channel buffer of bufSize. The returned function removes the
// subscription; the channel is never closed, so late reads simply block.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.sinks[id] = sink{prefix: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.sinks, id)
		b.mu.Unlock()
	}
}
