package client

import (
	"log/slog"
	"sync"

	"github.com/shankarsingh077/Zeni/pkg/protocol"
)

// defaultSubscriberBuffer is the per-subscriber queue depth used when
// Subscribe is called with buf <= 0.
const defaultSubscriberBuffer = 64

// bus fans inbound events out to per-kind subscribers. Every subscriber owns
// an independent buffered channel, so a slow transcript consumer can never
// stall audio delivery. Publish preserves arrival order per subscriber; when
// a subscriber's queue is full the event is dropped for that subscriber only
// and a warning is logged.
type bus struct {
	mu   sync.Mutex
	subs map[protocol.Kind][]*subscription
}

type subscription struct {
	ch     chan protocol.Event
	cancel func()
}

func newBus() *bus {
	return &bus{subs: make(map[protocol.Kind][]*subscription)}
}

// subscribe registers a new consumer for events of the given kind and
// returns its receive channel plus a cancel function. Cancelling closes the
// channel; it is safe to call more than once.
func (b *bus) subscribe(kind protocol.Kind, buf int) (<-chan protocol.Event, func()) {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	sub := &subscription{ch: make(chan protocol.Event, buf)}

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			list := b.subs[kind]
			for i, s := range list {
				if s == sub {
					b.subs[kind] = append(list[:i], list[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	return sub.ch, sub.cancel
}

// publish delivers ev to every subscriber of its kind. Delivery is
// non-blocking and happens under the bus lock so a concurrent cancel cannot
// close a channel mid-send.
func (b *bus) publish(ev protocol.Event) {
	kind := ev.Kind()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[kind] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("event subscriber queue full, dropping event",
				"kind", kind.String(),
			)
		}
	}
}

// closeAll cancels every subscription. Used on client shutdown.
func (b *bus) closeAll() {
	b.mu.Lock()
	var all []*subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.cancel()
	}
}
