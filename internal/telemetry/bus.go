package telemetry

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Packet is one category slice of a flight-state snapshot.
type Packet struct {
	Category Category
	Payload  map[string]any
}

// Listener receives packets for one category. Listeners must treat the
// payload as read-only.
type Listener func(Packet)

// DefaultMaxListeners caps subscribers per category unless overridden.
const DefaultMaxListeners = 16

var ErrTooManyListeners = errors.New("telemetry: max listeners reached for category")

type subscriber struct {
	fn Listener
}

// Bus fans packets out to category subscribers. Delivery is synchronous and
// in-order; a panicking listener never prevents delivery to its siblings.
type Bus struct {
	log zerolog.Logger

	mu   sync.RWMutex
	max  int
	subs map[Category][]*subscriber
}

func newBus(log zerolog.Logger, max int) *Bus {
	if max <= 0 {
		max = DefaultMaxListeners
	}
	return &Bus{
		log:  log,
		max:  max,
		subs: make(map[Category][]*subscriber),
	}
}

// Subscribe registers fn for one category and returns an unsubscribe
// function. Packets published before the subscription are not replayed.
func (b *Bus) Subscribe(cat Category, fn Listener) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs[cat]) >= b.max {
		return nil, ErrTooManyListeners
	}
	s := &subscriber{fn: fn}
	b.subs[cat] = append(b.subs[cat], s)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[cat]
		for i, cur := range list {
			if cur == s {
				b.subs[cat] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
	return unsub, nil
}

// ListenerCount reports current subscribers for a category.
func (b *Bus) ListenerCount(cat Category) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[cat])
}

// Publish delivers p to every subscriber registered for p.Category at call
// time.
func (b *Bus) Publish(p Packet) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[p.Category]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, p)
	}
}

func (b *Bus) deliver(s *subscriber, p Packet) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("category", string(p.Category)).
				Interface("panic", r).
				Msg("listener panicked, continuing dispatch")
		}
	}()
	s.fn(p)
}
