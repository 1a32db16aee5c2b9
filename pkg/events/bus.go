package events

import (
	"sync"
	"sync/atomic"

	"storepilot/pkg/logx"
)

// Handler receives events. It runs on the publishing goroutine.
type Handler func(Event)

type subscription struct {
	handler Handler
	active  atomic.Bool
}

// Bus is a synchronous publish/subscribe channel. Events are queued and
// drained FIFO; an event published from inside a handler is delivered after
// the current one finishes, so delivery is never reentrant.
type Bus struct {
	name string

	mu       sync.Mutex
	subs     []*subscription
	queue    []Event
	draining bool

	logger *logx.Logger
}

// NewBus creates an empty bus. name only appears in logs.
func NewBus(name string) *Bus {
	return &Bus{
		name:   name,
		logger: logx.NewLogger("bus:" + name),
	}
}

// Subscribe registers h and returns an idempotent unsubscribe func.
func (b *Bus) Subscribe(h Handler) func() {
	sub := &subscription{handler: h}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s == sub {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every subscriber in subscription order. If another
// goroutine is already draining the queue, e is appended and delivered there.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	b.queue = append(b.queue, e)
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		subs := append([]*subscription(nil), b.subs...)
		b.mu.Unlock()

		for _, s := range subs {
			if s.active.Load() {
				b.deliver(s, next)
			}
		}

		b.mu.Lock()
	}
	b.draining = false
	b.mu.Unlock()
}

func (b *Bus) deliver(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked on %s: %v", e.Kind, r)
		}
	}()
	s.handler(e)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Forward re-publishes everything from src on b and returns the unsubscribe
// func for the bridge.
func (b *Bus) Forward(src *Bus) func() {
	return src.Subscribe(b.Publish)
}
