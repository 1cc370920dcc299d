package feed

import (
	"context"
	"sync"

	"boardsync/domain"
)

// Broker is an in-process feed for single-instance deployments and tests.
// Dispatch is synchronous: Publish returns after every subscriber of the
// scope has seen the event, and unsubscribe blocks out any delivery that
// has not already started.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]Handler)}
}

func (b *Broker) Publish(_ context.Context, ev domain.Event) error {
	// Dispatch under the read lock so an unsubscribe (write lock) cannot
	// return while a delivery to its handler is still in flight.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, fn := range b.subs[ev.Scope] {
		fn(ev)
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, scope string, fn Handler) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	scoped, ok := b.subs[scope]
	if !ok {
		scoped = make(map[int]Handler)
		b.subs[scope] = scoped
	}
	scoped[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[scope], id)
		if len(b.subs[scope]) == 0 {
			delete(b.subs, scope)
		}
		b.mu.Unlock()
	}, nil
}
