// Package feed pushes change events to every session observing a scope.
// Delivery is at-least-once and unordered across items; consumers are
// expected to be idempotent per item-version pair.
package feed

import (
	"context"

	"boardsync/domain"
)

// Handler consumes one change event.
type Handler func(domain.Event)

// Feed is the scope-keyed publish/subscribe contract. Subscribe returns an
// unsubscribe function that fully detaches before returning: once it
// returns, the handler will not be invoked again and all transport
// resources are released.
type Feed interface {
	Publish(ctx context.Context, ev domain.Event) error
	Subscribe(ctx context.Context, scope string, fn Handler) (func(), error)
}
