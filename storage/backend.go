package storage

import (
	"context"
	"errors"

	"boardsync/domain"
)

// ErrCASMismatch is returned by Backend.UpdateItem when the persisted
// version no longer matches the caller's expectation. The engine reloads
// and retries or surfaces domain.ErrVersionConflict depending on whether
// the caller pinned a version.
var ErrCASMismatch = errors.New("compare-and-swap mismatch")

// Backend is the minimal persistence contract the engine builds on: an
// atomic insert and an update that only applies when the current version
// matches.
type Backend interface {
	// InsertItem persists a new item. It fails if an item with the same
	// scope and id already exists.
	InsertItem(ctx context.Context, it domain.Item) error
	// UpdateItem replaces the stored item iff its current version equals
	// ifVersion, returning ErrCASMismatch otherwise.
	UpdateItem(ctx context.Context, it domain.Item, ifVersion int64) error
	// DeleteItem removes the item, returning domain.ErrNotFound if absent.
	DeleteItem(ctx context.Context, scope, id string) error
	// GetItem loads one item, returning domain.ErrNotFound if absent.
	GetItem(ctx context.Context, scope, id string) (domain.Item, error)
	// ListItems returns all items of a scope in unspecified order.
	ListItems(ctx context.Context, scope string) ([]domain.Item, error)
}
