package api

import (
	"context"

	"boardsync/domain"
)

// Engine abstracts the mutation store for handlers.
type Engine interface {
	Create(ctx context.Context, sessionID, scope string, bucket domain.Bucket, fields domain.ItemFields, key string) (domain.Item, error)
	Update(ctx context.Context, scope, itemID string, patch domain.ItemPatch, expectedVersion int64) (domain.Item, error)
	Move(ctx context.Context, sessionID, scope, itemID string, destBucket domain.Bucket, targetRank int, key string) (domain.Item, error)
	Delete(ctx context.Context, scope, itemID string) error
	Snapshot(ctx context.Context, scope string) (domain.Board, error)
}

// Authenticator is implemented by types able to extract session identifiers
// from Authorization headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
